package domain

import (
	"context"
	"errors"
	"time"
)

// Stage is one step of the fixed pipeline.
type Stage string

const (
	StageClassify Stage = "classify"
	StageDraft    Stage = "draft"
	StageExtract  Stage = "extract"
	StageSchedule Stage = "schedule"
	StageNotify   Stage = "notify"
)

// Stages lists all pipeline stages in execution order.
var Stages = []Stage{StageClassify, StageDraft, StageExtract, StageSchedule, StageNotify}

// StageOutcome is the recorded state of one (email, stage) pair.
// Outcomes only move forward: pending → succeeded | failed-retryable |
// failed-terminal, and failed-retryable → pending (next attempt) or a
// terminal state. succeeded and failed-terminal are frozen.
type StageOutcome string

const (
	OutcomePending         StageOutcome = "pending"
	OutcomeSucceeded       StageOutcome = "succeeded"
	OutcomeFailedRetryable StageOutcome = "failed-retryable"
	OutcomeFailedTerminal  StageOutcome = "failed-terminal"
)

// Settled reports whether the outcome is frozen and the stage must
// never be re-executed.
func (o StageOutcome) Settled() bool {
	return o == OutcomeSucceeded || o == OutcomeFailedTerminal
}

// PipelineRecord is one ledger entry, keyed by (email id, stage).
type PipelineRecord struct {
	EmailID     string
	Stage       Stage
	Outcome     StageOutcome
	Attempts    int
	LastAttempt time.Time
	// ExternalID holds the provider-returned identifier when the stage
	// produced one (calendar event id, chat message timestamp) or a
	// short result token for pure stages (the classified intent).
	ExternalID string
	Error      string
}

// ErrStageSettled is returned by Ledger.BeginAttempt when the record is
// already in a frozen outcome and must not be attempted again.
var ErrStageSettled = errors.New("stage already settled")

// ErrInvalidTransition is returned when a ledger write would move an
// outcome backwards (e.g. succeeding a failed-terminal record).
var ErrInvalidTransition = errors.New("invalid outcome transition")

// Ledger is the durable idempotency record. It is the single source of
// truth for "has this side effect already happened"; in-memory flags
// vanish on restart, the ledger does not.
type Ledger interface {
	// Get returns the record for the key, or nil when absent.
	Get(ctx context.Context, emailID string, stage Stage) (*PipelineRecord, error)
	// BeginAttempt transitions the record to pending and increments the
	// attempt counter. It fails with ErrStageSettled when the record is
	// frozen.
	BeginAttempt(ctx context.Context, emailID string, stage Stage) (*PipelineRecord, error)
	// MarkSucceeded freezes the record as succeeded, storing the
	// external id when one was produced.
	MarkSucceeded(ctx context.Context, emailID string, stage Stage, externalID string) error
	// MarkFailed records a retryable or terminal failure.
	MarkFailed(ctx context.Context, emailID string, stage Stage, outcome StageOutcome, cause string) error
}

// StageResult reports the final state of one stage within a batch run.
type StageResult struct {
	Stage      Stage
	Outcome    StageOutcome
	Attempts   int
	ExternalID string
	Err        string
	// Skipped is set when the stage was not executed in this run:
	// either its result was reused from the ledger, or the intent did
	// not require it.
	Skipped bool
}

// PipelineOutcome is the per-email result of a batch run, reported to
// the caller and rendered by the notifier.
type PipelineOutcome struct {
	EmailID string
	Sender  string
	Subject string
	Intent  Intent
	Stages  []StageResult
	// Draft is the generated reply, when the draft stage ran or its
	// text was available in this run.
	Draft *DraftResponse
	// Event is the extracted candidate, when extraction produced one.
	Event *CandidateEvent
	// EventID is the external calendar event id after scheduling.
	EventID string
	// NeedsManualRetry is set when a stage exhausted its retry budget;
	// the ledger holds failed-terminal but the operator may clear it.
	NeedsManualRetry bool
	// SuggestedSlots lists free calendar windows offered after a
	// scheduling conflict.
	SuggestedSlots []string
}

// Result returns the recorded result for a stage, or nil when the
// stage was not part of this email's plan.
func (o *PipelineOutcome) Result(stage Stage) *StageResult {
	for i := range o.Stages {
		if o.Stages[i].Stage == stage {
			return &o.Stages[i]
		}
	}
	return nil
}

// FirstFailure returns the first stage that ended failed-terminal, or
// nil when every executed stage succeeded.
func (o *PipelineOutcome) FirstFailure() *StageResult {
	for i := range o.Stages {
		if o.Stages[i].Outcome == OutcomeFailedTerminal {
			return &o.Stages[i]
		}
	}
	return nil
}
