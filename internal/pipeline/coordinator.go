// Package pipeline orchestrates the per-email stage sequence:
// classify, then draft or extract+schedule depending on intent, then
// notify. The ledger guards every side-effecting stage so a crashed or
// repeated run never duplicates a draft, event, or notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mailpilot/internal/bus"
	"mailpilot/internal/domain"
	"mailpilot/internal/metrics"

	"github.com/google/uuid"
)

const retriesExhaustedPrefix = "retries exhausted: "

// Classifier decides what an email asks for.
type Classifier interface {
	Classify(email domain.Email) domain.Intent
}

// Drafter produces a reply draft.
type Drafter interface {
	Draft(ctx context.Context, email domain.Email, intent domain.Intent) (*domain.DraftResponse, error)
}

// Extractor pulls a candidate event out of a meeting request. A nil
// result means no confident guess; the pipeline never schedules on a
// guess.
type Extractor interface {
	Extract(email domain.Email) *domain.CandidateEvent
}

// Archiver persists processed emails and drafts for later inspection.
type Archiver interface {
	SaveEmail(ctx context.Context, e domain.Email) error
	SaveDraft(ctx context.Context, d domain.DraftResponse) error
}

// Formatter renders the outcome into the notification text.
type Formatter func(domain.PipelineOutcome) string

// Config wires a Coordinator.
type Config struct {
	Mailbox    domain.Mailbox
	Ledger     domain.Ledger
	Archive    Archiver // optional
	Classifier Classifier
	Drafter    Drafter
	Extractor  Extractor
	Calendar   domain.Calendar
	Slots      domain.SlotSuggester // optional, conflict suggestions
	Chat       domain.Chat
	Format     Formatter
	Bus        *bus.EventBus // optional
	Logger     *slog.Logger

	Workers         int
	MaxEmailsPerRun int
	StageTimeout    time.Duration
	Retry           RetryPolicy
}

// Coordinator runs batches of emails through the pipeline.
type Coordinator struct {
	cfg   Config
	locks keyedLocks
}

func New(cfg Config) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.MaxEmailsPerRun < 1 {
		cfg.MaxEmailsPerRun = 20
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:   cfg,
		locks: keyedLocks{held: make(map[string]*lockEntry)},
	}
}

// stagePlan maps each intent to the stages it needs. Notify is always
// appended afterwards: the user hears about every email, including
// failed ones.
var stagePlan = map[domain.IntentKind][]domain.Stage{
	domain.IntentNeedsReply:     {domain.StageDraft},
	domain.IntentMeetingRequest: {domain.StageExtract, domain.StageSchedule},
	domain.IntentInformational:  nil,
	domain.IntentIgnorable:      nil,
}

// RunBatch fetches unseen emails and processes them concurrently,
// bounded by the worker count. Stage order within one email is strict;
// distinct emails are independent.
func (c *Coordinator) RunBatch(ctx context.Context) ([]domain.PipelineOutcome, error) {
	emails, err := c.cfg.Mailbox.FetchUnseen(ctx, c.cfg.MaxEmailsPerRun)
	if err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}
	c.emit(bus.Event{Type: bus.EventRunStarted, Payload: map[string]any{"emails": len(emails)}})
	if len(emails) == 0 {
		c.emit(bus.Event{Type: bus.EventRunFinished, Payload: map[string]any{"emails": 0}})
		return nil, nil
	}

	outcomes := make([]domain.PipelineOutcome, len(emails))
	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email domain.Email) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Serialize work on the same email id: replays and
			// overlapping runs must not race the ledger.
			unlock := c.locks.lock(email.ID)
			defer unlock()

			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()

			outcomes[i] = c.processEmail(ctx, email)
		}(i, email)
	}
	wg.Wait()

	c.emit(bus.Event{Type: bus.EventRunFinished, Payload: map[string]any{"emails": len(emails)}})
	return outcomes, nil
}

// ProcessOne runs a single already-fetched email through the pipeline.
func (c *Coordinator) ProcessOne(ctx context.Context, email domain.Email) domain.PipelineOutcome {
	unlock := c.locks.lock(email.ID)
	defer unlock()
	return c.processEmail(ctx, email)
}

func (c *Coordinator) processEmail(ctx context.Context, email domain.Email) domain.PipelineOutcome {
	log := c.cfg.Logger.With("email", email.ID)
	log.Info("processing email", "sender", email.Sender, "subject", email.Subject)
	c.emit(bus.Event{Type: bus.EventEmailStarted, EmailID: email.ID})
	metrics.EmailsTotal.Inc()

	if c.cfg.Archive != nil {
		if err := c.cfg.Archive.SaveEmail(ctx, email); err != nil {
			log.Warn("archive email failed", "err", err)
		}
	}

	out := domain.PipelineOutcome{
		EmailID: email.ID,
		Sender:  email.Sender,
		Subject: email.Subject,
	}

	intent, classifyResult := c.runClassify(ctx, email)
	out.Intent = intent
	out.Stages = append(out.Stages, classifyResult)

	upstreamFailed := false
	for _, stage := range stagePlan[intent.Kind] {
		if upstreamFailed {
			out.Stages = append(out.Stages, c.failDependent(ctx, email.ID, stage))
			continue
		}
		var result domain.StageResult
		switch stage {
		case domain.StageExtract:
			result = c.runExtract(ctx, email, &out)
		case domain.StageDraft:
			result = c.runDraft(ctx, email, intent, &out)
		case domain.StageSchedule:
			result = c.runSchedule(ctx, email, &out)
		}
		out.Stages = append(out.Stages, result)
		if result.Outcome == domain.OutcomeFailedTerminal {
			upstreamFailed = true
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Notify runs last no matter what happened upstream.
	if ctx.Err() == nil {
		out.Stages = append(out.Stages, c.runNotify(ctx, email, &out))
	}

	c.settle(ctx, email, &out, log)
	c.emit(bus.Event{Type: bus.EventEmailSettled, EmailID: email.ID, Payload: map[string]any{"intent": string(intent.Kind)}})
	return out
}

// settle marks the email processed in the mailbox once every stage of
// this run reached a frozen outcome. A pending stage (cancellation,
// retryable failure mid-budget) keeps the email unseen so the next run
// picks it up again.
func (c *Coordinator) settle(ctx context.Context, email domain.Email, out *domain.PipelineOutcome, log *slog.Logger) {
	// A cancelled run never settles: notify did not get its turn, and
	// marking the email seen now would orphan the notification forever.
	if ctx.Err() != nil {
		log.Info("run cancelled, leaving unseen")
		return
	}
	for _, r := range out.Stages {
		if !r.Skipped && !r.Outcome.Settled() {
			log.Info("email not settled, leaving unseen", "stage", r.Stage, "outcome", r.Outcome)
			return
		}
	}
	if err := c.cfg.Mailbox.MarkProcessed(ctx, email.ID); err != nil {
		// The ledger still guards replays, so the worst case is a
		// redundant fetch next run.
		log.Warn("mark processed failed", "err", err)
	}
}

// runClassify is pure and deterministic, so replays recompute instead
// of re-reading the ledger. The intent token is still recorded once
// for audit.
func (c *Coordinator) runClassify(ctx context.Context, email domain.Email) (domain.Intent, domain.StageResult) {
	intent := c.cfg.Classifier.Classify(email)
	token := fmt.Sprintf("%s/%.2f", intent.Kind, intent.Confidence)
	result := domain.StageResult{
		Stage:      domain.StageClassify,
		Outcome:    domain.OutcomeSucceeded,
		ExternalID: token,
	}

	rec, err := c.cfg.Ledger.Get(ctx, email.ID, domain.StageClassify)
	if err != nil {
		c.cfg.Logger.Warn("ledger read failed", "email", email.ID, "stage", "classify", "err", err)
		return intent, result
	}
	if rec != nil && rec.Outcome.Settled() {
		result.Skipped = true
		result.Attempts = rec.Attempts
		return intent, result
	}

	if _, err := c.cfg.Ledger.BeginAttempt(ctx, email.ID, domain.StageClassify); err == nil {
		if err := c.cfg.Ledger.MarkSucceeded(ctx, email.ID, domain.StageClassify, token); err != nil {
			c.cfg.Logger.Warn("ledger write failed", "email", email.ID, "stage", "classify", "err", err)
		}
	}
	result.Attempts = 1
	return intent, result
}

// runExtract is pure like classify. A nil candidate is a success with
// the "no-event" marker; schedule skips on it.
func (c *Coordinator) runExtract(ctx context.Context, email domain.Email, out *domain.PipelineOutcome) domain.StageResult {
	event := c.cfg.Extractor.Extract(email)
	out.Event = event
	token := "no-event"
	if event != nil {
		token = fmt.Sprintf("event/%s", event.Start.Format(time.RFC3339))
	}
	result := domain.StageResult{
		Stage:      domain.StageExtract,
		Outcome:    domain.OutcomeSucceeded,
		ExternalID: token,
	}

	rec, err := c.cfg.Ledger.Get(ctx, email.ID, domain.StageExtract)
	if err != nil {
		c.cfg.Logger.Warn("ledger read failed", "email", email.ID, "stage", "extract", "err", err)
		return result
	}
	if rec != nil && rec.Outcome.Settled() {
		result.Skipped = true
		result.Attempts = rec.Attempts
		return result
	}

	if _, err := c.cfg.Ledger.BeginAttempt(ctx, email.ID, domain.StageExtract); err == nil {
		if err := c.cfg.Ledger.MarkSucceeded(ctx, email.ID, domain.StageExtract, token); err != nil {
			c.cfg.Logger.Warn("ledger write failed", "email", email.ID, "stage", "extract", "err", err)
		}
	}
	result.Attempts = 1
	return result
}

func (c *Coordinator) runDraft(ctx context.Context, email domain.Email, intent domain.Intent, out *domain.PipelineOutcome) domain.StageResult {
	return c.runGuarded(ctx, email.ID, domain.StageDraft, out, func(stageCtx context.Context) (string, error) {
		draft, err := c.cfg.Drafter.Draft(stageCtx, email, intent)
		if err != nil {
			return "", err
		}
		out.Draft = draft
		if c.cfg.Archive != nil {
			if err := c.cfg.Archive.SaveDraft(stageCtx, *draft); err != nil {
				c.cfg.Logger.Warn("archive draft failed", "email", email.ID, "err", err)
			}
		}
		metrics.DraftsTotal.Inc()
		return uuid.New().String(), nil
	})
}

func (c *Coordinator) runSchedule(ctx context.Context, email domain.Email, out *domain.PipelineOutcome) domain.StageResult {
	if out.Event == nil {
		// Nothing extractable: scheduling on a guess is forbidden.
		rec, _ := c.cfg.Ledger.Get(ctx, email.ID, domain.StageSchedule)
		if rec != nil && rec.Outcome == domain.OutcomeSucceeded {
			out.EventID = rec.ExternalID
			return domain.StageResult{
				Stage: domain.StageSchedule, Outcome: rec.Outcome,
				Attempts: rec.Attempts, ExternalID: rec.ExternalID, Skipped: true,
			}
		}
		return domain.StageResult{Stage: domain.StageSchedule, Outcome: domain.OutcomeSucceeded, Skipped: true}
	}

	result := c.runGuarded(ctx, email.ID, domain.StageSchedule, out, func(stageCtx context.Context) (string, error) {
		if c.cfg.Calendar == nil {
			return "", domain.Terminal(errors.New("calendar is not configured"))
		}
		id, err := c.cfg.Calendar.CreateEvent(stageCtx, *out.Event)
		if err != nil {
			return "", err
		}
		metrics.EventsScheduled.Inc()
		return id, nil
	})

	if result.Outcome == domain.OutcomeSucceeded {
		out.EventID = result.ExternalID
	}
	if result.Outcome == domain.OutcomeFailedTerminal && strings.Contains(result.Err, domain.ErrCalendarConflict.Error()) {
		c.suggestSlots(ctx, out)
	}
	return result
}

// suggestSlots is best-effort enrichment after a conflict; its own
// failure only loses the suggestion.
func (c *Coordinator) suggestSlots(ctx context.Context, out *domain.PipelineOutcome) {
	if c.cfg.Slots == nil || out.Event == nil {
		return
	}
	slots, err := c.cfg.Slots.FreeSlots(ctx, out.Event.Start, out.Event.End.Sub(out.Event.Start))
	if err != nil {
		c.cfg.Logger.Warn("free slot lookup failed", "email", out.EmailID, "err", err)
		return
	}
	out.SuggestedSlots = slots
}

func (c *Coordinator) runNotify(ctx context.Context, email domain.Email, out *domain.PipelineOutcome) domain.StageResult {
	text := c.cfg.Format(*out)
	result := c.runGuarded(ctx, email.ID, domain.StageNotify, out, func(stageCtx context.Context) (string, error) {
		if err := c.cfg.Chat.PostMessage(stageCtx, text); err != nil {
			return "", err
		}
		metrics.NotificationsSent.Inc()
		return uuid.New().String(), nil
	})
	return result
}

// runGuarded executes one side-effecting stage under the ledger's
// at-most-once guarantee, with bounded retry for transient failures.
func (c *Coordinator) runGuarded(ctx context.Context, emailID string, stage domain.Stage, out *domain.PipelineOutcome, fn func(context.Context) (string, error)) domain.StageResult {
	log := c.cfg.Logger.With("email", emailID, "stage", string(stage))

	for {
		rec, err := c.cfg.Ledger.Get(ctx, emailID, stage)
		if err != nil {
			log.Error("ledger read failed", "err", err)
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedRetryable, Err: fmt.Sprintf("ledger: %v", err)}
		}
		if rec != nil {
			switch {
			case rec.Outcome == domain.OutcomeSucceeded:
				// Side effect already happened; never repeat it.
				log.Info("stage already succeeded, reusing", "externalId", rec.ExternalID)
				return domain.StageResult{Stage: stage, Outcome: domain.OutcomeSucceeded, Attempts: rec.Attempts, ExternalID: rec.ExternalID, Skipped: true}
			case rec.Outcome == domain.OutcomeFailedTerminal:
				if strings.HasPrefix(rec.Error, retriesExhaustedPrefix) {
					out.NeedsManualRetry = true
				}
				return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedTerminal, Attempts: rec.Attempts, Err: rec.Error}
			case rec.Outcome == domain.OutcomeFailedRetryable && rec.Attempts >= c.cfg.Retry.MaxAttempts:
				cause := retriesExhaustedPrefix + rec.Error
				if err := c.cfg.Ledger.MarkFailed(ctx, emailID, stage, domain.OutcomeFailedTerminal, cause); err != nil {
					log.Error("ledger write failed", "err", err)
				}
				out.NeedsManualRetry = true
				metrics.StageFailuresTotal.Inc()
				c.emit(bus.Event{Type: bus.EventStageFailed, EmailID: emailID, Payload: map[string]any{"stage": string(stage), "cause": cause}})
				return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedTerminal, Attempts: rec.Attempts, Err: cause}
			}
		}

		rec, err = c.cfg.Ledger.BeginAttempt(ctx, emailID, stage)
		if errors.Is(err, domain.ErrStageSettled) {
			continue // settled between Get and BeginAttempt, re-read
		}
		if err != nil {
			log.Error("ledger begin attempt failed", "err", err)
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedRetryable, Err: fmt.Sprintf("ledger: %v", err)}
		}
		metrics.StageAttemptsTotal.Inc()
		c.emit(bus.Event{Type: bus.EventStageAttempt, EmailID: emailID, Payload: map[string]any{"stage": string(stage), "attempt": rec.Attempts}})

		stageCtx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
		started := time.Now()
		externalID, stageErr := fn(stageCtx)
		cancel()
		metrics.StageLatency.Observe(time.Since(started).Seconds())

		if stageErr == nil {
			if err := c.cfg.Ledger.MarkSucceeded(ctx, emailID, stage, externalID); err != nil {
				log.Error("ledger write failed", "err", err)
			}
			c.emit(bus.Event{Type: bus.EventStageSucceeded, EmailID: emailID, Payload: map[string]any{"stage": string(stage)}})
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeSucceeded, Attempts: rec.Attempts, ExternalID: externalID}
		}

		// Run cancellation is not a stage verdict: the record stays
		// pending and the next run re-attempts.
		if ctx.Err() != nil {
			log.Info("run cancelled mid-stage", "attempt", rec.Attempts)
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomePending, Attempts: rec.Attempts, Err: ctx.Err().Error()}
		}

		retryable := (domain.IsTransient(stageErr) || errors.Is(stageErr, context.DeadlineExceeded)) && !domain.IsTerminal(stageErr)
		if !retryable {
			// Unclassified counts as terminal: guessing retryable risks
			// the duplicate side effect the ledger exists to prevent.
			if err := c.cfg.Ledger.MarkFailed(ctx, emailID, stage, domain.OutcomeFailedTerminal, stageErr.Error()); err != nil {
				log.Error("ledger write failed", "err", err)
			}
			metrics.StageFailuresTotal.Inc()
			c.emit(bus.Event{Type: bus.EventStageFailed, EmailID: emailID, Payload: map[string]any{"stage": string(stage), "cause": stageErr.Error()}})
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedTerminal, Attempts: rec.Attempts, Err: stageErr.Error()}
		}

		if rec.Attempts >= c.cfg.Retry.MaxAttempts {
			cause := retriesExhaustedPrefix + stageErr.Error()
			if err := c.cfg.Ledger.MarkFailed(ctx, emailID, stage, domain.OutcomeFailedTerminal, cause); err != nil {
				log.Error("ledger write failed", "err", err)
			}
			out.NeedsManualRetry = true
			metrics.StageFailuresTotal.Inc()
			c.emit(bus.Event{Type: bus.EventStageFailed, EmailID: emailID, Payload: map[string]any{"stage": string(stage), "cause": cause}})
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedTerminal, Attempts: rec.Attempts, Err: cause}
		}

		if err := c.cfg.Ledger.MarkFailed(ctx, emailID, stage, domain.OutcomeFailedRetryable, stageErr.Error()); err != nil {
			log.Error("ledger write failed", "err", err)
		}
		delay := c.cfg.Retry.Delay(rec.Attempts)
		log.Warn("stage failed, will retry", "attempt", rec.Attempts, "backoff", delay, "err", stageErr)
		if err := sleep(ctx, delay); err != nil {
			return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedRetryable, Attempts: rec.Attempts, Err: stageErr.Error()}
		}
	}
}

// failDependent freezes a downstream stage after an upstream terminal
// failure, so a later replay reports the same verdict instead of
// running half a pipeline.
func (c *Coordinator) failDependent(ctx context.Context, emailID string, stage domain.Stage) domain.StageResult {
	cause := "upstream stage failed"
	rec, err := c.cfg.Ledger.Get(ctx, emailID, stage)
	if err == nil && rec != nil && rec.Outcome.Settled() {
		return domain.StageResult{Stage: stage, Outcome: rec.Outcome, Attempts: rec.Attempts, ExternalID: rec.ExternalID, Err: rec.Error, Skipped: true}
	}
	if _, err := c.cfg.Ledger.BeginAttempt(ctx, emailID, stage); err == nil {
		if err := c.cfg.Ledger.MarkFailed(ctx, emailID, stage, domain.OutcomeFailedTerminal, cause); err != nil {
			c.cfg.Logger.Error("ledger write failed", "email", emailID, "stage", string(stage), "err", err)
		}
	}
	return domain.StageResult{Stage: stage, Outcome: domain.OutcomeFailedTerminal, Err: cause}
}

func (c *Coordinator) emit(event bus.Event) {
	if c.cfg.Bus != nil {
		c.cfg.Bus.Emit(event)
	}
}

// keyedLocks serializes processing per email id. Entries are
// refcounted and evicted once the last holder releases, so a
// long-running daemon does not accumulate one mutex per email seen.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	e, ok := k.held[id]
	if !ok {
		e = &lockEntry{}
		k.held[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.held, id)
		}
		k.mu.Unlock()
	}
}
