package domain

import (
	"fmt"
	"time"
)

// Email is one inbound message as fetched from the mailbox provider.
// It is immutable once fetched; the pipeline owns it for the duration
// of processing and never writes back to it.
type Email struct {
	// ID is the provider-assigned stable identifier. It is the sole
	// deduplication key for the pipeline ledger.
	ID         string
	ThreadID   string
	Sender     string
	Recipients []string
	CC         []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// DraftResponse is a generated reply awaiting human approval. The core
// never sends it; it is handed to the UI collaborator.
type DraftResponse struct {
	EmailID     string
	Text        string
	Model       string
	Temperature float64
	MaxTokens   int
	CreatedAt   time.Time
}

// CandidateEvent is an unconfirmed meeting proposal extracted from an
// email, prior to calendar creation.
type CandidateEvent struct {
	EmailID    string
	Title      string
	Start      time.Time
	End        time.Time
	Attendees  []string // may be empty (self-only event), never nil
	Location   string
	Confidence float64
}

// Validate checks the structural invariants of a candidate event.
func (e *CandidateEvent) Validate() error {
	if e.EmailID == "" {
		return fmt.Errorf("candidate event: missing email id")
	}
	if !e.Start.Before(e.End) {
		return fmt.Errorf("candidate event: start %s is not before end %s", e.Start, e.End)
	}
	if e.Attendees == nil {
		return fmt.Errorf("candidate event: attendee list is nil")
	}
	return nil
}
