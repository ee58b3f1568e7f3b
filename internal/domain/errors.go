package domain

import "errors"

// Failure taxonomy. Every error crossing a stage boundary is one of:
//   - transient: network faults, timeouts, rate limits — retried up to
//     the cap, then frozen as failed-terminal ("needs manual retry").
//   - terminal: malformed input, policy rejection, provider-reported
//     conflict — never retried.
//   - degraded: optional-enrichment failure (search down) — the
//     pipeline proceeds without the enrichment.
// Unclassified errors are treated as terminal: guessing "retryable"
// risks a duplicate side effect, which is the one thing the ledger
// exists to prevent.

// TransientError marks a failure that may succeed on retry.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a failure that must never be retried.
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// DegradedError marks an optional-enrichment failure.
type DegradedError struct{ Err error }

func (e *DegradedError) Error() string { return e.Err.Error() }
func (e *DegradedError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Terminal wraps err as never-retryable. Returns nil for nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Degraded wraps err as an enrichment failure. Returns nil for nil.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &DegradedError{Err: err}
}

// IsTransient reports whether err is tagged retryable anywhere in its
// chain.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsTerminal reports whether err is tagged never-retryable.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// IsDegraded reports whether err is an enrichment failure.
func IsDegraded(err error) bool {
	var d *DegradedError
	return errors.As(err, &d)
}

// Provider failure kinds. Adapters wrap these with the matching
// category so the coordinator can route on either the sentinel or the
// category.
var (
	ErrInferenceUnavailable = errors.New("inference backend unavailable")
	ErrInferenceRejected    = errors.New("inference request rejected")
	ErrCalendarConflict     = errors.New("calendar event conflict")
	ErrCalendarTransient    = errors.New("calendar provider unavailable")
	ErrChatTransient        = errors.New("chat provider unavailable")
	ErrSearchUnavailable    = errors.New("search provider unavailable")
)
