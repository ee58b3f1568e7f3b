package domain

import (
	"context"
	"time"
)

// Mailbox is the email provider the pipeline pulls from. Fetch is safe
// to call repeatedly; deduplication is the ledger's job, not the
// provider's.
type Mailbox interface {
	// FetchUnseen returns up to max unseen emails without marking them
	// seen.
	FetchUnseen(ctx context.Context, max int) ([]Email, error)
	// MarkProcessed flags the email as handled on the provider side.
	MarkProcessed(ctx context.Context, emailID string) error
}

// GenerateParams are the tunables for one inference call.
type GenerateParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Inference is the language-model backend: prompt in, text out. Each
// Generate call is billable; the coordinator owns retries.
type Inference interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
	Name() string
	Healthy(ctx context.Context) error
}

// Calendar is the calendar provider consumed by the scheduler stage.
type Calendar interface {
	// CreateEvent books the event and returns the provider-assigned id.
	CreateEvent(ctx context.Context, event CandidateEvent) (string, error)
}

// Chat is the notification channel the pipeline posts summaries to.
type Chat interface {
	Name() string
	PostMessage(ctx context.Context, text string) error
}

// Snippet is one web-search result used as drafting context.
type Snippet struct {
	Title string
	Text  string
	URL   string
}

// Search is the best-effort enrichment provider. Failure degrades
// drafting quality but never fails the pipeline.
type Search interface {
	Search(ctx context.Context, query string, max int) ([]Snippet, error)
}

// SlotSuggester lists free calendar windows, used to offer alternative
// times after a scheduling conflict.
type SlotSuggester interface {
	FreeSlots(ctx context.Context, day time.Time, duration time.Duration) ([]string, error)
}
