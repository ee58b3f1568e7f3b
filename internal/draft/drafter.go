// Package draft generates reply text for needs-reply emails via the
// inference backend, optionally grounded by web-search snippets.
package draft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mailpilot/internal/domain"
)

// Config tunes the drafter.
type Config struct {
	// MaxBodyRunes bounds how much of the email body goes into the
	// prompt.
	MaxBodyRunes int
	// MaxSnippets caps search snippets prepended as grounding context.
	MaxSnippets int
	// Params are passed through to the inference backend.
	Params domain.GenerateParams
}

// Drafter produces DraftResponse values. Search is optional: a nil or
// failing search provider degrades the draft, it never fails it.
type Drafter struct {
	inference domain.Inference
	search    domain.Search
	templates *Templates
	cfg       Config
	logger    *slog.Logger
}

func New(inference domain.Inference, search domain.Search, templates *Templates, cfg Config, logger *slog.Logger) *Drafter {
	if cfg.MaxBodyRunes <= 0 {
		cfg.MaxBodyRunes = 4000
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = 3
	}
	if templates == nil {
		templates, _ = LoadTemplates("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{
		inference: inference,
		search:    search,
		templates: templates,
		cfg:       cfg,
		logger:    logger,
	}
}

// Draft generates a reply for the email. Exactly one inference call is
// made for the reply itself; the coordinator owns retrying it. The
// search enrichment may add one more call to derive the query, but any
// failure there only degrades the result.
func (d *Drafter) Draft(ctx context.Context, email domain.Email, intent domain.Intent) (*domain.DraftResponse, error) {
	var contextBlock string
	if d.search != nil && intent.Kind == domain.IntentNeedsReply {
		snippets, err := d.gatherSnippets(ctx, email)
		if err != nil {
			d.logger.Warn("search enrichment unavailable, drafting without it",
				"email", email.ID, "err", err)
		}
		contextBlock = formatSnippets(snippets)
	}

	prompt, err := render("reply", d.templates.Reply, promptData{
		Sender:  email.Sender,
		Subject: email.Subject,
		Body:    truncateRunes(email.Body, d.cfg.MaxBodyRunes),
		Context: contextBlock,
	})
	if err != nil {
		return nil, domain.Terminal(err)
	}

	text, err := d.inference.Generate(ctx, prompt, d.cfg.Params)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Terminal(fmt.Errorf("%w: empty completion", domain.ErrInferenceRejected))
	}

	return &domain.DraftResponse{
		EmailID:     email.ID,
		Text:        text,
		Model:       d.cfg.Params.Model,
		Temperature: d.cfg.Params.Temperature,
		MaxTokens:   d.cfg.Params.MaxTokens,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// gatherSnippets derives a search query from the email and runs it.
// The query generation uses the inference backend; when that fails the
// subject is a good-enough query.
func (d *Drafter) gatherSnippets(ctx context.Context, email domain.Email) ([]domain.Snippet, error) {
	query := strings.TrimSpace(email.Subject)

	prompt, err := render("searchQuery", d.templates.SearchQuery, promptData{
		Sender: email.Sender,
		Body:   truncateRunes(email.Body, d.cfg.MaxBodyRunes),
	})
	if err == nil {
		if generated, genErr := d.inference.Generate(ctx, prompt, d.cfg.Params); genErr == nil {
			if g := strings.TrimSpace(strings.Trim(generated, `"`)); g != "" {
				query = firstLine(g)
			}
		} else {
			d.logger.Debug("search query generation failed, using subject", "err", genErr)
		}
	}
	if query == "" {
		return nil, nil
	}

	snippets, err := d.search.Search(ctx, query, d.cfg.MaxSnippets)
	if err != nil {
		return nil, domain.Degraded(err)
	}
	if len(snippets) > d.cfg.MaxSnippets {
		snippets = snippets[:d.cfg.MaxSnippets]
	}
	return snippets, nil
}

func formatSnippets(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range snippets {
		if s.Title != "" {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Text)
		} else {
			fmt.Fprintf(&b, "- %s\n", s.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[truncated]"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
