package draft

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mailpilot/internal/domain"
)

type fakeInference struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeInference) Name() string                         { return "fake" }
func (f *fakeInference) Healthy(ctx context.Context) error    { return nil }
func (f *fakeInference) Generate(ctx context.Context, prompt string, params domain.GenerateParams) (string, error) {
	f.prompts = append(f.prompts, prompt)
	i := len(f.prompts) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return reply, err
}

type fakeSearch struct {
	snippets []domain.Snippet
	err      error
	queries  []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, max int) ([]domain.Snippet, error) {
	f.queries = append(f.queries, query)
	return f.snippets, f.err
}

var needsReply = domain.Intent{Kind: domain.IntentNeedsReply, Confidence: 0.8}

func TestDraft_WithSearchContext(t *testing.T) {
	inf := &fakeInference{replies: []string{"project roadmap 2024", "Happy to help, see below."}}
	srch := &fakeSearch{snippets: []domain.Snippet{{Title: "Roadmap", Text: "Q3 ships the beta."}}}
	d := New(inf, srch, nil, Config{}, nil)

	email := domain.Email{
		ID:      "inbox:1:1",
		Sender:  "alice@example.com",
		Subject: "Roadmap question",
		Body:    "When does the beta ship?",
	}

	draft, err := d.Draft(context.Background(), email, needsReply)
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if draft.Text != "Happy to help, see below." {
		t.Errorf("text: %q", draft.Text)
	}
	if len(srch.queries) != 1 || srch.queries[0] != "project roadmap 2024" {
		t.Errorf("expected derived query, got %v", srch.queries)
	}
	// Second prompt is the reply prompt and must embed the snippet.
	replyPrompt := inf.prompts[1]
	if !strings.Contains(replyPrompt, "Roadmap: Q3 ships the beta.") {
		t.Errorf("reply prompt missing snippet context:\n%s", replyPrompt)
	}
}

func TestDraft_SearchFailureDegrades(t *testing.T) {
	inf := &fakeInference{replies: []string{"some query", "Reply text."}}
	srch := &fakeSearch{err: domain.Degraded(domain.ErrSearchUnavailable)}
	d := New(inf, srch, nil, Config{}, nil)

	draft, err := d.Draft(context.Background(), domain.Email{ID: "e", Sender: "a@b.c", Body: "Hi?"}, needsReply)
	if err != nil {
		t.Fatalf("search failure must not fail the draft: %v", err)
	}
	if draft.Text != "Reply text." {
		t.Errorf("text: %q", draft.Text)
	}
	if !strings.Contains(inf.prompts[1], "No additional context provided.") {
		t.Errorf("expected the no-context fallback in the prompt")
	}
}

func TestDraft_NoSearchForOtherIntents(t *testing.T) {
	inf := &fakeInference{replies: []string{"Reply."}}
	srch := &fakeSearch{}
	d := New(inf, srch, nil, Config{}, nil)

	intent := domain.Intent{Kind: domain.IntentMeetingRequest, Confidence: 0.9}
	if _, err := d.Draft(context.Background(), domain.Email{ID: "e", Body: "x"}, intent); err != nil {
		t.Fatal(err)
	}
	if len(srch.queries) != 0 {
		t.Errorf("search must only run for needs-reply, got queries %v", srch.queries)
	}
	if len(inf.prompts) != 1 {
		t.Errorf("expected exactly one inference call, got %d", len(inf.prompts))
	}
}

func TestDraft_QueryGenerationFailureFallsBackToSubject(t *testing.T) {
	inf := &fakeInference{
		replies: []string{"", "Reply."},
		errs:    []error{domain.Transient(domain.ErrInferenceUnavailable), nil},
	}
	srch := &fakeSearch{}
	d := New(inf, srch, nil, Config{}, nil)

	email := domain.Email{ID: "e", Subject: "Invoice 1042", Body: "Can you check this?"}
	if _, err := d.Draft(context.Background(), email, needsReply); err != nil {
		t.Fatal(err)
	}
	if len(srch.queries) != 1 || srch.queries[0] != "Invoice 1042" {
		t.Errorf("expected subject fallback query, got %v", srch.queries)
	}
}

func TestDraft_EmptyCompletionIsTerminal(t *testing.T) {
	inf := &fakeInference{replies: []string{"   "}}
	d := New(inf, nil, nil, Config{}, nil)

	_, err := d.Draft(context.Background(), domain.Email{ID: "e", Body: "x"}, needsReply)
	if err == nil {
		t.Fatal("expected an error for empty completion")
	}
	if !domain.IsTerminal(err) {
		t.Errorf("empty completion must be terminal, got %v", err)
	}
	if !errors.Is(err, domain.ErrInferenceRejected) {
		t.Errorf("expected ErrInferenceRejected, got %v", err)
	}
}

func TestDraft_InferenceErrorPassesThrough(t *testing.T) {
	inf := &fakeInference{errs: []error{domain.Transient(domain.ErrInferenceUnavailable)}}
	d := New(inf, nil, nil, Config{}, nil)

	_, err := d.Draft(context.Background(), domain.Email{ID: "e", Body: "x"}, needsReply)
	if !domain.IsTransient(err) {
		t.Errorf("transient backend error must stay transient, got %v", err)
	}
}

func TestDraft_BodyTruncation(t *testing.T) {
	inf := &fakeInference{replies: []string{"Reply."}}
	d := New(inf, nil, nil, Config{MaxBodyRunes: 120}, nil)

	long := strings.Repeat("word ", 100)
	if _, err := d.Draft(context.Background(), domain.Email{ID: "e", Body: long}, needsReply); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inf.prompts[0], "[truncated]") {
		t.Errorf("expected truncation marker in prompt")
	}
	if strings.Contains(inf.prompts[0], long) {
		t.Errorf("full body leaked into prompt despite the cap")
	}
}

func TestLoadTemplates_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "reply: |\n  Custom prompt for {{.Sender}}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	tpl, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if !strings.Contains(tpl.Reply, "Custom prompt") {
		t.Errorf("override not applied: %q", tpl.Reply)
	}
	if tpl.SearchQuery != defaultSearchQueryTemplate {
		t.Errorf("unset field must keep the default")
	}
}

func TestTruncateRunes_ShortInputUnchanged(t *testing.T) {
	if got := truncateRunes("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
}
