package notify

import (
	"strings"
	"testing"
	"time"

	"mailpilot/internal/domain"
)

func TestSummary_DraftReady(t *testing.T) {
	out := domain.PipelineOutcome{
		EmailID: "inbox:1:1",
		Sender:  "alice@example.com",
		Subject: "Roadmap question",
		Intent:  domain.Intent{Kind: domain.IntentNeedsReply, Confidence: 0.75},
		Draft:   &domain.DraftResponse{EmailID: "inbox:1:1", Text: "Happy to help.\nDetails below."},
		Stages: []domain.StageResult{
			{Stage: domain.StageClassify, Outcome: domain.OutcomeSucceeded},
			{Stage: domain.StageDraft, Outcome: domain.OutcomeSucceeded},
		},
	}

	text := Summary(out)
	if !strings.Contains(text, "Draft reply ready") {
		t.Errorf("missing headline:\n%s", text)
	}
	if !strings.Contains(text, "alice@example.com") || !strings.Contains(text, "Roadmap question") {
		t.Errorf("missing email identity:\n%s", text)
	}
	if !strings.Contains(text, "needs-reply (75%)") {
		t.Errorf("missing intent line:\n%s", text)
	}
	if !strings.Contains(text, "> Happy to help.") || !strings.Contains(text, "> Details below.") {
		t.Errorf("draft not quoted:\n%s", text)
	}
}

func TestSummary_MeetingScheduled(t *testing.T) {
	start := time.Date(2024, 5, 7, 10, 0, 0, 0, time.UTC)
	out := domain.PipelineOutcome{
		EmailID: "inbox:1:2",
		Sender:  "bob@example.com",
		Subject: "Q3 planning",
		Intent:  domain.Intent{Kind: domain.IntentMeetingRequest, Confidence: 0.85},
		Event: &domain.CandidateEvent{
			Title: "Meet: Q3 planning",
			Start: start,
			End:   start.Add(30 * time.Minute),
		},
		EventID: "evt-42",
	}

	text := Summary(out)
	if !strings.Contains(text, "Meeting scheduled") {
		t.Errorf("missing headline:\n%s", text)
	}
	if !strings.Contains(text, "evt-42") {
		t.Errorf("missing event id:\n%s", text)
	}
	if !strings.Contains(text, "Tue May 7 10:00") {
		t.Errorf("missing start time:\n%s", text)
	}
}

func TestSummary_FailureWithSlots(t *testing.T) {
	out := domain.PipelineOutcome{
		EmailID: "inbox:1:3",
		Sender:  "carol@example.com",
		Subject: "Sync",
		Intent:  domain.Intent{Kind: domain.IntentMeetingRequest, Confidence: 0.8},
		Stages: []domain.StageResult{
			{Stage: domain.StageSchedule, Outcome: domain.OutcomeFailedTerminal, Attempts: 1, Err: "calendar event conflict"},
		},
		SuggestedSlots: []string{"11:00 - 14:00", "15:30 - 17:00"},
	}

	text := Summary(out)
	if !strings.Contains(text, "Email processing failed") {
		t.Errorf("missing failure headline:\n%s", text)
	}
	if !strings.Contains(text, "Failed at schedule after 1 attempt(s)") {
		t.Errorf("missing failure detail:\n%s", text)
	}
	if !strings.Contains(text, "11:00 - 14:00") {
		t.Errorf("missing suggested slots:\n%s", text)
	}
}

func TestSummary_NeedsManualRetry(t *testing.T) {
	out := domain.PipelineOutcome{
		EmailID: "inbox:1:4",
		Sender:  "dan@example.com",
		Intent:  domain.Intent{Kind: domain.IntentNeedsReply, Confidence: 0.7},
		Stages: []domain.StageResult{
			{Stage: domain.StageDraft, Outcome: domain.OutcomeFailedTerminal, Attempts: 3, Err: "retries exhausted: inference backend unavailable"},
		},
		NeedsManualRetry: true,
	}

	if text := Summary(out); !strings.Contains(text, "Needs manual retry.") {
		t.Errorf("missing manual retry marker:\n%s", text)
	}
}

func TestSummary_IgnorableEmail(t *testing.T) {
	out := domain.PipelineOutcome{
		EmailID: "inbox:1:5",
		Sender:  "noreply@shop.example.com",
		Subject: "Your order",
		Intent:  domain.Intent{Kind: domain.IntentIgnorable, Confidence: 0.9},
	}

	if text := Summary(out); !strings.Contains(text, "Email filed (ignorable)") {
		t.Errorf("missing ignorable headline:\n%s", text)
	}
}

func TestDigest(t *testing.T) {
	outcomes := []domain.PipelineOutcome{
		{},
		{Stages: []domain.StageResult{{Stage: domain.StageNotify, Outcome: domain.OutcomeFailedTerminal}}},
	}
	got := Digest(outcomes, 1500*time.Millisecond)
	if !strings.Contains(got, "2 email(s)") || !strings.Contains(got, "1 failed") {
		t.Errorf("digest: %q", got)
	}
	if Digest(nil, time.Second) != "" {
		t.Error("empty run must produce no digest")
	}
}
