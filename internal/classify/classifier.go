// Package classify derives a structured intent from raw email text.
// Classification is a pure function: no I/O, no retries, the same
// email always yields the same intent.
package classify

import (
	"regexp"
	"strings"

	"mailpilot/internal/domain"
)

// Classifier scores emails against cue lexicons and maps them to one
// of the closed intent variants.
type Classifier struct {
	threshold float64
}

// New creates a classifier. Intents scoring below threshold are routed
// to ignorable so low-confidence emails never trigger drafts or
// events.
func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = 0.4
	}
	return &Classifier{threshold: threshold}
}

var (
	meetingVerbs = []string{
		"meet", "meeting", "call", "sync", "schedule", "catch up",
		"appointment", "get together", "hop on", "invite you",
	}
	// Word boundaries matter here: "am" as a substring would let
	// "team" or "program" count as temporal evidence.
	temporalRe = regexp.MustCompile(`\b(?:today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday|next week|this week|morning|afternoon|am|pm)\b`)
	requestCues = []string{
		"could you", "can you", "would you", "please", "let me know",
		"what do you think", "any update", "wondering if", "need your",
	}
	bulkSenderCues = []string{
		"noreply", "no-reply", "donotreply", "do-not-reply",
		"notifications@", "newsletter", "mailer-daemon",
	}
	bulkBodyCues = []string{
		"unsubscribe", "this is an automated", "do not reply to this",
		"manage your preferences", "view this email in your browser",
	}

	clockRe = regexp.MustCompile(`\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\b\d{1,2}:\d{2}\b`)
)

// Classify maps an email to an intent with a confidence score.
// Empty bodies classify as informational at low confidence rather
// than erroring.
func (c *Classifier) Classify(email domain.Email) domain.Intent {
	body := strings.ToLower(strings.TrimSpace(email.Body))
	subject := strings.ToLower(email.Subject)
	sender := strings.ToLower(email.Sender)
	text := subject + "\n" + body

	if body == "" {
		return c.gate(domain.Intent{Kind: domain.IntentInformational, Confidence: 0.2})
	}

	if containsAny(sender, bulkSenderCues) || containsAny(body, bulkBodyCues) {
		return domain.Intent{Kind: domain.IntentIgnorable, Confidence: 0.9}
	}

	if score := meetingScore(text); score > 0 {
		return c.gate(domain.Intent{Kind: domain.IntentMeetingRequest, Confidence: score})
	}

	if score := replyScore(text); score > 0 {
		return c.gate(domain.Intent{Kind: domain.IntentNeedsReply, Confidence: score})
	}

	return c.gate(domain.Intent{Kind: domain.IntentInformational, Confidence: 0.5})
}

// gate demotes low-confidence intents to ignorable, keeping the
// original confidence so the operator can see why.
func (c *Classifier) gate(in domain.Intent) domain.Intent {
	if in.Confidence < c.threshold {
		return domain.Intent{Kind: domain.IntentIgnorable, Confidence: in.Confidence}
	}
	return in
}

// meetingScore returns 0 when the text has no meeting cue, otherwise a
// confidence that grows with corroborating temporal evidence.
func meetingScore(text string) float64 {
	if !containsAny(text, meetingVerbs) {
		return 0
	}
	score := 0.5
	if temporalRe.MatchString(text) {
		score += 0.15
	}
	if clockRe.MatchString(text) {
		score += 0.15
	}
	if strings.Contains(text, "?") {
		score += 0.05
	}
	return min(score, 0.95)
}

func replyScore(text string) float64 {
	score := 0.0
	if strings.Contains(text, "?") {
		score += 0.45
	}
	if containsAny(text, requestCues) {
		score += 0.3
	}
	return min(score, 0.9)
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
