package notify

import (
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/domain"
)

// Summary renders a pipeline outcome as the chat message the user
// sees. One message per email, success or failure.
func Summary(out domain.PipelineOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s* from %s\n", headline(out), orUnknown(out.Sender))
	fmt.Fprintf(&b, "Subject: %s\n", orUnknown(out.Subject))
	fmt.Fprintf(&b, "Intent: %s (%.0f%%)\n", out.Intent.Kind, out.Intent.Confidence*100)

	if out.Draft != nil {
		b.WriteString("\nDraft reply:\n")
		b.WriteString(indent(out.Draft.Text))
		b.WriteString("\n")
	}

	if out.EventID != "" && out.Event != nil {
		fmt.Fprintf(&b, "\nScheduled: %s\n", out.Event.Title)
		fmt.Fprintf(&b, "When: %s - %s\n",
			out.Event.Start.Format("Mon Jan 2 15:04"),
			out.Event.End.Format("15:04 MST"))
		if out.Event.Location != "" {
			fmt.Fprintf(&b, "Where: %s\n", out.Event.Location)
		}
		fmt.Fprintf(&b, "Event ID: %s\n", out.EventID)
	}

	if fail := out.FirstFailure(); fail != nil {
		fmt.Fprintf(&b, "\nFailed at %s after %d attempt(s): %s\n",
			fail.Stage, fail.Attempts, fail.Err)
		if out.NeedsManualRetry {
			b.WriteString("Needs manual retry.\n")
		}
	}

	if len(out.SuggestedSlots) > 0 {
		b.WriteString("\nFree slots that day:\n")
		for _, slot := range out.SuggestedSlots {
			fmt.Fprintf(&b, "  %s\n", slot)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func headline(out domain.PipelineOutcome) string {
	switch {
	case out.FirstFailure() != nil:
		return "Email processing failed"
	case out.EventID != "":
		return "Meeting scheduled"
	case out.Draft != nil:
		return "Draft reply ready"
	case out.Intent.Kind == domain.IntentIgnorable:
		return "Email filed (ignorable)"
	default:
		return "Email processed"
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// Digest summarizes a whole run for the daemon log channel.
func Digest(outcomes []domain.PipelineOutcome, elapsed time.Duration) string {
	if len(outcomes) == 0 {
		return ""
	}
	failed := 0
	for _, out := range outcomes {
		if out.FirstFailure() != nil {
			failed++
		}
	}
	return fmt.Sprintf("Processed %d email(s) in %s, %d failed",
		len(outcomes), elapsed.Round(time.Millisecond), failed)
}
