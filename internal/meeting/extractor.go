// Package meeting turns meeting-request emails into candidate calendar
// events. Parsing is deterministic and conservative: an ambiguous or
// unresolvable time expression yields no event, never a guessed one —
// a wrong calendar entry is worse than a missed one.
package meeting

import (
	"regexp"
	"strings"
	"time"

	"mailpilot/internal/domain"
)

const defaultDuration = 30 * time.Minute

// Extractor resolves relative time expressions against the email's
// received timestamp in a configured timezone.
type Extractor struct {
	loc *time.Location
}

func New(timezone string) (*Extractor, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &Extractor{loc: loc}, nil
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDayRe  = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	weekdayRe   = regexp.MustCompile(`\b(?:next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clock12Re   = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	durMinsRe   = regexp.MustCompile(`\b(?:for\s+)?(\d{1,3})\s*(?:minutes|mins|min)\b|\b(\d{1,3})-minute\b`)
	durHoursRe  = regexp.MustCompile(`\b(?:for\s+)?(\d{1,2})\s*(?:hours|hour|hrs|hr)\b`)
	vagueRe     = regexp.MustCompile(`\bsometime\b|\bsome\s+time\b|\bat some point\b|\bwhenever\b|\bone of these days\b`)
	emailAddrRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	meetLinkRe  = regexp.MustCompile(`https?://[^\s<>"]*(?:zoom\.us|meet\.google\.com|teams\.microsoft\.com|webex\.com)[^\s<>"]*`)
	discussRe   = regexp.MustCompile(`(?i)\bdiscuss(?:ing)?\s+([A-Za-z0-9][A-Za-z0-9 \-]{0,40}?)(?:[.,!?\n]|$)`)

	weekdays = map[string]time.Weekday{
		"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
		"thursday": time.Thursday, "friday": time.Friday,
		"saturday": time.Saturday, "sunday": time.Sunday,
	}
	months = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// Extract returns a candidate event, or nil when the email does not
// carry a resolvable date and time. It never errors: unresolvable
// input is a valid "no event" answer, not a failure.
func (x *Extractor) Extract(email domain.Email) *domain.CandidateEvent {
	text := strings.ToLower(email.Body)
	received := email.ReceivedAt.In(x.loc)

	day, dayExplicit, ok := x.resolveDate(text, received)
	if !ok {
		return nil
	}
	hour, minute, ok := resolveClock(text)
	if !ok {
		return nil
	}
	// A vague phrase next to a parsed expression means the sender was
	// not actually committing to it.
	if vagueRe.MatchString(text) {
		return nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, x.loc)
	if !start.After(received) {
		// "today 9am" received at noon: the slot is gone, and guessing
		// a different day would fabricate a meeting.
		return nil
	}

	duration, durExplicit := resolveDuration(text)
	confidence := 0.7
	if dayExplicit {
		confidence += 0.1
	}
	if durExplicit {
		confidence += 0.05
	}

	event := &domain.CandidateEvent{
		EmailID:    email.ID,
		Title:      buildTitle(email),
		Start:      start,
		End:        start.Add(duration),
		Attendees:  collectAttendees(email),
		Location:   meetLinkRe.FindString(email.Body),
		Confidence: confidence,
	}
	if err := event.Validate(); err != nil {
		return nil
	}
	return event
}

// resolveDate finds the meeting day. explicit is true for literal
// dates (ISO, month-day) as opposed to relative ones.
func (x *Extractor) resolveDate(text string, received time.Time) (day time.Time, explicit, ok bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		t, err := time.ParseInLocation("2006-01-02", m[0], x.loc)
		if err == nil {
			return t, true, true
		}
	}
	if strings.Contains(text, "tomorrow") {
		return received.AddDate(0, 0, 1), false, true
	}
	if strings.Contains(text, "today") {
		return received, false, true
	}
	if m := weekdayRe.FindStringSubmatch(text); m != nil {
		target := weekdays[m[1]]
		days := int(target-received.Weekday()+7) % 7
		if days == 0 {
			days = 7 // bare weekday name means the next one, not today
		}
		return received.AddDate(0, 0, days), false, true
	}
	if idx := monthDayRe.FindStringSubmatchIndex(text); idx != nil {
		// "may 10am" is a clock time, not May 10th: reject when the
		// digits run straight into am/pm or a colon.
		if rest := text[idx[1]:]; !strings.HasPrefix(rest, "am") && !strings.HasPrefix(rest, "pm") && !strings.HasPrefix(rest, ":") {
			month := months[text[idx[2]:idx[3]]]
			dayNum := atoiSafe(text[idx[4]:idx[5]])
			if dayNum >= 1 && dayNum <= 31 {
				t := time.Date(received.Year(), month, dayNum, 0, 0, 0, 0, x.loc)
				if t.Before(received.Truncate(24 * time.Hour)) {
					t = t.AddDate(1, 0, 0)
				}
				return t, true, true
			}
		}
	}
	return time.Time{}, false, false
}

func resolveClock(text string) (hour, minute int, ok bool) {
	if m := clock12Re.FindStringSubmatch(text); m != nil {
		hour = atoiSafe(m[1])
		if m[2] != "" {
			minute = atoiSafe(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, false
		}
		hour = hour % 12
		if m[3] == "pm" {
			hour += 12
		}
		return hour, minute, true
	}
	if m := clock24Re.FindStringSubmatch(text); m != nil {
		return atoiSafe(m[1]), atoiSafe(m[2]), true
	}
	return 0, 0, false
}

func resolveDuration(text string) (time.Duration, bool) {
	if m := durMinsRe.FindStringSubmatch(text); m != nil {
		n := atoiSafe(m[1])
		if n == 0 {
			n = atoiSafe(m[2])
		}
		if n > 0 {
			return time.Duration(n) * time.Minute, true
		}
	}
	if m := durHoursRe.FindStringSubmatch(text); m != nil {
		if n := atoiSafe(m[1]); n > 0 {
			return time.Duration(n) * time.Hour, true
		}
	}
	if strings.Contains(text, "half an hour") {
		return 30 * time.Minute, true
	}
	if strings.Contains(text, "an hour") || strings.Contains(text, "one hour") {
		return time.Hour, true
	}
	return defaultDuration, false
}

func buildTitle(email domain.Email) string {
	subject := email.Subject
	for _, prefix := range []string{"Re:", "RE:", "re:", "Fwd:", "FWD:", "fwd:"} {
		subject = strings.TrimPrefix(subject, prefix)
	}
	subject = strings.TrimSpace(subject)
	if subject != "" {
		return "Meet: " + subject
	}
	if m := discussRe.FindStringSubmatch(email.Body); m != nil {
		return "Meet: " + strings.TrimSpace(m[1]) + " discussion"
	}
	return "Meeting"
}

// collectAttendees gathers recipient and CC addresses plus any email
// addresses mentioned in the body. The sender comes first; the list
// may legitimately be empty but is never nil.
func collectAttendees(email domain.Email) []string {
	attendees := make([]string, 0, len(email.Recipients)+len(email.CC)+1)
	seen := make(map[string]bool)
	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || !strings.Contains(addr, "@") || seen[addr] {
			return
		}
		seen[addr] = true
		attendees = append(attendees, addr)
	}

	if m := emailAddrRe.FindString(email.Sender); m != "" {
		add(m)
	}
	for _, r := range email.Recipients {
		if m := emailAddrRe.FindString(r); m != "" {
			add(m)
		}
	}
	for _, r := range email.CC {
		if m := emailAddrRe.FindString(r); m != "" {
			add(m)
		}
	}
	for _, m := range emailAddrRe.FindAllString(email.Body, 5) {
		add(m)
	}
	return attendees
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
