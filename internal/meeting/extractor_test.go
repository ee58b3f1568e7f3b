package meeting

import (
	"testing"
	"time"

	"mailpilot/internal/domain"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	x, err := New("UTC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return x
}

// Monday, so "Tuesday" resolves to the next day.
var receivedMonday = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func TestExtract_WeekdayAndClock(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:1",
		Sender:     "alice@example.com",
		Recipients: []string{"me@example.com"},
		Subject:    "Re: Q3 planning",
		Body:       "Can we meet Tuesday 10am to discuss Q3?",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}

	wantStart := time.Date(2024, 5, 7, 10, 0, 0, 0, time.UTC)
	if !event.Start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", event.Start, wantStart)
	}
	if !event.End.Equal(wantStart.Add(30 * time.Minute)) {
		t.Errorf("expected default 30 minute duration, got end %v", event.End)
	}
	if event.Title != "Meet: Q3 planning" {
		t.Errorf("title: got %q", event.Title)
	}
	if len(event.Attendees) != 2 || event.Attendees[0] != "alice@example.com" {
		t.Errorf("attendees: got %v", event.Attendees)
	}
	if event.Confidence < 0.7 {
		t.Errorf("confidence too low: %.2f", event.Confidence)
	}
}

func TestExtract_SameWeekdayMeansNextWeek(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:2",
		Subject:    "Sync",
		Body:       "Let's have a call Monday at 3pm.",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	wantStart := time.Date(2024, 5, 13, 15, 0, 0, 0, time.UTC)
	if !event.Start.Equal(wantStart) {
		t.Errorf("bare weekday must mean the next one: got %v, want %v", event.Start, wantStart)
	}
}

func TestExtract_ISODate(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:3",
		Subject:    "Review",
		Body:       "Booking the review for 2024-06-10 at 14:30, for 45 minutes.",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	wantStart := time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)
	if !event.Start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", event.Start, wantStart)
	}
	if !event.End.Equal(wantStart.Add(45 * time.Minute)) {
		t.Errorf("explicit duration ignored: end %v", event.End)
	}
	// Explicit date and duration both raise confidence.
	if event.Confidence < 0.85 {
		t.Errorf("confidence: got %.2f", event.Confidence)
	}
}

func TestExtract_MonthDay(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:4",
		Subject:    "Kickoff",
		Body:       "Shall we meet on May 10 at 3pm?",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	wantStart := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	if !event.Start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", event.Start, wantStart)
	}
}

func TestExtract_MonthNameBeforeClockIsNotADate(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:5",
		Subject:    "Chat",
		Body:       "we may 10am work for you, no date though",
		ReceivedAt: receivedMonday,
	}

	if event := x.Extract(email); event != nil {
		t.Errorf("\"may 10am\" must not parse as May 10th: %+v", event)
	}
}

func TestExtract_VaguePhrase(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:6",
		Subject:    "Catch up",
		Body:       "We should meet sometime, maybe Tuesday 10am, whenever works.",
		ReceivedAt: receivedMonday,
	}

	if event := x.Extract(email); event != nil {
		t.Errorf("vague phrasing must yield no event, got %+v", event)
	}
}

func TestExtract_NoClock(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:7",
		Subject:    "Tomorrow",
		Body:       "Let's meet tomorrow and talk it through.",
		ReceivedAt: receivedMonday,
	}

	if event := x.Extract(email); event != nil {
		t.Errorf("no clock time must yield no event, got %+v", event)
	}
}

func TestExtract_PastSlotSameDay(t *testing.T) {
	x := testExtractor(t)
	noon := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	email := domain.Email{
		ID:         "inbox:1:8",
		Subject:    "Quick sync",
		Body:       "Can we meet today at 9am?",
		ReceivedAt: noon,
	}

	if event := x.Extract(email); event != nil {
		t.Errorf("a slot already in the past must yield no event, got %+v", event)
	}
}

func TestExtract_MeetingLinkAsLocation(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:9",
		Subject:    "Standup",
		Body:       "Join tomorrow at 9:30 via https://zoom.us/j/123456789 please.",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	if event.Location != "https://zoom.us/j/123456789" {
		t.Errorf("location: got %q", event.Location)
	}
}

func TestExtract_TitleFromBodyTopic(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:10",
		Body:       "can we meet tomorrow at 2pm to discuss budget planning?",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	if event.Title != "Meet: budget planning discussion" {
		t.Errorf("title: got %q", event.Title)
	}
}

func TestExtract_AttendeesFromBody(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:11",
		Sender:     "Alice <alice@example.com>",
		Recipients: []string{"me@example.com"},
		CC:         []string{"bob@example.com"},
		Subject:    "Planning",
		Body:       "Meet tomorrow 11am? Also looping in carol@example.com.",
		ReceivedAt: receivedMonday,
	}

	event := x.Extract(email)
	if event == nil {
		t.Fatal("expected a candidate event")
	}
	want := []string{"alice@example.com", "me@example.com", "bob@example.com", "carol@example.com"}
	if len(event.Attendees) != len(want) {
		t.Fatalf("attendees: got %v, want %v", event.Attendees, want)
	}
	for i, a := range want {
		if event.Attendees[i] != a {
			t.Errorf("attendee %d: got %q, want %q", i, event.Attendees[i], a)
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	x := testExtractor(t)
	email := domain.Email{
		ID:         "inbox:1:12",
		Subject:    "Sync",
		Body:       "Meet Wednesday at 4pm for an hour?",
		ReceivedAt: receivedMonday,
	}

	first := x.Extract(email)
	if first == nil {
		t.Fatal("expected a candidate event")
	}
	for i := 0; i < 5; i++ {
		got := x.Extract(email)
		if got == nil || !got.Start.Equal(first.Start) || !got.End.Equal(first.End) {
			t.Fatalf("extraction not deterministic: %+v vs %+v", got, first)
		}
	}
}
