package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mailpilot/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(context.Background(), Config{
		APIBase:     srv.URL,
		CalendarID:  "primary",
		AccessToken: "test-token",
		Timezone:    "UTC",
	})
}

func candidate() domain.CandidateEvent {
	start := time.Date(2024, 5, 7, 10, 0, 0, 0, time.UTC)
	return domain.CandidateEvent{
		EmailID:   "inbox:1:1",
		Title:     "Meet: Q3 planning",
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Attendees: []string{"alice@example.com"},
	}
}

func TestCreateEvent(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload eventPayload
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{"id": "evt-42"})
	})

	id, err := c.CreateEvent(context.Background(), candidate())
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "evt-42" {
		t.Errorf("event id: %q", id)
	}
	if gotPath != "/calendars/primary/events" {
		t.Errorf("path: %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth: %q", gotAuth)
	}
	if gotPayload.Summary != "Meet: Q3 planning" {
		t.Errorf("summary: %q", gotPayload.Summary)
	}
	if len(gotPayload.Attendees) != 1 || gotPayload.Attendees[0].Email != "alice@example.com" {
		t.Errorf("attendees: %+v", gotPayload.Attendees)
	}
}

func TestCreateEvent_ConflictIsTerminal(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := c.CreateEvent(context.Background(), candidate())
	if !domain.IsTerminal(err) {
		t.Fatalf("409 must be terminal, got %v", err)
	}
	if !errors.Is(err, domain.ErrCalendarConflict) {
		t.Errorf("expected ErrCalendarConflict, got %v", err)
	}
}

func TestCreateEvent_ServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateEvent(context.Background(), candidate())
	if !domain.IsTransient(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
	if !errors.Is(err, domain.ErrCalendarTransient) {
		t.Errorf("expected ErrCalendarTransient, got %v", err)
	}
}

func TestCreateEvent_InvalidEventRejectedLocally(t *testing.T) {
	called := false
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	bad := candidate()
	bad.End = bad.Start // zero-length
	if _, err := c.CreateEvent(context.Background(), bad); !domain.IsTerminal(err) {
		t.Fatalf("invalid event must fail terminally, got %v", err)
	}
	if called {
		t.Error("invalid event must not reach the API")
	}
}

func TestFreeSlots(t *testing.T) {
	day := time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":    "busy-1",
					"start": map[string]string{"dateTime": "2024-05-07T10:00:00Z"},
					"end":   map[string]string{"dateTime": "2024-05-07T11:00:00Z"},
				},
				{
					"id":    "busy-2",
					"start": map[string]string{"dateTime": "2024-05-07T14:00:00Z"},
					"end":   map[string]string{"dateTime": "2024-05-07T15:30:00Z"},
				},
			},
		})
	})

	slots, err := c.FreeSlots(context.Background(), day, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	want := []string{"09:00 - 10:00", "11:00 - 14:00", "15:30 - 17:00"}
	if len(slots) != len(want) {
		t.Fatalf("slots: got %v, want %v", slots, want)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Errorf("slot %d: got %q, want %q", i, slots[i], want[i])
		}
	}
}

func TestFreeSlots_EmptyCalendar(t *testing.T) {
	day := time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	})

	slots, err := c.FreeSlots(context.Background(), day, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 1 || slots[0] != "09:00 - 17:00" {
		t.Errorf("expected the whole working day free, got %v", slots)
	}
}

func TestFreeSlots_ListErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FreeSlots(context.Background(), time.Now(), time.Hour)
	if !domain.IsTransient(err) {
		t.Fatalf("list failure must be transient, got %v", err)
	}
}
