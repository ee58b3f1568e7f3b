package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var received int32
	eb.On(EventStageSucceeded, func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventStageSucceeded, EmailID: "inbox:1:1"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventStageAttempt})
	eb.Emit(Event{Type: EventStageFailed})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var count int32
	id := eb.On(EventEmailSettled, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventEmailSettled})
	eb.Off(EventEmailSettled, id)
	eb.Emit(Event{Type: EventEmailSettled})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_PanickingHandlerIsContained(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var after int32
	eb.On(EventStageFailed, func(e Event) { panic("boom") })
	eb.On(EventStageFailed, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventStageFailed})

	if atomic.LoadInt32(&after) != 1 {
		t.Errorf("handler after the panicking one must still run")
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testBusLogger())
	cutoff := time.Now().Add(-time.Minute)

	eb.Emit(Event{Type: EventStageAttempt, EmailID: "a"})
	eb.Emit(Event{Type: EventStageFailed, EmailID: "a"})
	eb.Emit(Event{Type: EventStageAttempt, EmailID: "b"})

	attempts := eb.Replay(EventStageAttempt, cutoff)
	if len(attempts) != 2 {
		t.Errorf("expected 2 attempt events, got %d", len(attempts))
	}
	all := eb.Replay("*", cutoff)
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
	if eb.HistoryLen() != 3 {
		t.Errorf("history length: %d", eb.HistoryLen())
	}
}
