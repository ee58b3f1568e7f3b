// Package bus is a topic-based in-process pub/sub used to observe the
// pipeline: stage transitions, run boundaries, and provider faults.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is a single observable occurrence inside the pipeline.
type Event struct {
	Type      string
	EmailID   string
	Payload   map[string]any
	Timestamp time.Time
}

// Well-known event types.
const (
	EventRunStarted     = "run.started"
	EventRunFinished    = "run.finished"
	EventEmailStarted   = "email.started"
	EventEmailSettled   = "email.settled"
	EventStageAttempt   = "stage.attempt"
	EventStageSucceeded = "stage.succeeded"
	EventStageFailed    = "stage.failed"
	EventStageSkipped   = "stage.skipped"
	EventProviderError  = "provider.error"
)

// EventHandler is a callback for events.
type EventHandler func(Event)

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// EventBus supports wildcard subscriptions and a bounded history
// buffer for the status command.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type. Use "*" to listen
// to all events. Returns the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + strconv.Itoa(len(eb.handlers[eventType]))
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all registered handlers, synchronously
// and in registration order. A panicking handler never takes the
// pipeline down with it.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	eb.mu.Unlock()

	eb.mu.RLock()
	handlers := make([]namedHandler, 0)
	if h, ok := eb.handlers[event.Type]; ok {
		handlers = append(handlers, h...)
	}
	if h, ok := eb.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events matching the given type since the
// given time. Use "*" for all event types.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history
// buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
