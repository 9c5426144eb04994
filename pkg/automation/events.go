package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType names a progress notification.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventLoopIteration EventType = "loop_iteration"
	EventBranchTaken   EventType = "branch_taken"
	EventRunCompleted  EventType = "run_completed"
	// EventProgress is emitted by actions through RunContext.Emit.
	EventProgress EventType = "progress"
)

// Event is a progress notification about a run.
type Event struct {
	Type         EventType      `json:"type"`
	RunID        string         `json:"run_id"`
	AutomationID string         `json:"automation_id"`
	StepID       string         `json:"step_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// EventListener handles an event. Returned errors are logged and dropped.
type EventListener func(ctx context.Context, event *Event) error

// EventEmitter fans events out to listeners. Emit never waits for a
// listener; each call runs on its own goroutine.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	wildcard  []EventListener
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewEventEmitter creates an emitter that logs listener errors to logger.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		listeners: make(map[EventType][]EventListener),
		logger:    logger,
	}
}

// On registers listener for one event type.
func (e *EventEmitter) On(eventType EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// OnAny registers listener for every event type.
func (e *EventEmitter) OnAny(listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wildcard = append(e.wildcard, listener)
}

// Off removes all listeners for eventType.
func (e *EventEmitter) Off(eventType EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, eventType)
}

// Emit dispatches event and returns immediately. The listener context is
// detached from ctx cancellation so a finished run does not cut delivery
// short.
func (e *EventEmitter) Emit(ctx context.Context, event *Event) {
	if e == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	targets := make([]EventListener, 0, len(e.listeners[event.Type])+len(e.wildcard))
	targets = append(targets, e.listeners[event.Type]...)
	targets = append(targets, e.wildcard...)
	e.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, l := range targets {
		e.wg.Add(1)
		go func(l EventListener) {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("event listener panicked",
						slog.String("event", string(event.Type)),
						slog.String("panic", fmt.Sprint(r)))
				}
			}()
			if err := l(detached, event); err != nil {
				e.logger.Warn("event listener failed",
					slog.String("event", string(event.Type)),
					slog.String("run_id", event.RunID),
					slog.Any("error", err))
			}
		}(l)
	}
}

// Wait blocks until every dispatched listener call has returned or ctx is
// done. The engine never calls it; it exists for shutdown and tests.
func (e *EventEmitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
