// Package orchestrator runs the coordination loop that moves features from
// ready to claimed to done, delegating process handling to the supervisor
// and persistence to the feature store.
package orchestrator

import (
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates the run loop has begun ticking.
	EventRunStarted EventType = "run_started"
	// EventRunStopped indicates the run reached a terminal state.
	EventRunStopped EventType = "run_stopped"
	// EventSessionSpawned indicates a worker session was launched.
	EventSessionSpawned EventType = "session_spawned"
	// EventSessionDone indicates a worker session was harvested.
	EventSessionDone EventType = "session_done"
	// EventFeatureCompleted indicates a feature was marked passing.
	EventFeatureCompleted EventType = "feature_completed"
	// EventFeatureAbandoned indicates a claim was released without completion.
	EventFeatureAbandoned EventType = "feature_abandoned"
	// EventSoftStop indicates a drain was requested.
	EventSoftStop EventType = "soft_stop_requested"
	// EventHardStop indicates an immediate teardown was requested.
	EventHardStop EventType = "hard_stop_requested"
	// EventWorkerStuck flags a session whose output has stalled. The
	// session is never killed for this; the operator decides.
	EventWorkerStuck EventType = "worker_stuck"
	// EventBlockedWork warns that remaining features can never become
	// ready, usually because of a dependency on a missing feature.
	EventBlockedWork EventType = "blocked_work"
	// EventStoreTrouble reports a feature-store error the loop absorbed.
	EventStoreTrouble EventType = "store_trouble"
)

// Event is one orchestrator occurrence, consumed by the TUI and logs.
type Event struct {
	Type       EventType
	Slot       int
	Role       models.WorkerRole
	FeatureIDs []int64
	Outcome    models.Outcome
	Message    string
	Err        error
	Timestamp  time.Time
}

// EventEmitter fans orchestrator events out to one subscriber with a
// bounded buffer. Emission never blocks the run loop; a full buffer drops
// the event instead.
type EventEmitter struct {
	events chan Event
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{events: make(chan Event, bufferSize)}
}

// Emit sends the event if the buffer has room and drops it otherwise.
func (e *EventEmitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.events <- ev:
	default:
		debugLog("[orchestrator] event buffer full, dropped %s", ev.Type)
	}
}

// Events returns the subscriber channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the subscriber channel. Call only after the run loop has
// stopped emitting.
func (e *EventEmitter) Close() {
	close(e.events)
}
