package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action types for audit events
type Action string

const (
	ActionRotationBegin     Action = "rotation_begin"
	ActionRotationFailed    Action = "rotation_failed"
	ActionRotationFinalized Action = "rotation_finalized"
	ActionRotationRecovered Action = "rotation_recovered"
	ActionRotationReset     Action = "rotation_reset"
	ActionKeyGenerated      Action = "key_generated"
	ActionKeyInvalidated    Action = "key_invalidated"
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     Action    `json:"action"`
	Status     Status    `json:"status"`
	RotationID string    `json:"rotation_id,omitempty"`
	KeyID      uint32    `json:"key_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Logger records rotation lifecycle events. Events are kept in a bounded
// in-memory buffer and, when a sink is configured, appended durably to
// disk. Rotation events are rare; each one is fsync'd.
type Logger struct {
	mu      sync.Mutex
	events  []Event
	maxSize int
	sink    *FileSink
}

// NewLogger creates an audit logger with an in-memory buffer of maxSize
// events (0 selects a default of 1000).
func NewLogger(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Logger{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// SetSink attaches a durable file sink. Events recorded after this call
// are appended to it.
func (l *Logger) SetSink(sink *FileSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Record stores an audit event, filling in id and timestamp.
func (l *Logger) Record(event Event) Event {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= l.maxSize {
		// Drop the oldest event
		l.events = l.events[1:]
	}
	l.events = append(l.events, event)

	if l.sink != nil {
		// A sink write failure must not block the operation being
		// audited; the event is still in the memory buffer.
		_ = l.sink.Append(event)
	}

	return event
}

// Events returns a copy of the buffered events, oldest first.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsByAction returns buffered events matching the given action.
func (l *Logger) EventsByAction(action Action) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
