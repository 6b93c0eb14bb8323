package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventStart EventType = "start" // child spawned
	EventExit  EventType = "exit"  // child exited on its own or after a kill
	EventKill  EventType = "kill"  // stop requested for a live child
	EventSkip  EventType = "skip"  // duplicate guard suppressed a launch
	EventFail  EventType = "fail"  // spawn or termination failed
)

// Record identifies the entry an event is about.
type Record struct {
	Profile string `json:"profile" db:"profile"`
	Entry   string `json:"entry" db:"entry"`
	Path    string `json:"path" db:"path"`
	PID     int    `json:"pid" db:"pid"`
	ExitErr string `json:"exit_err,omitempty" db:"exit_err"`
}

// Event represents a supervision event to be exported to external systems.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// NewEvent stamps a fresh ID and the current UTC time.
func NewEvent(t EventType, r Record) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: time.Now().UTC(), Record: r}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can serve recent events back.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
