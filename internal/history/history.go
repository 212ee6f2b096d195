package history

import (
	"context"
	"errors"
	"io"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStartRequested EventType = "start_requested"
	EventInitialized    EventType = "initialized"
	EventFinished       EventType = "finished"
	EventBroken         EventType = "broken"
	EventTimeout        EventType = "timeout"
	EventStopped        EventType = "stopped"
	EventKilled         EventType = "killed"
	EventCleaned        EventType = "cleaned"
)

// DefaultTable is the table (or index) name used when a DSN does not name one.
const DefaultTable = "app_history"

// Event represents a lifecycle event to be exported to external systems.
// Node is empty for service-wide events.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	Node       string    `json:"node,omitempty"`
	State      string    `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink. All sinks are tried; errors are joined.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
