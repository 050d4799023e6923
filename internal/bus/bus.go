// Package bus carries evaluation progress events to interested consumers,
// in-process or over Kafka.
package bus

import (
	"context"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "progress.completed", "run.completed").
	Type string `json:"type"`

	// Source is the process that generated the event.
	Source string `json:"source"`

	// RunID groups the events of one evaluation run.
	RunID string `json:"run_id,omitempty"`

	// Timestamp is when the event was created (unix millis).
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Default topics.
const (
	TopicProgress     = "docbench.eval.progress"
	TopicRunCompleted = "docbench.eval.run.completed"
)

// Event types.
const (
	TypeProgressPrefix = "progress."
	TypeRunCompleted   = "run.completed"
)
