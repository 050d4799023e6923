package bus

import (
	"context"

	"github.com/docfold/docbench/internal/pkg/logger"
)

// LoggedBus writes every published event to an EventLogger before handing it
// to the inner bus.
type LoggedBus struct {
	inner       Bus
	eventLogger *EventLogger
	log         *logger.Logger
}

// NewLoggedBus wraps inner.
func NewLoggedBus(inner Bus, eventLogger *EventLogger, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Discard()
	}
	return &LoggedBus{inner: inner, eventLogger: eventLogger, log: log}
}

func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.eventLogger.Log(topic, event); err != nil {
		b.log.Warn("failed to log event to disk", "topic", topic, "error", err)
	}
	return b.inner.Publish(ctx, topic, event)
}

func (b *LoggedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the event log and then the inner bus.
func (b *LoggedBus) Close() error {
	if err := b.eventLogger.Close(); err != nil {
		b.log.Warn("failed to close event logger", "error", err)
	}
	return b.inner.Close()
}
