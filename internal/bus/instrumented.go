package bus

import (
	"context"
	"time"
)

// MetricsRecorder records publish outcomes. Implemented by the metrics package.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
}

// InstrumentedBus wraps a Bus with publish metrics.
type InstrumentedBus struct {
	inner   Bus
	metrics MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder returns inner unchanged.
func NewInstrumentedBus(inner Bus, metrics MetricsRecorder) Bus {
	if metrics == nil {
		return inner
	}
	return &InstrumentedBus{inner: inner, metrics: metrics}
}

func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	b.metrics.RecordBusPublish(topic, time.Since(start), err)
	return err
}

func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
