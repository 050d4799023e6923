package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docfold/docbench/internal/evaluation"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// Publisher turns runner progress into bus events. It satisfies
// evaluation.Observer.
type Publisher struct {
	bus     Bus
	topic   string
	runID   string
	source  string
	timeout time.Duration
	log     *logger.Logger
}

// NewPublisher publishes events for runID on topic (TopicProgress when empty).
func NewPublisher(b Bus, topic, runID string, log *logger.Logger) *Publisher {
	if topic == "" {
		topic = TopicProgress
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{
		bus:     b,
		topic:   topic,
		runID:   runID,
		source:  "docbench",
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Observe publishes p. Failures are logged and never reach the runner.
func (p *Publisher) Observe(pr evaluation.Progress) {
	p.publish(p.topic, TypeProgressPrefix+string(pr.Status), pr)
}

// RunCompleted announces the end of the run with its summary payload.
func (p *Publisher) RunCompleted(payload any) {
	p.publish(TopicRunCompleted, TypeRunCompleted, payload)
}

func (p *Publisher) publish(topic, typ string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	event := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    p.source,
		RunID:     p.runID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if err := p.bus.Publish(ctx, topic, event); err != nil {
		p.log.WithRun(p.runID).Warn("failed to publish event", "topic", topic, "type", typ, "error", err)
	}
}
