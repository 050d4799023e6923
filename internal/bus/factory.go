package bus

import (
	"fmt"
	"strings"

	"github.com/docfold/docbench/internal/config"
	"github.com/docfold/docbench/internal/pkg/errors"
	"github.com/docfold/docbench/internal/pkg/logger"
)

// NewBus creates the configured bus, wrapped with the event log when one is
// configured.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var b Bus

	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}
		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaGroup,
		}, log)
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.EventLog != "" {
		el, err := NewEventLogger(cfg.EventLog)
		if err != nil {
			b.Close()
			return nil, err
		}
		b = NewLoggedBus(b, el, log)
	}
	return b, nil
}
