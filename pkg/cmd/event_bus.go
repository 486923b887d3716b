package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/dukex/bpmnvm/pkg/channels/gochannel"
	"github.com/dukex/bpmnvm/pkg/channels/kafka"
	"github.com/dukex/bpmnvm/pkg/eventbus"
)

type EventBusConfig struct {
	// Provider is "gochannel" or "kafka".
	Provider      string
	KafkaBrokers  []string
	ConsumerGroup string
	Tracing       bool
}

// NewEventBus creates the history event bus of config.Provider.
func NewEventBus(logger *slog.Logger, config EventBusConfig) (*eventbus.WatermillEventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger.With("module", "watermill"))

	switch config.Provider {
	case "", "gochannel":
		pub, sub := gochannel.CreateChannel(watermillLogger, gochannel.DefaultConfig())

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, kafka.Config{
			Brokers:       config.KafkaBrokers,
			ConsumerGroup: config.ConsumerGroup,
			Tracing:       config.Tracing,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.Provider)
	}
}
