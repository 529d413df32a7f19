package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/procflow/procflow/pkg/channels/gochannel"
	"github.com/procflow/procflow/pkg/channels/kafka"
	"github.com/procflow/procflow/pkg/eventbus"
)

// NewEventBus builds the event bus for a binary. "kafka" is the
// production transport; "gochannel" keeps everything in-process for
// development.
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "procflow")
		if err != nil {
			return nil, fmt.Errorf("creating kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil

	case "gochannel", "memory":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("creating gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil

	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
