package bus

import (
	"fmt"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

var errFacilityRequired = fmt.Errorf("%w: facilityID is required", domain.ErrInvalidInput)

// New creates a new event bus based on configuration.
// "channel" is the in-process community bus; "nats" the pro edition bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
