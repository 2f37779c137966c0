package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods are scoped by facilityID.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, facilityID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, facilityID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, facilityID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID         string            `json:"id"`
	FacilityID string            `json:"facilityId"`
	Topic      string            `json:"topic"`
	Payload    []byte            `json:"payload"`
	Metadata   map[string]string `json:"metadata"`
	Timestamp  int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `envconfig:"BUS_TYPE"`

	// Channel settings (Community edition)
	ChannelBufferSize int `envconfig:"BUS_CHANNEL_BUFFER"`

	// NATS settings (Pro edition)
	NATSUrl           string `envconfig:"NATS_URL"`
	NATSToken         string `envconfig:"NATS_TOKEN"`
	NATSMaxReconnects int    `envconfig:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `envconfig:"NATS_RECONNECT_WAIT"` // seconds
}

// GlobalFacility scopes messages consumed for every facility.
const GlobalFacility = "_global"

// MetadataReplyTo names the topic a request expects its reply on.
const MetadataReplyTo = "reply_to"

// Standard topic names.
const (
	TopicBookingEvaluate       = "courtkeeper.booking.evaluate"
	TopicBookingEvaluated      = "courtkeeper.booking.evaluated"
	TopicCancellationEvaluate  = "courtkeeper.cancellation.evaluate"
	TopicCancellationEvaluated = "courtkeeper.cancellation.evaluated"
	TopicOverrideApplied       = "courtkeeper.override.applied"
	TopicAuditGap              = "courtkeeper.audit.gap"
)
