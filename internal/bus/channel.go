// Package bus carries evaluation requests and results between the API and
// the evaluation worker.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/google/uuid"
)

const defaultRequestTimeout = 30 * time.Second

// ChannelBus implements EventBus with in-process channels.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id     string
	key    string
	topic  string
	bus    *ChannelBus
	msgCh  chan *domain.Message
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every current subscriber of the topic.
// A subscriber whose buffer is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, facilityID string, topic string, payload []byte) error {
	return b.publish(facilityID, topic, payload, nil)
}

func (b *ChannelBus) publish(facilityID, topic string, payload []byte, metadata map[string]string) error {
	if facilityID == "" {
		return errFacilityRequired
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}

	msg := &domain.Message{
		ID:         uuid.New().String(),
		FacilityID: facilityID,
		Topic:      topic,
		Payload:    payload,
		Metadata:   metadata,
		Timestamp:  time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subscriptions[makeKey(facilityID, topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"facility_id", facilityID,
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. Handlers of one subscription
// run sequentially.
func (b *ChannelBus) Subscribe(ctx context.Context, facilityID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if facilityID == "" {
		return nil, errFacilityRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:     uuid.New().String(),
		key:    makeKey(facilityID, topic),
		topic:  topic,
		bus:    b,
		msgCh:  make(chan *domain.Message, b.bufferSize),
		ctx:    subCtx,
		cancel: cancel,
	}

	go sub.run(handler)

	b.subscriptions[sub.key] = append(b.subscriptions[sub.key], sub)
	return sub, nil
}

func (s *channelSubscription) run(handler domain.MessageHandler) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes a message carrying a reply topic and waits for the
// first reply published to it.
func (b *ChannelBus) Request(ctx context.Context, facilityID string, topic string, payload []byte) ([]byte, error) {
	if facilityID == "" {
		return nil, errFacilityRequired
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, facilityID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	metadata := map[string]string{domain.MetadataReplyTo: replyTopic}
	if err := b.publish(facilityID, topic, payload, metadata); err != nil {
		return nil, err
	}

	timer := time.NewTimer(defaultRequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("request timeout on %s", topic)
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Further publishes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.key]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscriptions[sub.key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[sub.key]) == 0 {
		delete(b.subscriptions, sub.key)
	}
}

func makeKey(facilityID, topic string) string {
	return facilityID + ":" + topic
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
