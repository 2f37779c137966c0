// Package worker evaluates bookings and cancellations received on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/google/uuid"
)

// ErrStopped is returned for messages delivered after Stop began.
var ErrStopped = errors.New("worker stopped")

// Evaluator is the part of the rules engine the worker drives.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.BookingRequest) (*domain.EvaluationResult, error)
	EvaluateCancellation(ctx context.Context, req domain.CancellationRequest) (*domain.CancellationEvaluationResult, error)
}

// Worker consumes evaluate topics and publishes evaluated results.
type Worker struct {
	bus    domain.EventBus
	engine Evaluator
	cache  domain.Cache
	ttl    time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription

	// flight guards stopping so no handler joins wg once Stop waits on it.
	flight   sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// FacilityIDs to consume for; empty consumes domain.GlobalFacility.
	FacilityIDs []string

	// ResultTTL is how long results stay retrievable from the cache.
	ResultTTL time.Duration
}

// BookingMessage is the payload of TopicBookingEvaluate.
type BookingMessage struct {
	EvaluationID string                `json:"evaluationId,omitempty"`
	Request      domain.BookingRequest `json:"request"`
}

// CancellationMessage is the payload of TopicCancellationEvaluate.
type CancellationMessage struct {
	EvaluationID string                     `json:"evaluationId,omitempty"`
	FacilityID   string                     `json:"facilityId,omitempty"`
	Request      domain.CancellationRequest `json:"request"`
}

// NewWorker creates a worker. cache may be nil.
func NewWorker(bus domain.EventBus, engine Evaluator, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the evaluate topics of every configured facility.
func (w *Worker) Start(cfg Config) error {
	w.ttl = cfg.ResultTTL
	if w.ttl <= 0 {
		w.ttl = 15 * time.Minute
	}

	facilities := cfg.FacilityIDs
	if len(facilities) == 0 {
		facilities = []string{domain.GlobalFacility}
	}

	handlers := map[string]domain.MessageHandler{
		domain.TopicBookingEvaluate:      w.track(w.handleBooking),
		domain.TopicCancellationEvaluate: w.track(w.handleCancellation),
	}

	started := 0
	for _, facilityID := range facilities {
		for topic, handler := range handlers {
			sub, err := w.bus.Subscribe(w.ctx, facilityID, topic, handler)
			if err != nil {
				slog.Error("failed to start worker for facility",
					"facility_id", facilityID,
					"topic", topic,
					"error", err,
				)
				continue
			}
			w.mu.Lock()
			w.subscriptions = append(w.subscriptions, sub)
			w.mu.Unlock()
			started++
		}
	}
	if started == 0 {
		return fmt.Errorf("worker could not subscribe to any topic")
	}

	slog.Info("workers started",
		"facility_count", len(facilities),
		"subscriptions", started,
	)
	return nil
}

// track counts in-flight handlers so Stop can wait for them.
func (w *Worker) track(h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.flight.Lock()
		if w.stopping {
			w.flight.Unlock()
			return ErrStopped
		}
		w.wg.Add(1)
		w.flight.Unlock()

		defer w.wg.Done()
		return h(ctx, msg)
	}
}

func (w *Worker) handleBooking(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var in BookingMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		slog.Error("failed to parse booking message", "message_id", msg.ID, "error", err)
		return err
	}

	facilityID := in.Request.FacilityID
	if facilityID == "" {
		facilityID = msg.FacilityID
	}

	res, err := w.engine.Evaluate(ctx, in.Request)
	if err != nil {
		slog.Error("booking evaluation failed",
			"facility_id", facilityID,
			"user_id", in.Request.UserID,
			"error", err,
		)
		return w.reply(ctx, msg, errorReply(err))
	}

	record := &domain.EvaluationRecord{
		ID:         evaluationID(in.EvaluationID),
		FacilityID: facilityID,
		Kind:       domain.KindBooking,
		CreatedAt:  time.Now().UTC(),
		Booking:    res,
	}
	w.finish(ctx, msg, record, domain.TopicBookingEvaluated)

	slog.Info("booking evaluated",
		"evaluation_id", record.ID,
		"facility_id", facilityID,
		"allowed", res.Allowed,
		"blockers", len(res.Blockers),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleCancellation(ctx context.Context, msg *domain.Message) error {
	var in CancellationMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		slog.Error("failed to parse cancellation message", "message_id", msg.ID, "error", err)
		return err
	}

	facilityID := in.FacilityID
	if facilityID == "" {
		facilityID = msg.FacilityID
	}

	res, err := w.engine.EvaluateCancellation(ctx, in.Request)
	if err != nil {
		slog.Error("cancellation evaluation failed",
			"booking_id", in.Request.BookingID,
			"error", err,
		)
		return w.reply(ctx, msg, errorReply(err))
	}

	record := &domain.EvaluationRecord{
		ID:           evaluationID(in.EvaluationID),
		FacilityID:   facilityID,
		Kind:         domain.KindCancellation,
		CreatedAt:    time.Now().UTC(),
		Cancellation: res,
	}
	w.finish(ctx, msg, record, domain.TopicCancellationEvaluated)

	slog.Info("cancellation evaluated",
		"evaluation_id", record.ID,
		"booking_id", in.Request.BookingID,
		"late", res.IsLateCancel,
		"strike", res.StrikeWillBeIssued,
	)
	return nil
}

// finish caches the record, publishes it and answers the requester.
// Failures are logged; the evaluation itself already succeeded.
func (w *Worker) finish(ctx context.Context, msg *domain.Message, record *domain.EvaluationRecord, topic string) {
	if w.cache != nil && record.FacilityID != domain.GlobalFacility {
		if err := w.cache.SetEvaluation(ctx, record.FacilityID, record, w.ttl); err != nil {
			slog.Warn("failed to cache evaluation",
				"evaluation_id", record.ID,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to encode evaluation", "evaluation_id", record.ID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, record.FacilityID, topic, payload); err != nil {
		slog.Error("failed to publish evaluation",
			"evaluation_id", record.ID,
			"topic", topic,
			"error", err,
		)
	}
	if err := w.reply(ctx, msg, payload); err != nil {
		slog.Error("failed to reply", "evaluation_id", record.ID, "error", err)
	}
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[domain.MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return w.bus.Publish(ctx, msg.FacilityID, replyTo, payload)
}

// ErrorReply is the reply payload when an evaluation could not be run.
type ErrorReply struct {
	Error string `json:"error"`
}

func errorReply(err error) []byte {
	payload, _ := json.Marshal(ErrorReply{Error: err.Error()})
	return payload
}

func evaluationID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// Stop unsubscribes and waits for in-flight evaluations.
func (w *Worker) Stop() error {
	w.flight.Lock()
	w.stopping = true
	w.flight.Unlock()

	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
