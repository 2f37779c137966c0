package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase   = "courtkeeper"
	defaultMongoCollection = "rule_violations"
	defaultMongoTimeout    = 5 * time.Second
)

// MongoSink appends audit records to a MongoDB collection.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoSink connects to MongoDB and ensures the lookup index exists.
func NewMongoSink(ctx context.Context, cfg domain.AuditConfig) (*MongoSink, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("%w: mongo audit sink requires a URI", domain.ErrInvalidInput)
	}

	database := cfg.MongoDatabase
	if database == "" {
		database = defaultMongoDatabase
	}
	collection := cfg.MongoCollection
	if collection == "" {
		collection = defaultMongoCollection
	}
	timeout := cfg.MongoTimeout
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    timeout,
	}

	index := mongo.IndexModel{
		Keys: bson.D{{Key: "facility_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := s.collection.Indexes().CreateOne(connectCtx, index); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create audit index: %w", err)
	}

	return s, nil
}

func (s *MongoSink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if ok && time.Until(deadline) < s.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RecordOverride appends one record. Records are never updated.
func (s *MongoSink) RecordOverride(ctx context.Context, record *domain.AuditRecord) error {
	if err := prepare(record); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: audit record %s already exists", domain.ErrInvalidInput, record.ID)
		}
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// ListByFacility returns a facility's records, newest first.
func (s *MongoSink) ListByFacility(ctx context.Context, facilityID string, limit int64) ([]domain.AuditRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.collection.Find(ctx, bson.M{"facility_id": facilityID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit records: %w", err)
	}
	defer cursor.Close(ctx)

	records := []domain.AuditRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}
	return records, nil
}

// Ping checks connectivity.
func (s *MongoSink) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}
