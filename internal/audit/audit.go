// Package audit persists the override audit trail.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/google/uuid"
)

// Sink is a domain.AuditSink that owns resources.
type Sink interface {
	domain.AuditSink
	Ping(ctx context.Context) error
	Close() error
}

// New creates the audit sink selected by cfg.Sink.
// The SQL sink shares repo and does not close it.
func New(ctx context.Context, cfg domain.AuditConfig, repo domain.Repository) (Sink, error) {
	switch cfg.Sink {
	case "", "sql":
		return NewSQLSink(repo), nil
	case "mongo":
		return NewMongoSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported audit sink: %s", cfg.Sink)
	}
}

// prepare fills the fields every sink requires.
func prepare(record *domain.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("%w: audit record is required", domain.ErrInvalidInput)
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.ViolationType == "" {
		record.ViolationType = domain.ViolationAdminOverride
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return nil
}

// SQLSink writes audit records to the repository's rule_violations table.
type SQLSink struct {
	repo domain.Repository
}

// NewSQLSink creates a sink backed by repo.
func NewSQLSink(repo domain.Repository) *SQLSink {
	return &SQLSink{repo: repo}
}

// RecordOverride appends one record.
func (s *SQLSink) RecordOverride(ctx context.Context, record *domain.AuditRecord) error {
	if err := prepare(record); err != nil {
		return err
	}
	if err := s.repo.SaveViolation(ctx, record); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func (s *SQLSink) Ping(ctx context.Context) error { return s.repo.Ping(ctx) }
func (s *SQLSink) Close() error                   { return nil }
