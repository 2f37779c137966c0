package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/verdict"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoAuditSink = errors.New("no audit sink configured")

// EvaluateWithOverride evaluates a booking and force-allows it on behalf of an
// administrator. Overriding a blocked booking writes one audit record; a failed
// write is reported through AuditStatus and never re-blocks the booking.
func (e *Engine) EvaluateWithOverride(ctx context.Context, req domain.BookingRequest, ov domain.AdminOverride) (*domain.OverrideResult, error) {
	ctx, span := tracer.Start(ctx, "rules.EvaluateWithOverride", trace.WithAttributes(
		attribute.String("facility.id", req.FacilityID),
		attribute.String("admin.id", ov.AdminID),
	))
	defer span.End()

	res, err := e.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &domain.OverrideResult{
		EvaluationResult: *res,
		AuditStatus:      domain.AuditNotRequired,
	}
	if len(res.Blockers) == 0 {
		out.Allowed = true
		annotate(span, &out.EvaluationResult)
		return out, nil
	}

	out.OverriddenRules = verdict.MarkOverridden(&out.EvaluationResult, ov)

	record := &domain.AuditRecord{
		ID:                   uuid.New().String(),
		UserID:               req.UserID,
		FacilityID:           req.FacilityID,
		ViolationType:        domain.ViolationAdminOverride,
		ViolationDescription: verdict.Describe(out.OverriddenRules),
		Resolved:             true,
		ResolvedBy:           ov.AdminID,
		Notes:                ov.Reason,
		CreatedAt:            time.Now().UTC(),
	}

	if err := e.recordOverride(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to record admin override",
			"facility_id", req.FacilityID,
			"user_id", req.UserID,
			"admin_id", ov.AdminID,
			"rule_codes", out.OverriddenRules,
			"error", err,
		)
		out.AuditStatus = domain.AuditFailed
		out.AuditError = err.Error()
	} else {
		out.AuditStatus = domain.AuditRecorded
		out.AuditRecordID = record.ID
	}

	span.SetAttributes(
		attribute.Int("override.rules", len(out.OverriddenRules)),
		attribute.String("override.audit_status", string(out.AuditStatus)),
	)
	annotate(span, &out.EvaluationResult)
	return out, nil
}

func (e *Engine) recordOverride(ctx context.Context, record *domain.AuditRecord) (err error) {
	if e.audit == nil {
		return errNoAuditSink
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("audit sink panicked")
		}
	}()
	return e.audit.RecordOverride(ctx, record)
}
