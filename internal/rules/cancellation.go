package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/verdict"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CancellationPolicy is the cutoff and penalty that apply to one booking.
type CancellationPolicy struct {
	CutoffMinutes int
	PenaltyType   string

	// RuleCode and Template are empty when the default policy applies.
	RuleCode string
	Template string
}

// DefaultCancellationPolicy applies when no cancellation rule is configured.
func DefaultCancellationPolicy() CancellationPolicy {
	return CancellationPolicy{
		CutoffMinutes: domain.DefaultCancelCutoffMinutes,
		PenaltyType:   domain.DefaultPenaltyType,
	}
}

// ResolveCancellationPolicy picks the policy for a booking on courtID owned by
// a user of tierID. Only rules whose court and tier allow-lists admit the
// booking are considered. A court cancellation rule wins over the facility
// late cancellation rule; among court rules one naming the court explicitly
// wins over an unscoped one. Without either the default policy applies.
func ResolveCancellationPolicy(rules []domain.FacilityRuleConfig, courtID, tierID string) CancellationPolicy {
	var scoped, unscoped, facility *domain.FacilityRuleConfig

	for i := range rules {
		rule := &rules[i]
		if !rule.Applies(courtID, tierID) {
			continue
		}
		switch rule.RuleCode {
		case CodeCancellationCutoff:
			if len(rule.AppliesToCourtIDs) > 0 {
				if scoped == nil {
					scoped = rule
				}
			} else if unscoped == nil {
				unscoped = rule
			}
		case CodeLateCancellation:
			if facility == nil {
				facility = rule
			}
		}
	}

	for _, rule := range []*domain.FacilityRuleConfig{scoped, unscoped, facility} {
		if rule != nil {
			return policyFromRule(rule)
		}
	}
	return DefaultCancellationPolicy()
}

func policyFromRule(rule *domain.FacilityRuleConfig) CancellationPolicy {
	return CancellationPolicy{
		CutoffMinutes: rule.RuleConfig.Int("cancel_cutoff_minutes", domain.DefaultCancelCutoffMinutes),
		PenaltyType:   rule.RuleConfig.String("penalty_type", domain.DefaultPenaltyType),
		RuleCode:      rule.RuleCode,
		Template:      rule.FailureMessageTemplate,
	}
}

// EvaluateCancellation determines the consequence of cancelling a booking.
// Cancellation is never blocked; only the late flag and strike change.
func (e *Engine) EvaluateCancellation(ctx context.Context, req domain.CancellationRequest) (*domain.CancellationEvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "rules.EvaluateCancellation", trace.WithAttributes(
		attribute.String("booking.id", req.BookingID),
	))
	defer span.End()

	cc, err := e.builder.BuildCancellation(ctx, req)
	if errors.Is(err, domain.ErrSchemaNotReady) {
		slog.Warn("rule configuration not provisioned, skipping cancellation rules",
			"booking_id", req.BookingID,
			"error", err,
		)
		return &domain.CancellationEvaluationResult{
			Allowed:       true,
			CutoffMinutes: domain.DefaultCancelCutoffMinutes,
			PenaltyType:   domain.PenaltyNone,
			Message:       verdict.SkippedMessage,
		}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := EvaluateCancellationContext(cc)
	span.SetAttributes(
		attribute.Bool("cancellation.late", res.IsLateCancel),
		attribute.Bool("cancellation.strike", res.StrikeWillBeIssued),
		attribute.Int("cancellation.minutes_before_start", res.MinutesBeforeStart),
	)
	return res, nil
}

// EvaluateCancellationContext applies the resolved policy to an assembled
// cancellation context.
func EvaluateCancellationContext(cc *domain.CancellationContext) *domain.CancellationEvaluationResult {
	policy := ResolveCancellationPolicy(cc.Facility.Rules, cc.Booking.CourtID, cc.TierID)

	minutes := int(math.Floor(cc.Booking.Start.Sub(cc.Now).Minutes()))
	late := minutes < policy.CutoffMinutes
	strike := late && policy.PenaltyType == domain.PenaltyStrike

	res := &domain.CancellationEvaluationResult{
		Allowed:            true,
		IsLateCancel:       late,
		StrikeWillBeIssued: strike,
		MinutesBeforeStart: minutes,
		CutoffMinutes:      policy.CutoffMinutes,
		PenaltyType:        policy.PenaltyType,
		RuleCode:           policy.RuleCode,
		PriorStrikes:       cc.PriorStrikes,
	}

	if late {
		details := map[string]any{
			"cutoff_minutes":       policy.CutoffMinutes,
			"minutes_before_start": minutes,
			"penalty_type":         policy.PenaltyType,
			"prior_strikes":        cc.PriorStrikes,
		}
		if policy.Template != "" {
			res.Message = Interpolate(policy.Template, details)
		} else if strike {
			res.Message = fmt.Sprintf("Cancelling less than %d minutes before start time; a strike will be issued", policy.CutoffMinutes)
		} else {
			res.Message = fmt.Sprintf("Cancelling less than %d minutes before start time counts as a late cancellation", policy.CutoffMinutes)
		}
	}

	return res
}
