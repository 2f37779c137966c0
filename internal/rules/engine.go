package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/verdict"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("courtkeeper-rules")

// ContextBuilder assembles the snapshots the engine evaluates.
// Both methods return an error matching domain.ErrSchemaNotReady when rule
// configuration storage is not provisioned.
type ContextBuilder interface {
	Build(ctx context.Context, req domain.BookingRequest) (*domain.RuleContext, error)
	BuildCancellation(ctx context.Context, req domain.CancellationRequest) (*domain.CancellationContext, error)
}

// Engine orchestrates booking and cancellation evaluation.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	builder  ContextBuilder
	registry *Registry
	audit    domain.AuditSink
}

// NewEngine creates an engine. A nil audit sink makes every override report
// an audit failure.
func NewEngine(builder ContextBuilder, registry *Registry, audit domain.AuditSink) *Engine {
	return &Engine{
		builder:  builder,
		registry: registry,
		audit:    audit,
	}
}

// Registry returns the evaluator registry the engine dispatches to.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate checks a booking request against the facility's rules.
func (e *Engine) Evaluate(ctx context.Context, req domain.BookingRequest) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "rules.Evaluate", trace.WithAttributes(
		attribute.String("facility.id", req.FacilityID),
		attribute.String("court.id", req.CourtID),
	))
	defer span.End()

	res, err := e.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	annotate(span, res)
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, req domain.BookingRequest) (*domain.EvaluationResult, error) {
	rc, err := e.builder.Build(ctx, req)
	if errors.Is(err, domain.ErrSchemaNotReady) {
		slog.Warn("rule configuration not provisioned, skipping rule validation",
			"facility_id", req.FacilityID,
			"error", err,
		)
		return verdict.Degraded(), nil
	}
	if err != nil {
		return nil, err
	}

	return e.EvaluateContext(ctx, rc), nil
}

// EvaluateContext runs the applicable rules of an already assembled context.
func (e *Engine) EvaluateContext(ctx context.Context, rc *domain.RuleContext) *domain.EvaluationResult {
	applicable := Applicable(rc.Facility.Rules, rc.Request.CourtID, rc.TierID())

	var results []domain.RuleResult
	for _, category := range domain.EvaluationOrder {
		if category == domain.CategoryHousehold && rc.Household == nil {
			continue
		}
		for i := range applicable {
			rule := &applicable[i]
			if rule.RuleCategory != category {
				continue
			}
			if res, ok := e.evaluateRule(ctx, rc, rule); ok {
				results = append(results, res)
			}
		}
	}

	return verdict.Aggregate(results, rc.IsPrimeTime)
}

// Applicable filters rules by their court and tier allow-lists, preserving order.
func Applicable(rules []domain.FacilityRuleConfig, courtID, tierID string) []domain.FacilityRuleConfig {
	out := make([]domain.FacilityRuleConfig, 0, len(rules))
	for _, rule := range rules {
		if rule.Applies(courtID, tierID) {
			out = append(out, rule)
		}
	}
	return out
}

// evaluateRule runs one rule. It reports false when no evaluator is
// registered for the rule code.
func (e *Engine) evaluateRule(ctx context.Context, rc *domain.RuleContext, rule *domain.FacilityRuleConfig) (result domain.RuleResult, ok bool) {
	ev, found := e.registry.Lookup(rule.RuleCode)
	if !found {
		slog.DebugContext(ctx, "no evaluator registered, skipping rule",
			"rule_code", rule.RuleCode,
			"facility_id", rc.Request.FacilityID,
		)
		return domain.RuleResult{}, false
	}

	name := rule.RuleName
	if name == "" {
		name = ev.Name()
	}

	defer func() {
		if r := recover(); r != nil {
			result = faultResult(ctx, rule.RuleCode, name, fmt.Errorf("panic: %v", r))
			ok = true
		}
	}()

	res, err := ev.Evaluate(rc, rule.RuleConfig)
	if err != nil {
		return faultResult(ctx, rule.RuleCode, name, err), true
	}

	res.RuleCode = rule.RuleCode
	res.RuleName = name
	if res.Severity == "" {
		res.Severity = domain.SeverityError
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	if !res.Passed && rule.FailureMessageTemplate != "" {
		res.Message = Interpolate(rule.FailureMessageTemplate, res.Details)
	}

	return res, true
}

// faultResult converts an evaluator failure into a passing warning.
func faultResult(ctx context.Context, code, name string, err error) domain.RuleResult {
	slog.ErrorContext(ctx, "rule evaluator failed",
		"rule_code", code,
		"error", err,
	)
	return domain.RuleResult{
		RuleCode: code,
		RuleName: name,
		Passed:   true,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("Rule %s could not be evaluated and was skipped", code),
		Details:  map[string]any{"error": err.Error()},
	}
}

func annotate(span trace.Span, res *domain.EvaluationResult) {
	span.SetAttributes(
		attribute.Bool("evaluation.allowed", res.Allowed),
		attribute.Int("evaluation.results", len(res.Results)),
		attribute.Int("evaluation.blockers", len(res.Blockers)),
		attribute.Int("evaluation.warnings", len(res.Warnings)),
	)
}
