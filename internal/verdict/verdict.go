// Package verdict aggregates rule results into a booking decision.
package verdict

import (
	"strings"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// SkippedMessage is the SYSTEM warning returned when rule configuration
// storage is not provisioned.
const SkippedMessage = "Rule validation skipped: rule configuration is not provisioned for this facility"

// Aggregate partitions results into blockers and warnings.
// A booking is allowed exactly when no failed rule has error severity.
func Aggregate(results []domain.RuleResult, isPrimeTime bool) *domain.EvaluationResult {
	res := &domain.EvaluationResult{
		Results:     nonNil(results),
		Blockers:    []domain.RuleResult{},
		Warnings:    []domain.RuleResult{},
		IsPrimeTime: isPrimeTime,
	}

	for _, r := range res.Results {
		if r.Passed {
			continue
		}
		switch r.Severity {
		case domain.SeverityError:
			res.Blockers = append(res.Blockers, r)
		case domain.SeverityWarning:
			res.Warnings = append(res.Warnings, r)
		}
	}

	res.Allowed = len(res.Blockers) == 0
	return res
}

// Degraded returns the always-allow result used when rule configuration
// storage is missing.
func Degraded() *domain.EvaluationResult {
	return &domain.EvaluationResult{
		Allowed:  true,
		Results:  []domain.RuleResult{},
		Blockers: []domain.RuleResult{},
		Warnings: []domain.RuleResult{
			{
				RuleCode: domain.SystemRuleCode,
				RuleName: "Rule validation",
				Passed:   false,
				Severity: domain.SeverityWarning,
				Message:  SkippedMessage,
				Details:  map[string]any{"reason": "schema_not_ready"},
			},
		},
	}
}

// MarkOverridden annotates every blocker as overridden and force-allows the
// result. It returns the overridden rule codes in evaluation order.
// Blockers share their Details maps with Results, so both views carry the annotation.
func MarkOverridden(res *domain.EvaluationResult, ov domain.AdminOverride) []string {
	codes := make([]string, 0, len(res.Blockers))
	for i := range res.Blockers {
		b := &res.Blockers[i]
		if b.Details == nil {
			b.Details = map[string]any{}
		}
		b.Details["overridden"] = true
		b.Details["overriddenBy"] = ov.AdminID
		b.Details["overrideReason"] = ov.Reason
		codes = append(codes, b.RuleCode)
	}
	res.Allowed = true
	return codes
}

// Reasons extracts the human-readable messages of all failed rules.
func Reasons(res *domain.EvaluationResult) []string {
	var reasons []string
	for _, r := range res.Blockers {
		if r.Message != "" {
			reasons = append(reasons, r.Message)
		}
	}
	for _, r := range res.Warnings {
		if r.Message != "" {
			reasons = append(reasons, r.Message)
		}
	}
	return reasons
}

// Describe renders the audit description of an override.
func Describe(codes []string) string {
	return "Admin override of blocked rules: " + strings.Join(codes, ", ")
}

func nonNil(results []domain.RuleResult) []domain.RuleResult {
	if results == nil {
		return []domain.RuleResult{}
	}
	return results
}
