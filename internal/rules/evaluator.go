// Package rules provides the booking rule evaluators and the engine that
// orchestrates them.
package rules

import (
	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// Evaluator decides one rule code against an assembled context.
// Implementations read the context only and perform no I/O.
type Evaluator interface {
	// Code is the stable rule code the evaluator is registered under.
	Code() string

	// Name is the display name used when a configuration carries none.
	Name() string

	// Category is the category the rule code belongs to.
	Category() domain.RuleCategory

	// Evaluate returns the verdict for the given parameters.
	Evaluate(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error)
}

// EvalFunc is the signature of a built-in rule.
type EvalFunc func(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error)

type ruleEvaluator struct {
	code     string
	name     string
	category domain.RuleCategory
	fn       EvalFunc
}

// NewEvaluator wraps a function as an Evaluator.
func NewEvaluator(code, name string, category domain.RuleCategory, fn EvalFunc) Evaluator {
	return &ruleEvaluator{code: code, name: name, category: category, fn: fn}
}

func (e *ruleEvaluator) Code() string                  { return e.code }
func (e *ruleEvaluator) Name() string                  { return e.name }
func (e *ruleEvaluator) Category() domain.RuleCategory { return e.category }

func (e *ruleEvaluator) Evaluate(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	return e.fn(rc, params)
}

// pass reports a satisfied rule. The severity is the one the rule fails with.
func pass(severity domain.Severity, details map[string]any) domain.RuleResult {
	return domain.RuleResult{Passed: true, Severity: severity, Details: details}
}

func fail(severity domain.Severity, message string, details map[string]any) domain.RuleResult {
	return domain.RuleResult{Passed: false, Severity: severity, Message: message, Details: details}
}
