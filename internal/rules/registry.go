package rules

import (
	"fmt"
	"sort"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// Registry maps rule codes to evaluators. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry builds a registry from evaluator collections.
// It panics when two evaluators share a code.
func NewRegistry(collections ...[]Evaluator) *Registry {
	r := &Registry{evaluators: make(map[string]Evaluator)}
	for _, collection := range collections {
		for _, ev := range collection {
			if _, dup := r.evaluators[ev.Code()]; dup {
				panic(fmt.Sprintf("rules: duplicate evaluator for code %s", ev.Code()))
			}
			r.evaluators[ev.Code()] = ev
		}
	}
	return r
}

// DefaultRegistry returns the registry of all built-in rules.
func DefaultRegistry() (*Registry, error) {
	expr, err := NewExpressionEvaluator()
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		CourtEvaluators(),
		AccountEvaluators(),
		HouseholdEvaluators(),
		[]Evaluator{expr},
	), nil
}

// Lookup returns the evaluator registered for code.
func (r *Registry) Lookup(code string) (Evaluator, bool) {
	ev, ok := r.evaluators[code]
	return ev, ok
}

// Len returns the number of registered evaluators.
func (r *Registry) Len() int {
	return len(r.evaluators)
}

// Codes returns all registered codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.evaluators))
	for code := range r.evaluators {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// CodesByCategory groups the registered codes by their category.
func (r *Registry) CodesByCategory() map[domain.RuleCategory][]string {
	out := make(map[domain.RuleCategory][]string)
	for _, code := range r.Codes() {
		cat := r.evaluators[code].Category()
		out[cat] = append(out[cat], code)
	}
	return out
}

// Validate checks that a rule configuration can be evaluated: the code must
// be registered, its category must match the evaluator (custom expressions may
// be placed in any category) and expressions must compile.
func (r *Registry) Validate(rule *domain.FacilityRuleConfig) error {
	ev, ok := r.evaluators[rule.RuleCode]
	if !ok {
		return fmt.Errorf("%w: unknown rule code %s", domain.ErrInvalidInput, rule.RuleCode)
	}

	if expr, ok := ev.(*ExpressionEvaluator); ok {
		if err := expr.Compile(rule.RuleConfig.String("expression", "")); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return nil
	}

	if ev.Category() != rule.RuleCategory {
		return fmt.Errorf("%w: rule %s belongs to category %s, not %s",
			domain.ErrInvalidInput, rule.RuleCode, ev.Category(), rule.RuleCategory)
	}
	return nil
}
