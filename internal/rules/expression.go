package rules

import (
	"fmt"
	"sync"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/usage"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// CodeCustomExpression is the rule code of facility-defined CEL rules.
const CodeCustomExpression = "CUS-001"

// ExpressionEvaluator evaluates facility-defined CEL expressions.
// An expression that yields true means the rule fails.
type ExpressionEvaluator struct {
	env      *cel.Env
	programs sync.Map // expression text -> cel.Program
}

// NewExpressionEvaluator creates the CEL environment for custom rules.
func NewExpressionEvaluator() (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("duration_minutes", cel.IntType),
		cel.Variable("booking_type", cel.StringType),
		cel.Variable("is_prime_time", cel.BoolType),
		cel.Variable("court_id", cel.StringType),
		cel.Variable("tier_id", cel.StringType),
		cel.Variable("active_bookings", cel.IntType),
		cel.Variable("week_bookings", cel.IntType),
		cel.Variable("strikes", cel.IntType),
		cel.Variable("household_size", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionEvaluator{env: env}, nil
}

func (e *ExpressionEvaluator) Code() string                  { return CodeCustomExpression }
func (e *ExpressionEvaluator) Name() string                  { return "Custom rule" }
func (e *ExpressionEvaluator) Category() domain.RuleCategory { return domain.CategoryAccount }

// Compile validates an expression without evaluating it.
func (e *ExpressionEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs the configured expression against the context.
func (e *ExpressionEvaluator) Evaluate(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	expression := params.String("expression", "")
	severity := domain.Severity(params.String("severity", string(domain.SeverityError)))
	if severity != domain.SeverityError && severity != domain.SeverityWarning {
		return domain.RuleResult{}, fmt.Errorf("unknown severity %q", severity)
	}

	prg, err := e.program(expression)
	if err != nil {
		return domain.RuleResult{}, err
	}

	activation := activationFor(rc)
	out, _, err := prg.Eval(activation)
	if err != nil {
		return domain.RuleResult{}, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return domain.RuleResult{}, fmt.Errorf("expression returned %s, want bool", out.Type().TypeName())
	}

	details := make(map[string]any, len(activation)+1)
	for k, v := range activation {
		details[k] = v
	}
	details["expression"] = expression

	if bool(matched) {
		return fail(severity, params.String("message", "Custom booking rule matched"), details), nil
	}
	return pass(severity, details), nil
}

func (e *ExpressionEvaluator) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression is required")
	}
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	actual, _ := e.programs.LoadOrStore(expression, prg)
	return actual.(cel.Program), nil
}

func activationFor(rc *domain.RuleContext) map[string]any {
	strikes := 0
	if rc.User != nil {
		strikes = rc.User.ActiveStrikes
	}
	householdSize := 0
	if rc.Household != nil {
		householdSize = len(rc.Household.MemberIDs)
	}

	return map[string]any{
		"duration_minutes": int64(rc.DurationMinutes()),
		"booking_type":     rc.Request.BookingType,
		"is_prime_time":    rc.IsPrimeTime,
		"court_id":         rc.Request.CourtID,
		"tier_id":          rc.TierID(),
		"active_bookings":  int64(usage.CountActive(rc.ExistingBookings, rc.Now)),
		"week_bookings":    int64(usage.CountInWeek(rc.ExistingBookings, rc.Start)),
		"strikes":          int64(strikes),
		"household_size":   int64(householdSize),
		"hour":             int64(rc.Start.Hour()),
		"weekday":          int64(rc.Start.Weekday()),
	}
}
