package rules

import (
	"fmt"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/usage"
)

// Household rule codes.
const (
	CodeHouseholdActive    = "HH-001"
	CodeHouseholdDaily     = "HH-002"
	CodeHouseholdPrimeTime = "HH-003"
)

// HouseholdEvaluators returns the built-in household rules.
func HouseholdEvaluators() []Evaluator {
	return []Evaluator{
		NewEvaluator(CodeHouseholdActive, "Household active reservations", domain.CategoryHousehold, evalHouseholdActive),
		NewEvaluator(CodeHouseholdDaily, "Household daily bookings", domain.CategoryHousehold, evalHouseholdDaily),
		NewEvaluator(CodeHouseholdPrimeTime, "Household prime time weekly limit", domain.CategoryHousehold, evalHouseholdPrimeTime),
	}
}

func householdBookings(rc *domain.RuleContext) []domain.Booking {
	if rc.Household == nil {
		return nil
	}
	return rc.Household.Bookings
}

func evalHouseholdActive(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 4)
	count := usage.CountActive(householdBookings(rc), rc.Now)

	details := map[string]any{"limit": limit, "count": count}
	if count >= limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("Your household already has %d active reservations (maximum %d)", count, limit), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalHouseholdDaily(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 2)
	count := usage.CountOnDay(householdBookings(rc), rc.Start)

	details := map[string]any{"limit": limit, "count": count}
	if count >= limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("Your household already has %d bookings on this day (maximum %d)", count, limit), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalHouseholdPrimeTime(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 3)
	if !rc.IsPrimeTime {
		return pass(domain.SeverityWarning, map[string]any{"limit": limit, "count": 0}), nil
	}

	count := usage.CountPrimeInWeek(householdBookings(rc), rc.Start)
	details := map[string]any{"limit": limit, "count": count}
	if count >= limit {
		return fail(domain.SeverityWarning,
			fmt.Sprintf("Your household has used %d of %d prime time bookings this week", count, limit), details), nil
	}
	return pass(domain.SeverityWarning, details), nil
}
