package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/usage"
)

// Account rule codes.
const (
	CodeMaxActiveBookings = "ACC-001"
	CodeWeeklyBookings    = "ACC-002"
	CodeDailyMinutes      = "ACC-003"
	CodeAdvanceWindow     = "ACC-004"
	CodePrimeTimeWeekly   = "ACC-005"
	CodeStrikeSuspension  = "ACC-006"
	CodeAccountStatus     = "ACC-007"
	CodeLateCancellation  = "ACC-008"
)

// AccountEvaluators returns the built-in account rules.
func AccountEvaluators() []Evaluator {
	return []Evaluator{
		NewEvaluator(CodeMaxActiveBookings, "Maximum active reservations", domain.CategoryAccount, evalMaxActiveBookings),
		NewEvaluator(CodeWeeklyBookings, "Weekly booking limit", domain.CategoryAccount, evalWeeklyBookings),
		NewEvaluator(CodeDailyMinutes, "Daily minutes limit", domain.CategoryAccount, evalDailyMinutes),
		NewEvaluator(CodeAdvanceWindow, "Advance booking window", domain.CategoryAccount, evalAdvanceWindow),
		NewEvaluator(CodePrimeTimeWeekly, "Prime time weekly limit", domain.CategoryAccount, evalPrimeTimeWeekly),
		NewEvaluator(CodeStrikeSuspension, "Strike suspension", domain.CategoryAccount, evalStrikeSuspension),
		NewEvaluator(CodeAccountStatus, "Account status", domain.CategoryAccount, evalAccountStatus),
		NewEvaluator(CodeLateCancellation, "Late cancellation policy", domain.CategoryAccount, evalLateCancellation),
	}
}

func evalMaxActiveBookings(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 3)
	count := usage.CountActive(rc.ExistingBookings, rc.Now)

	details := map[string]any{"limit": limit, "count": count}
	if count >= limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("You already have %d active reservations (maximum %d)", count, limit), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalWeeklyBookings(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 3)
	count := usage.CountInWeek(rc.ExistingBookings, rc.Start) + 1

	details := map[string]any{"limit": limit, "count": count}
	if count > limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("Maximum of %d bookings per week exceeded", limit), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalDailyMinutes(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 120)
	used := usage.MinutesOnDay(rc.ExistingBookings, rc.Start)
	requested := rc.DurationMinutes()
	total := used + requested

	details := map[string]any{
		"limit":     limit,
		"used":      used,
		"requested": requested,
		"total":     total,
	}
	if total > limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("Daily limit of %d minutes exceeded (%d already booked)", limit, used), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalAdvanceWindow(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	maxDays := params.Int("max_days_ahead", 7)
	minMinutes := params.Int("min_minutes_ahead", 0)

	daysAhead := calendarDays(rc.Now.In(rc.Start.Location()), rc.Start)
	minutesAhead := int(math.Floor(rc.Start.Sub(rc.Now).Minutes()))

	details := map[string]any{
		"max_days_ahead":    maxDays,
		"days_ahead":        daysAhead,
		"min_minutes_ahead": minMinutes,
		"minutes_ahead":     minutesAhead,
	}

	if daysAhead > maxDays {
		return fail(domain.SeverityError,
			fmt.Sprintf("Bookings open at most %d days in advance", maxDays), details), nil
	}
	if minutesAhead < minMinutes {
		return fail(domain.SeverityError,
			fmt.Sprintf("Bookings must be made at least %d minutes in advance", minMinutes), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

// calendarDays counts calendar days from a to b, ignoring clock time and DST shifts.
func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func evalPrimeTimeWeekly(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	limit := params.Int("limit", 2)
	if !rc.IsPrimeTime {
		return pass(domain.SeverityError, map[string]any{"limit": limit, "count": 0}), nil
	}

	count := usage.CountPrimeInWeek(rc.ExistingBookings, rc.Start) + 1
	details := map[string]any{"limit": limit, "count": count}
	if count > limit {
		return fail(domain.SeverityError,
			fmt.Sprintf("Maximum of %d prime time bookings per week exceeded", limit), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalStrikeSuspension(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	maxStrikes := params.Int("max_strikes", 3)
	strikes := 0
	if rc.User != nil {
		strikes = rc.User.ActiveStrikes
	}

	details := map[string]any{"max_strikes": maxStrikes, "strikes": strikes}
	if strikes >= maxStrikes {
		return fail(domain.SeverityError,
			fmt.Sprintf("Booking suspended: %d active strikes (limit %d)", strikes, maxStrikes), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalAccountStatus(rc *domain.RuleContext, _ domain.RuleParams) (domain.RuleResult, error) {
	status := domain.StatusActive
	if rc.User != nil && rc.User.Status != "" {
		status = rc.User.Status
	}

	details := map[string]any{"status": status}
	if status != domain.StatusActive {
		return fail(domain.SeverityError, fmt.Sprintf("Account is %s", status), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

// evalLateCancellation only carries the facility cancellation policy; it is
// consumed by cancellation evaluation and never fails a booking.
func evalLateCancellation(_ *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	return pass(domain.SeverityWarning, map[string]any{
		"cancel_cutoff_minutes": params.Int("cancel_cutoff_minutes", domain.DefaultCancelCutoffMinutes),
		"penalty_type":          params.String("penalty_type", domain.DefaultPenaltyType),
	}), nil
}
