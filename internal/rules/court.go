package rules

import (
	"fmt"
	"math"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/usage"
)

// Court rule codes.
const (
	CodeOperatingHours     = "CRT-001"
	CodeBookingDuration    = "CRT-002"
	CodeAllowedTypes       = "CRT-003"
	CodeCourtStatus        = "CRT-004"
	CodeSlotAlignment      = "CRT-005"
	CodeCancellationCutoff = "CRT-012"
)

// CourtEvaluators returns the built-in court rules.
func CourtEvaluators() []Evaluator {
	return []Evaluator{
		NewEvaluator(CodeOperatingHours, "Operating hours", domain.CategoryCourt, evalOperatingHours),
		NewEvaluator(CodeBookingDuration, "Booking duration", domain.CategoryCourt, evalBookingDuration),
		NewEvaluator(CodeAllowedTypes, "Allowed booking types", domain.CategoryCourt, evalAllowedTypes),
		NewEvaluator(CodeCourtStatus, "Court availability", domain.CategoryCourt, evalCourtStatus),
		NewEvaluator(CodeSlotAlignment, "Slot alignment", domain.CategoryCourt, evalSlotAlignment),
		NewEvaluator(CodeCancellationCutoff, "Cancellation cutoff", domain.CategoryCourt, evalCancellationCutoff),
	}
}

func evalOperatingHours(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	openTime := params.String("open_time", "06:00")
	closeTime := params.String("close_time", "22:00")

	open, err := domain.ParseClock(openTime)
	if err != nil {
		return domain.RuleResult{}, fmt.Errorf("open_time: %w", err)
	}
	closing, err := domain.ParseClock(closeTime)
	if err != nil {
		return domain.RuleResult{}, fmt.Errorf("close_time: %w", err)
	}

	midnight := usage.DayStart(rc.Start)
	start := int(rc.Start.Sub(midnight).Minutes())
	end := int(rc.End.Sub(midnight).Minutes())

	details := map[string]any{
		"open_time":  openTime,
		"close_time": closeTime,
		"start_time": rc.Request.StartTime,
		"end_time":   rc.Request.EndTime,
	}

	if start < open || end > closing {
		return fail(domain.SeverityError,
			fmt.Sprintf("Court is open from %s to %s", openTime, closeTime), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalBookingDuration(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	minMinutes := params.Int("min_minutes", 30)
	maxMinutes := params.Int("max_minutes", 120)
	duration := rc.DurationMinutes()

	details := map[string]any{
		"duration":    duration,
		"min_minutes": minMinutes,
		"max_minutes": maxMinutes,
	}

	if duration < minMinutes || duration > maxMinutes {
		return fail(domain.SeverityError,
			fmt.Sprintf("Bookings must last between %d and %d minutes", minMinutes, maxMinutes), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalAllowedTypes(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	allowed := params.Strings("allowed_types")

	details := map[string]any{
		"booking_type":  rc.Request.BookingType,
		"allowed_types": allowed,
	}

	if len(allowed) == 0 {
		return pass(domain.SeverityError, details), nil
	}
	for _, t := range allowed {
		if t == rc.Request.BookingType {
			return pass(domain.SeverityError, details), nil
		}
	}
	return fail(domain.SeverityError,
		fmt.Sprintf("Booking type %s is not allowed on this court", rc.Request.BookingType), details), nil
}

func evalCourtStatus(rc *domain.RuleContext, _ domain.RuleParams) (domain.RuleResult, error) {
	status := domain.StatusActive
	if rc.Court != nil && rc.Court.Status != "" {
		status = rc.Court.Status
	}

	details := map[string]any{"status": status}
	if status != domain.StatusActive {
		return fail(domain.SeverityError, fmt.Sprintf("Court is %s", status), details), nil
	}
	return pass(domain.SeverityError, details), nil
}

func evalSlotAlignment(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	slot := params.Int("slot_minutes", 30)
	if slot <= 0 {
		return domain.RuleResult{}, fmt.Errorf("slot_minutes must be positive, got %d", slot)
	}

	details := map[string]any{
		"slot_minutes": slot,
		"start_time":   rc.Request.StartTime,
	}

	start := int(rc.Start.Sub(usage.DayStart(rc.Start)).Minutes())
	if start%slot != 0 {
		return fail(domain.SeverityWarning,
			fmt.Sprintf("Bookings should start on a %d minute boundary", slot), details), nil
	}
	return pass(domain.SeverityWarning, details), nil
}

func evalCancellationCutoff(rc *domain.RuleContext, params domain.RuleParams) (domain.RuleResult, error) {
	cutoff := params.Int("cancel_cutoff_minutes", domain.DefaultCancelCutoffMinutes)
	penalty := params.String("penalty_type", domain.DefaultPenaltyType)
	until := int(math.Floor(rc.Start.Sub(rc.Now).Minutes()))

	details := map[string]any{
		"cancel_cutoff_minutes": cutoff,
		"penalty_type":          penalty,
		"minutes_until_start":   until,
	}

	if until < cutoff {
		return fail(domain.SeverityWarning,
			fmt.Sprintf("Booking starts within the %d minute cancellation window; late cancellation penalty: %s", cutoff, penalty),
			details), nil
	}
	return pass(domain.SeverityWarning, details), nil
}
