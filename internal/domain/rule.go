package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleCategory determines evaluation order and scope.
type RuleCategory string

const (
	CategoryAccount   RuleCategory = "account"
	CategoryCourt     RuleCategory = "court"
	CategoryHousehold RuleCategory = "household"
)

// EvaluationOrder is the fixed category order of booking evaluation.
var EvaluationOrder = []RuleCategory{CategoryCourt, CategoryAccount, CategoryHousehold}

// Severity of a failed rule.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// SystemRuleCode marks results produced by the engine itself.
const SystemRuleCode = "SYSTEM"

// FacilityRuleConfig is one configured rule instance of a facility.
type FacilityRuleConfig struct {
	ID                     string       `json:"id"`
	FacilityID             string       `json:"facilityId"`
	RuleCode               string       `json:"ruleCode" validate:"required"`
	RuleCategory           RuleCategory `json:"ruleCategory" validate:"required,oneof=account court household"`
	RuleName               string       `json:"ruleName" validate:"required"`
	RuleConfig             RuleParams   `json:"ruleConfig"`
	AppliesToCourtIDs      []string     `json:"appliesToCourtIds,omitempty"`
	AppliesToTierIDs       []string     `json:"appliesToTierIds,omitempty"`
	FailureMessageTemplate string       `json:"failureMessageTemplate,omitempty"`
	Priority               int          `json:"priority"`
	Enabled                bool         `json:"enabled"`
	CreatedAt              time.Time    `json:"createdAt"`
	UpdatedAt              time.Time    `json:"updatedAt"`
}

// AppliesToCourt reports whether the court allow-list admits courtID.
func (c *FacilityRuleConfig) AppliesToCourt(courtID string) bool {
	return len(c.AppliesToCourtIDs) == 0 || contains(c.AppliesToCourtIDs, courtID)
}

// AppliesToTier reports whether the tier allow-list admits tierID.
// Users without a tier match every allow-list.
func (c *FacilityRuleConfig) AppliesToTier(tierID string) bool {
	return len(c.AppliesToTierIDs) == 0 || tierID == "" || contains(c.AppliesToTierIDs, tierID)
}

// Applies combines the court and tier allow-lists.
func (c *FacilityRuleConfig) Applies(courtID, tierID string) bool {
	return c.AppliesToCourt(courtID) && c.AppliesToTier(tierID)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// RuleParams holds the opaque per-rule parameters decoded from JSON.
type RuleParams map[string]any

// Int reads an integer parameter, accepting JSON numbers and numeric strings.
func (p RuleParams) Int(key string, def int) int {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// String reads a string parameter.
func (p RuleParams) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings reads a list parameter; a comma-separated string is also accepted.
func (p RuleParams) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

// RuleResult is the verdict of one rule.
type RuleResult struct {
	RuleCode string         `json:"ruleCode"`
	RuleName string         `json:"ruleName"`
	Passed   bool           `json:"passed"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details"`
}

// RuleContext is the point-in-time snapshot every evaluator of one call observes.
// It is built fresh per evaluation and must not be modified after construction.
type RuleContext struct {
	Request          BookingRequest
	User             *User
	Court            *Court
	Facility         *Facility
	Household        *Household
	ExistingBookings []Booking
	IsPrimeTime      bool

	// Start and End are the requested interval in facility local time.
	Start time.Time
	End   time.Time
	Now   time.Time
}

// TierID returns the user's tier id or "" when the user has no tier.
func (rc *RuleContext) TierID() string {
	if rc.User == nil {
		return ""
	}
	return rc.User.TierID
}

// DurationMinutes returns the requested booking length.
func (rc *RuleContext) DurationMinutes() int {
	return int(rc.End.Sub(rc.Start) / time.Minute)
}

// CancellationContext is the snapshot used for cancellation evaluation.
type CancellationContext struct {
	Request      CancellationRequest
	Booking      *Booking
	Facility     *Facility
	PriorStrikes int
	Now          time.Time

	// TierID is the booking owner's tier, empty when the owner has none.
	TierID string
}
