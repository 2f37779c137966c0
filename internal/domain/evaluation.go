package domain

import (
	"time"
)

// EvaluationResult is the aggregated verdict of a booking evaluation.
type EvaluationResult struct {
	Allowed     bool         `json:"allowed"`
	Results     []RuleResult `json:"results"`
	Blockers    []RuleResult `json:"blockers"`
	Warnings    []RuleResult `json:"warnings"`
	IsPrimeTime bool         `json:"isPrimeTime"`
}

// AdminOverride drives the override path. It is never persisted itself.
type AdminOverride struct {
	AdminID string `json:"adminId" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

// AuditStatus tells callers whether an override left an audit trail.
type AuditStatus string

const (
	// AuditNotRequired means nothing was blocked, so nothing was overridden.
	AuditNotRequired AuditStatus = "not_required"
	// AuditRecorded means the override was applied and audited.
	AuditRecorded AuditStatus = "recorded"
	// AuditFailed means the override was applied but the audit write failed.
	AuditFailed AuditStatus = "failed"
)

// OverrideResult is the outcome of an administrator override.
type OverrideResult struct {
	EvaluationResult
	OverriddenRules []string    `json:"overriddenRules,omitempty"`
	AuditStatus     AuditStatus `json:"auditStatus"`
	AuditRecordID   string      `json:"auditRecordId,omitempty"`
	AuditError      string      `json:"auditError,omitempty"`
}

// Penalty types of cancellation rules.
const (
	PenaltyStrike = "strike"
	PenaltyNone   = "none"
)

// Cancellation defaults when no rule is configured.
const (
	DefaultCancelCutoffMinutes = 240
	DefaultPenaltyType         = PenaltyStrike
)

// CancellationEvaluationResult describes the consequence of a cancellation.
// Cancellation is never blocked, so Allowed is always true.
type CancellationEvaluationResult struct {
	Allowed            bool   `json:"allowed"`
	IsLateCancel       bool   `json:"isLateCancel"`
	StrikeWillBeIssued bool   `json:"strikeWillBeIssued"`
	MinutesBeforeStart int    `json:"minutesBeforeStart"`
	CutoffMinutes      int    `json:"cutoffMinutes"`
	PenaltyType        string `json:"penaltyType"`
	RuleCode           string `json:"ruleCode,omitempty"`
	PriorStrikes       int    `json:"priorStrikes"`
	Message            string `json:"message,omitempty"`
}

// Evaluation kinds stored in the result cache.
const (
	KindBooking      = "booking"
	KindOverride     = "override"
	KindCancellation = "cancellation"
)

// EvaluationRecord is a result kept for later retrieval by the booking flow.
type EvaluationRecord struct {
	ID           string                        `json:"id"`
	FacilityID   string                        `json:"facilityId"`
	Kind         string                        `json:"kind"`
	CreatedAt    time.Time                     `json:"createdAt"`
	Booking      *EvaluationResult             `json:"booking,omitempty"`
	Override     *OverrideResult               `json:"override,omitempty"`
	Cancellation *CancellationEvaluationResult `json:"cancellation,omitempty"`
}
