package domain

import (
	"context"
	"time"
)

// ViolationAdminOverride is the violation type written for admin overrides.
const ViolationAdminOverride = "admin_override"

// AuditRecord is one append-only entry of the violation audit trail.
type AuditRecord struct {
	ID                   string    `json:"id" bson:"_id"`
	UserID               string    `json:"userId" bson:"user_id"`
	FacilityID           string    `json:"facilityId" bson:"facility_id"`
	ViolationType        string    `json:"violationType" bson:"violation_type"`
	ViolationDescription string    `json:"violationDescription" bson:"violation_description"`
	Resolved             bool      `json:"resolved" bson:"resolved"`
	ResolvedBy           string    `json:"resolvedBy" bson:"resolved_by"`
	Notes                string    `json:"notes" bson:"notes"`
	CreatedAt            time.Time `json:"createdAt" bson:"created_at"`
}

// AuditSink persists override events.
type AuditSink interface {
	RecordOverride(ctx context.Context, record *AuditRecord) error
}

// AuditConfig selects and configures the audit sink.
type AuditConfig struct {
	// Sink is "sql" (the repository) or "mongo".
	Sink string `envconfig:"AUDIT_SINK"`

	MongoURI        string        `envconfig:"AUDIT_MONGO_URI"`
	MongoDatabase   string        `envconfig:"AUDIT_MONGO_DATABASE"`
	MongoCollection string        `envconfig:"AUDIT_MONGO_COLLECTION"`
	MongoTimeout    time.Duration `envconfig:"AUDIT_MONGO_TIMEOUT"`
}
