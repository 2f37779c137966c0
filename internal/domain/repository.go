// Package domain defines the core interfaces and types for Courtkeeper.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Methods reading a relation that does not exist return ErrSchemaNotReady.
type Repository interface {
	// Members and tiers
	GetUser(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	GetTier(ctx context.Context, tierID string) (*Tier, error)
	SaveTier(ctx context.Context, tier *Tier) error

	// Facilities and courts
	GetFacility(ctx context.Context, facilityID string) (*Facility, error)
	SaveFacility(ctx context.Context, facility *Facility) error
	GetCourt(ctx context.Context, courtID string) (*Court, error)
	SaveCourt(ctx context.Context, court *Court) error

	// Rule configuration
	ListFacilityRules(ctx context.Context, facilityID string) ([]FacilityRuleConfig, error)
	SaveFacilityRule(ctx context.Context, rule *FacilityRuleConfig) error

	// Households
	GetHouseholdByMember(ctx context.Context, userID string) (*Household, error)
	SaveHousehold(ctx context.Context, household *Household) error

	// Bookings and strikes
	GetBooking(ctx context.Context, bookingID string) (*Booking, error)
	SaveBooking(ctx context.Context, booking *Booking) error
	ListUserBookings(ctx context.Context, facilityID, userID, sinceDate string) ([]Booking, error)
	ListHouseholdBookings(ctx context.Context, facilityID, householdID, sinceDate string) ([]Booking, error)
	CountActiveStrikes(ctx context.Context, facilityID, userID string, at time.Time) (int, error)
	SaveStrike(ctx context.Context, strike *Strike) error

	// Audit trail
	SaveViolation(ctx context.Context, record *AuditRecord) error
	ListViolations(ctx context.Context, facilityID string) ([]AuditRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `envconfig:"DB_DRIVER"`

	// SQLite specific
	SQLitePath string `envconfig:"SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `envconfig:"PG_HOST"`
	PostgresPort     int    `envconfig:"PG_PORT"`
	PostgresUser     string `envconfig:"PG_USER"`
	PostgresPassword string `envconfig:"PG_PASSWORD"`
	PostgresDB       string `envconfig:"PG_DB"`
	PostgresSSLMode  string `envconfig:"PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME"`

	// SkipMigrations leaves the schema untouched on startup.
	SkipMigrations bool `envconfig:"DB_SKIP_MIGRATIONS"`

	// SkipRuleSchema migrates everything except the rule configuration
	// relation, for deployments that provision rules separately.
	SkipRuleSchema bool `envconfig:"DB_SKIP_RULE_SCHEMA"`
}
