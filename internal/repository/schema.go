package repository

// Schema definitions for the Courtkeeper database.
// Compatible with both SQLite and PostgreSQL.

const schemaMembers = `
CREATE TABLE IF NOT EXISTS tiers (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    tier_id TEXT,
    status TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_users_facility ON users(facility_id);
`

const schemaFacilities = `
CREATE TABLE IF NOT EXISTS facilities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    timezone TEXT NOT NULL DEFAULT 'UTC',
    prime_time_windows TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS courts (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL,
    sport_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_courts_facility ON courts(facility_id);
`

// schemaRuleConfigs is the rule configuration relation. Deployments may
// provision it after the rest of the schema; until then the engine degrades.
const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS facility_rule_configs (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    rule_code TEXT NOT NULL,
    rule_category TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    rule_config TEXT NOT NULL DEFAULT '{}',
    applies_to_court_ids TEXT NOT NULL DEFAULT '[]',
    applies_to_tier_ids TEXT NOT NULL DEFAULT '[]',
    failure_message_template TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_facility ON facility_rule_configs(facility_id, enabled);
`

const schemaHouseholds = `
CREATE TABLE IF NOT EXISTS households (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS household_members (
    household_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (household_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_household_members_user ON household_members(user_id);
`

const schemaBookings = `
CREATE TABLE IF NOT EXISTS bookings (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    court_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    booking_date TEXT NOT NULL,
    start_time TEXT NOT NULL,
    end_time TEXT NOT NULL,
    booking_type TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(facility_id, user_id, booking_date);
CREATE INDEX IF NOT EXISTS idx_bookings_court ON bookings(court_id, booking_date);

CREATE TABLE IF NOT EXISTS strikes (
    id TEXT PRIMARY KEY,
    facility_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    booking_id TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    issued_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_strikes_user ON strikes(facility_id, user_id);
`

const schemaViolations = `
CREATE TABLE IF NOT EXISTS rule_violations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    facility_id TEXT NOT NULL,
    violation_type TEXT NOT NULL,
    violation_description TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolved_by TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_facility ON rule_violations(facility_id, created_at);
`

// CoreSchemas returns every schema statement except the rule configuration relation.
func CoreSchemas() []string {
	return []string{
		schemaMembers,
		schemaFacilities,
		schemaHouseholds,
		schemaBookings,
		schemaViolations,
	}
}

// RuleSchemas returns the rule configuration schema.
func RuleSchemas() []string {
	return []string{schemaRuleConfigs}
}

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return append(CoreSchemas(), RuleSchemas()...)
}
