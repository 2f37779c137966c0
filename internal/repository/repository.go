// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if !cfg.SkipMigrations {
		schemas := AllSchemas()
		if cfg.SkipRuleSchema {
			schemas = CoreSchemas()
		}
		if err := repo.migrate(schemas); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return repo, nil
}

func (r *SQLRepository) migrate(schemas []string) error {
	for _, schema := range schemas {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// GetUser retrieves a member by ID.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, facility_id, name, email, tier_id, status
		FROM users
		WHERE id = ?
	`

	var u domain.User
	var tierID sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.ID, &u.FacilityID, &u.Name, &u.Email, &tierID, &u.Status,
	)
	if err != nil {
		return nil, classify(err)
	}

	u.TierID = tierID.String
	return &u, nil
}

// SaveUser inserts or updates a member.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}

	status := user.Status
	if status == "" {
		status = domain.StatusActive
	}

	query := `
		INSERT INTO users (id, facility_id, name, email, tier_id, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name,
			email = excluded.email,
			tier_id = excluded.tier_id,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.FacilityID, user.Name, user.Email, nullString(user.TierID), status,
	)
	return classify(err)
}

// GetTier retrieves a membership tier by ID.
func (r *SQLRepository) GetTier(ctx context.Context, tierID string) (*domain.Tier, error) {
	query := `SELECT id, facility_id, name FROM tiers WHERE id = ?`

	var t domain.Tier
	err := r.db.QueryRowContext(ctx, r.rebind(query), tierID).Scan(&t.ID, &t.FacilityID, &t.Name)
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// SaveTier inserts or updates a membership tier.
func (r *SQLRepository) SaveTier(ctx context.Context, tier *domain.Tier) error {
	if tier.ID == "" {
		return fmt.Errorf("%w: tier id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO tiers (id, facility_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tier.ID, tier.FacilityID, tier.Name)
	return classify(err)
}

// GetFacility retrieves a facility without its rules.
func (r *SQLRepository) GetFacility(ctx context.Context, facilityID string) (*domain.Facility, error) {
	query := `
		SELECT id, name, timezone, prime_time_windows
		FROM facilities
		WHERE id = ?
	`

	var f domain.Facility
	var windows string

	err := r.db.QueryRowContext(ctx, r.rebind(query), facilityID).Scan(
		&f.ID, &f.Name, &f.Timezone, &windows,
	)
	if err != nil {
		return nil, classify(err)
	}

	if windows != "" {
		if err := json.Unmarshal([]byte(windows), &f.PrimeTimeWindows); err != nil {
			return nil, fmt.Errorf("failed to parse prime time windows for %s: %w", f.ID, err)
		}
	}

	return &f, nil
}

// SaveFacility inserts or updates a facility. Rules are stored separately.
func (r *SQLRepository) SaveFacility(ctx context.Context, facility *domain.Facility) error {
	if facility.ID == "" {
		return fmt.Errorf("%w: facility id is required", domain.ErrInvalidInput)
	}

	windows, err := json.Marshal(facility.PrimeTimeWindows)
	if err != nil {
		return fmt.Errorf("failed to encode prime time windows: %w", err)
	}

	tz := facility.Timezone
	if tz == "" {
		tz = "UTC"
	}

	query := `
		INSERT INTO facilities (id, name, timezone, prime_time_windows)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			prime_time_windows = excluded.prime_time_windows
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), facility.ID, facility.Name, tz, string(windows))
	return classify(err)
}

// GetCourt retrieves a court by ID.
func (r *SQLRepository) GetCourt(ctx context.Context, courtID string) (*domain.Court, error) {
	query := `
		SELECT id, facility_id, name, sport_type, status
		FROM courts
		WHERE id = ?
	`

	var c domain.Court
	err := r.db.QueryRowContext(ctx, r.rebind(query), courtID).Scan(
		&c.ID, &c.FacilityID, &c.Name, &c.SportType, &c.Status,
	)
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

// SaveCourt inserts or updates a court.
func (r *SQLRepository) SaveCourt(ctx context.Context, court *domain.Court) error {
	if court.ID == "" {
		return fmt.Errorf("%w: court id is required", domain.ErrInvalidInput)
	}

	status := court.Status
	if status == "" {
		status = domain.StatusActive
	}

	query := `
		INSERT INTO courts (id, facility_id, name, sport_type, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name,
			sport_type = excluded.sport_type,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		court.ID, court.FacilityID, court.Name, court.SportType, status,
	)
	return classify(err)
}

// ListFacilityRules retrieves the enabled rules of a facility in evaluation order.
func (r *SQLRepository) ListFacilityRules(ctx context.Context, facilityID string) ([]domain.FacilityRuleConfig, error) {
	if facilityID == "" {
		return nil, fmt.Errorf("%w: facilityID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, facility_id, rule_code, rule_category, rule_name, rule_config,
			   applies_to_court_ids, applies_to_tier_ids, failure_message_template,
			   priority, enabled, created_at, updated_at
		FROM facility_rule_configs
		WHERE facility_id = ? AND enabled = 1
		ORDER BY priority, rule_code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var rules []domain.FacilityRuleConfig
	for rows.Next() {
		var rule domain.FacilityRuleConfig
		var category, params, courts, tiers string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.FacilityID, &rule.RuleCode, &category, &rule.RuleName, &params,
			&courts, &tiers, &rule.FailureMessageTemplate,
			&rule.Priority, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, classify(err)
		}

		rule.RuleCategory = domain.RuleCategory(category)
		rule.Enabled = enabled == 1
		if err := decodeJSON(params, &rule.RuleConfig); err != nil {
			return nil, fmt.Errorf("failed to parse rule config for %s: %w", rule.ID, err)
		}
		if err := decodeJSON(courts, &rule.AppliesToCourtIDs); err != nil {
			return nil, fmt.Errorf("failed to parse court scope for %s: %w", rule.ID, err)
		}
		if err := decodeJSON(tiers, &rule.AppliesToTierIDs); err != nil {
			return nil, fmt.Errorf("failed to parse tier scope for %s: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}

	return rules, classify(rows.Err())
}

// SaveFacilityRule inserts or updates a rule configuration.
func (r *SQLRepository) SaveFacilityRule(ctx context.Context, rule *domain.FacilityRuleConfig) error {
	if rule.FacilityID == "" {
		return fmt.Errorf("%w: facilityID is required", domain.ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	params, _ := json.Marshal(nonNilParams(rule.RuleConfig))
	courts, _ := json.Marshal(nonNilStrings(rule.AppliesToCourtIDs))
	tiers, _ := json.Marshal(nonNilStrings(rule.AppliesToTierIDs))

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO facility_rule_configs (
			id, facility_id, rule_code, rule_category, rule_name, rule_config,
			applies_to_court_ids, applies_to_tier_ids, failure_message_template,
			priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rule_code = excluded.rule_code,
			rule_category = excluded.rule_category,
			rule_name = excluded.rule_name,
			rule_config = excluded.rule_config,
			applies_to_court_ids = excluded.applies_to_court_ids,
			applies_to_tier_ids = excluded.applies_to_tier_ids,
			failure_message_template = excluded.failure_message_template,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.FacilityID, rule.RuleCode, string(rule.RuleCategory), rule.RuleName, string(params),
		string(courts), string(tiers), rule.FailureMessageTemplate,
		rule.Priority, enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	return classify(err)
}

// GetHouseholdByMember retrieves the household a user belongs to.
func (r *SQLRepository) GetHouseholdByMember(ctx context.Context, userID string) (*domain.Household, error) {
	query := `
		SELECT h.id, h.facility_id, h.name
		FROM households h
		JOIN household_members m ON m.household_id = h.id
		WHERE m.user_id = ?
	`

	var h domain.Household
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&h.ID, &h.FacilityID, &h.Name)
	if err != nil {
		return nil, classify(err)
	}

	members, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT user_id FROM household_members WHERE household_id = ? ORDER BY user_id`), h.ID)
	if err != nil {
		return nil, classify(err)
	}
	defer members.Close()

	for members.Next() {
		var id string
		if err := members.Scan(&id); err != nil {
			return nil, classify(err)
		}
		h.MemberIDs = append(h.MemberIDs, id)
	}

	return &h, classify(members.Err())
}

// SaveHousehold inserts or updates a household and replaces its membership.
func (r *SQLRepository) SaveHousehold(ctx context.Context, household *domain.Household) error {
	if household.ID == "" {
		return fmt.Errorf("%w: household id is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO households (id, facility_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name
	`
	if _, err := tx.ExecContext(ctx, r.rebind(upsert), household.ID, household.FacilityID, household.Name); err != nil {
		return classify(err)
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM household_members WHERE household_id = ?`), household.ID); err != nil {
		return classify(err)
	}

	for _, memberID := range household.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			r.rebind(`INSERT INTO household_members (household_id, user_id) VALUES (?, ?)`),
			household.ID, memberID,
		); err != nil {
			return classify(err)
		}
	}

	return tx.Commit()
}

const bookingColumns = `b.id, b.facility_id, b.court_id, b.user_id, b.booking_date,
	b.start_time, b.end_time, b.booking_type, b.status, b.created_at`

// GetBooking retrieves a booking by ID.
func (r *SQLRepository) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`

	b, err := scanBooking(r.db.QueryRowContext(ctx, r.rebind(query), bookingID))
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// SaveBooking inserts or updates a booking.
func (r *SQLRepository) SaveBooking(ctx context.Context, booking *domain.Booking) error {
	if booking.ID == "" {
		return fmt.Errorf("%w: booking id is required", domain.ErrInvalidInput)
	}

	status := booking.Status
	if status == "" {
		status = domain.BookingConfirmed
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bookings (
			id, facility_id, court_id, user_id, booking_date,
			start_time, end_time, booking_type, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			court_id = excluded.court_id,
			booking_date = excluded.booking_date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			booking_type = excluded.booking_type,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		booking.ID, booking.FacilityID, booking.CourtID, booking.UserID, booking.BookingDate,
		booking.StartTime, booking.EndTime, booking.BookingType, status, booking.CreatedAt,
	)
	return classify(err)
}

// ListUserBookings retrieves a user's confirmed bookings on or after sinceDate.
func (r *SQLRepository) ListUserBookings(ctx context.Context, facilityID, userID, sinceDate string) ([]domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings b
		WHERE b.facility_id = ? AND b.user_id = ? AND b.status = ? AND b.booking_date >= ?
		ORDER BY b.booking_date, b.start_time
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID, userID, domain.BookingConfirmed, sinceDate)
	if err != nil {
		return nil, classify(err)
	}
	return collectBookings(rows)
}

// ListHouseholdBookings retrieves the confirmed bookings of every household
// member on or after sinceDate.
func (r *SQLRepository) ListHouseholdBookings(ctx context.Context, facilityID, householdID, sinceDate string) ([]domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings b
		JOIN household_members m ON m.user_id = b.user_id
		WHERE m.household_id = ? AND b.facility_id = ? AND b.status = ? AND b.booking_date >= ?
		ORDER BY b.booking_date, b.start_time
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), householdID, facilityID, domain.BookingConfirmed, sinceDate)
	if err != nil {
		return nil, classify(err)
	}
	return collectBookings(rows)
}

// CountActiveStrikes counts the strikes of a user that have not expired at the given instant.
func (r *SQLRepository) CountActiveStrikes(ctx context.Context, facilityID, userID string, at time.Time) (int, error) {
	query := `
		SELECT expires_at
		FROM strikes
		WHERE facility_id = ? AND user_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID, userID)
	if err != nil {
		return 0, classify(err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var expires sql.NullTime
		if err := rows.Scan(&expires); err != nil {
			return 0, classify(err)
		}
		s := domain.Strike{}
		if expires.Valid {
			s.ExpiresAt = &expires.Time
		}
		if s.Active(at) {
			count++
		}
	}

	return count, classify(rows.Err())
}

// SaveStrike records a strike.
func (r *SQLRepository) SaveStrike(ctx context.Context, strike *domain.Strike) error {
	if strike.ID == "" {
		return fmt.Errorf("%w: strike id is required", domain.ErrInvalidInput)
	}
	if strike.IssuedAt.IsZero() {
		strike.IssuedAt = time.Now().UTC()
	}

	var expires any
	if strike.ExpiresAt != nil {
		expires = strike.ExpiresAt.UTC()
	}

	query := `
		INSERT INTO strikes (id, facility_id, user_id, booking_id, reason, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		strike.ID, strike.FacilityID, strike.UserID, strike.BookingID, strike.Reason,
		strike.IssuedAt.UTC(), expires,
	)
	return classify(err)
}

// SaveViolation appends an audit record.
func (r *SQLRepository) SaveViolation(ctx context.Context, record *domain.AuditRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: audit record id is required", domain.ErrInvalidInput)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	resolved := 0
	if record.Resolved {
		resolved = 1
	}

	query := `
		INSERT INTO rule_violations (
			id, user_id, facility_id, violation_type, violation_description,
			resolved, resolved_by, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		record.ID, record.UserID, record.FacilityID, record.ViolationType, record.ViolationDescription,
		resolved, record.ResolvedBy, record.Notes, record.CreatedAt,
	)
	return classify(err)
}

// ListViolations retrieves the audit trail of a facility, oldest first.
func (r *SQLRepository) ListViolations(ctx context.Context, facilityID string) ([]domain.AuditRecord, error) {
	query := `
		SELECT id, user_id, facility_id, violation_type, violation_description,
			   resolved, resolved_by, notes, created_at
		FROM rule_violations
		WHERE facility_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), facilityID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var resolved int
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.FacilityID, &rec.ViolationType, &rec.ViolationDescription,
			&resolved, &rec.ResolvedBy, &rec.Notes, &rec.CreatedAt,
		); err != nil {
			return nil, classify(err)
		}
		rec.Resolved = resolved == 1
		records = append(records, rec)
	}

	return records, classify(rows.Err())
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(
		&b.ID, &b.FacilityID, &b.CourtID, &b.UserID, &b.BookingDate,
		&b.StartTime, &b.EndTime, &b.BookingType, &b.Status, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify(err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, classify(rows.Err())
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilParams(p domain.RuleParams) domain.RuleParams {
	if p == nil {
		return domain.RuleParams{}
	}
	return p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
