package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/lib/pq"
)

func newTestRepo(t *testing.T, cfg domain.RepositoryConfig) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "courtkeeper-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg.Driver = "sqlite"
	cfg.SQLitePath = tmpPath

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t, domain.RepositoryConfig{})
	ctx := context.Background()
	facilityID := "fac-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetFacility", func(t *testing.T) {
		f := &domain.Facility{
			ID:       facilityID,
			Name:     "Riverside Club",
			Timezone: "Europe/Berlin",
			PrimeTimeWindows: []domain.PrimeTimeWindow{
				{Days: []int{1, 2, 3, 4, 5}, Start: "17:00", End: "21:00"},
			},
		}
		if err := repo.SaveFacility(ctx, f); err != nil {
			t.Fatalf("SaveFacility failed: %v", err)
		}

		got, err := repo.GetFacility(ctx, facilityID)
		if err != nil {
			t.Fatalf("GetFacility failed: %v", err)
		}
		if got.Timezone != "Europe/Berlin" {
			t.Errorf("expected timezone Europe/Berlin, got %s", got.Timezone)
		}
		if len(got.PrimeTimeWindows) != 1 || got.PrimeTimeWindows[0].Start != "17:00" {
			t.Errorf("unexpected prime time windows: %+v", got.PrimeTimeWindows)
		}
	})

	t.Run("SaveAndGetUser", func(t *testing.T) {
		if err := repo.SaveTier(ctx, &domain.Tier{ID: "tier-gold", FacilityID: facilityID, Name: "Gold"}); err != nil {
			t.Fatalf("SaveTier failed: %v", err)
		}
		if err := repo.SaveUser(ctx, &domain.User{ID: "user-001", FacilityID: facilityID, Name: "Ana", TierID: "tier-gold"}); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
		if err := repo.SaveUser(ctx, &domain.User{ID: "user-002", FacilityID: facilityID, Name: "Ben"}); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}

		u, err := repo.GetUser(ctx, "user-001")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u.TierID != "tier-gold" {
			t.Errorf("expected tier tier-gold, got %q", u.TierID)
		}
		if u.Status != domain.StatusActive {
			t.Errorf("expected default status active, got %q", u.Status)
		}

		u2, err := repo.GetUser(ctx, "user-002")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u2.TierID != "" {
			t.Errorf("expected no tier, got %q", u2.TierID)
		}

		tier, err := repo.GetTier(ctx, "tier-gold")
		if err != nil {
			t.Fatalf("GetTier failed: %v", err)
		}
		if tier.Name != "Gold" {
			t.Errorf("expected tier name Gold, got %s", tier.Name)
		}
	})

	t.Run("SaveAndGetCourt", func(t *testing.T) {
		c := &domain.Court{ID: "court-001", FacilityID: facilityID, Name: "Court 1", SportType: "tennis"}
		if err := repo.SaveCourt(ctx, c); err != nil {
			t.Fatalf("SaveCourt failed: %v", err)
		}
		got, err := repo.GetCourt(ctx, "court-001")
		if err != nil {
			t.Fatalf("GetCourt failed: %v", err)
		}
		if got.Status != domain.StatusActive || got.SportType != "tennis" {
			t.Errorf("unexpected court: %+v", got)
		}
	})

	t.Run("FacilityRules", func(t *testing.T) {
		rules := []*domain.FacilityRuleConfig{
			{
				ID: "r2", FacilityID: facilityID, RuleCode: "ACC-002", RuleCategory: domain.CategoryAccount,
				RuleName: "Weekly limit", RuleConfig: domain.RuleParams{"limit": 3},
				Priority: 20, Enabled: true, FailureMessageTemplate: "Max {limit} bookings per week, you have {count}",
			},
			{
				ID: "r1", FacilityID: facilityID, RuleCode: "CRT-012", RuleCategory: domain.CategoryCourt,
				RuleName: "Cancel cutoff", RuleConfig: domain.RuleParams{"cancel_cutoff_minutes": 240, "penalty_type": "strike"},
				AppliesToCourtIDs: []string{"court-001"}, Priority: 10, Enabled: true,
			},
			{
				ID: "r3", FacilityID: facilityID, RuleCode: "ACC-001", RuleCategory: domain.CategoryAccount,
				RuleName: "Disabled", Enabled: false,
			},
			{
				ID: "r4", FacilityID: "fac-other", RuleCode: "ACC-001", RuleCategory: domain.CategoryAccount,
				RuleName: "Other facility", Enabled: true,
			},
		}
		for _, rule := range rules {
			if err := repo.SaveFacilityRule(ctx, rule); err != nil {
				t.Fatalf("SaveFacilityRule(%s) failed: %v", rule.ID, err)
			}
		}

		got, err := repo.ListFacilityRules(ctx, facilityID)
		if err != nil {
			t.Fatalf("ListFacilityRules failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 enabled rules, got %d", len(got))
		}
		if got[0].RuleCode != "CRT-012" || got[1].RuleCode != "ACC-002" {
			t.Errorf("expected priority order CRT-012, ACC-002; got %s, %s", got[0].RuleCode, got[1].RuleCode)
		}
		if got[0].RuleConfig.Int("cancel_cutoff_minutes", 0) != 240 {
			t.Errorf("expected cutoff 240, got %v", got[0].RuleConfig["cancel_cutoff_minutes"])
		}
		if len(got[0].AppliesToCourtIDs) != 1 || got[0].AppliesToCourtIDs[0] != "court-001" {
			t.Errorf("unexpected court scope: %v", got[0].AppliesToCourtIDs)
		}
		if got[1].FailureMessageTemplate == "" {
			t.Error("expected failure message template to round-trip")
		}
	})

	t.Run("BookingsAndHousehold", func(t *testing.T) {
		bookings := []*domain.Booking{
			{ID: "b1", FacilityID: facilityID, CourtID: "court-001", UserID: "user-001", BookingDate: "2025-03-10", StartTime: "10:00", EndTime: "11:00", BookingType: "singles"},
			{ID: "b2", FacilityID: facilityID, CourtID: "court-001", UserID: "user-002", BookingDate: "2025-03-11", StartTime: "18:00", EndTime: "19:00", BookingType: "doubles"},
			{ID: "b3", FacilityID: facilityID, CourtID: "court-001", UserID: "user-001", BookingDate: "2025-03-01", StartTime: "10:00", EndTime: "11:00", BookingType: "singles"},
			{ID: "b4", FacilityID: facilityID, CourtID: "court-001", UserID: "user-001", BookingDate: "2025-03-12", StartTime: "10:00", EndTime: "11:00", BookingType: "singles", Status: domain.BookingCancelled},
		}
		for _, b := range bookings {
			if err := repo.SaveBooking(ctx, b); err != nil {
				t.Fatalf("SaveBooking(%s) failed: %v", b.ID, err)
			}
		}

		got, err := repo.GetBooking(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBooking failed: %v", err)
		}
		if got.Status != domain.BookingConfirmed {
			t.Errorf("expected default status confirmed, got %s", got.Status)
		}

		userBookings, err := repo.ListUserBookings(ctx, facilityID, "user-001", "2025-03-10")
		if err != nil {
			t.Fatalf("ListUserBookings failed: %v", err)
		}
		if len(userBookings) != 1 || userBookings[0].ID != "b1" {
			t.Errorf("expected only b1, got %+v", userBookings)
		}

		hh := &domain.Household{ID: "hh-001", FacilityID: facilityID, Name: "The Smiths", MemberIDs: []string{"user-001", "user-002"}}
		if err := repo.SaveHousehold(ctx, hh); err != nil {
			t.Fatalf("SaveHousehold failed: %v", err)
		}

		found, err := repo.GetHouseholdByMember(ctx, "user-002")
		if err != nil {
			t.Fatalf("GetHouseholdByMember failed: %v", err)
		}
		if found.ID != "hh-001" || len(found.MemberIDs) != 2 {
			t.Errorf("unexpected household: %+v", found)
		}

		hhBookings, err := repo.ListHouseholdBookings(ctx, facilityID, "hh-001", "2025-03-10")
		if err != nil {
			t.Fatalf("ListHouseholdBookings failed: %v", err)
		}
		if len(hhBookings) != 2 {
			t.Errorf("expected 2 household bookings, got %d", len(hhBookings))
		}
	})

	t.Run("ActiveStrikes", func(t *testing.T) {
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		expired := now.Add(-24 * time.Hour)
		future := now.Add(24 * time.Hour)

		strikes := []*domain.Strike{
			{ID: "s1", FacilityID: facilityID, UserID: "user-001", IssuedAt: now.Add(-72 * time.Hour)},
			{ID: "s2", FacilityID: facilityID, UserID: "user-001", IssuedAt: now.Add(-72 * time.Hour), ExpiresAt: &expired},
			{ID: "s3", FacilityID: facilityID, UserID: "user-001", IssuedAt: now.Add(-1 * time.Hour), ExpiresAt: &future},
		}
		for _, s := range strikes {
			if err := repo.SaveStrike(ctx, s); err != nil {
				t.Fatalf("SaveStrike(%s) failed: %v", s.ID, err)
			}
		}

		count, err := repo.CountActiveStrikes(ctx, facilityID, "user-001", now)
		if err != nil {
			t.Fatalf("CountActiveStrikes failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 active strikes, got %d", count)
		}
	})

	t.Run("Violations", func(t *testing.T) {
		rec := &domain.AuditRecord{
			ID:                   "v1",
			UserID:               "user-001",
			FacilityID:           facilityID,
			ViolationType:        domain.ViolationAdminOverride,
			ViolationDescription: "Admin override of rules: ACC-002",
			Resolved:             true,
			ResolvedBy:           "admin-001",
			Notes:                "tournament",
		}
		if err := repo.SaveViolation(ctx, rec); err != nil {
			t.Fatalf("SaveViolation failed: %v", err)
		}

		got, err := repo.ListViolations(ctx, facilityID)
		if err != nil {
			t.Fatalf("ListViolations failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 violation, got %d", len(got))
		}
		if !got[0].Resolved || got[0].ResolvedBy != "admin-001" {
			t.Errorf("unexpected violation: %+v", got[0])
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetUser(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for user, got: %v", err)
		}
		if _, err := repo.GetCourt(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for court, got: %v", err)
		}
		if _, err := repo.GetHouseholdByMember(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for household, got: %v", err)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if err := repo.SaveBooking(ctx, &domain.Booking{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListFacilityRules(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestSchemaNotReady(t *testing.T) {
	repo := newTestRepo(t, domain.RepositoryConfig{SkipRuleSchema: true})
	ctx := context.Background()

	_, err := repo.ListFacilityRules(ctx, "fac-001")
	if !errors.Is(err, domain.ErrSchemaNotReady) {
		t.Fatalf("expected ErrSchemaNotReady, got: %v", err)
	}

	// The rest of the schema is still usable.
	if err := repo.SaveFacility(ctx, &domain.Facility{ID: "fac-001", Name: "Club"}); err != nil {
		t.Errorf("SaveFacility failed: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"postgres undefined table", &pq.Error{Code: "42P01", Message: `relation "facility_rule_configs" does not exist`}, domain.ErrSchemaNotReady},
		{"postgres other", &pq.Error{Code: "23505"}, nil},
		{"plain", errors.New("boom"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.want == nil {
				if errors.Is(got, domain.ErrSchemaNotReady) || errors.Is(got, domain.ErrNotFound) {
					t.Errorf("classify(%v) = %v, want unclassified", tt.err, got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
