package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// fakeBuilder returns canned contexts.
type fakeBuilder struct {
	rc  *domain.RuleContext
	cc  *domain.CancellationContext
	err error
}

func (b *fakeBuilder) Build(_ context.Context, _ domain.BookingRequest) (*domain.RuleContext, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.rc, nil
}

func (b *fakeBuilder) BuildCancellation(_ context.Context, _ domain.CancellationRequest) (*domain.CancellationContext, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cc, nil
}

// fakeSink records override audit records.
type fakeSink struct {
	records []*domain.AuditRecord
	err     error
}

func (s *fakeSink) RecordOverride(_ context.Context, record *domain.AuditRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

var testNow = time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC) // Wednesday

// newContext returns a context for a 60 minute booking on Friday at 10:00.
func newContext(rules ...domain.FacilityRuleConfig) *domain.RuleContext {
	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	return &domain.RuleContext{
		Request: domain.BookingRequest{
			UserID:      "user-001",
			FacilityID:  "fac-001",
			CourtID:     "court-001",
			BookingDate: "2025-03-14",
			StartTime:   "10:00",
			EndTime:     "11:00",
			BookingType: "singles",
		},
		User:     &domain.User{ID: "user-001", FacilityID: "fac-001", Status: domain.StatusActive},
		Court:    &domain.Court{ID: "court-001", FacilityID: "fac-001", Status: domain.StatusActive},
		Facility: &domain.Facility{ID: "fac-001", Rules: rules},
		Start:    start,
		End:      start.Add(time.Hour),
		Now:      testNow,
	}
}

func rule(code string, category domain.RuleCategory, params domain.RuleParams) domain.FacilityRuleConfig {
	return domain.FacilityRuleConfig{
		ID:           "cfg-" + code,
		FacilityID:   "fac-001",
		RuleCode:     code,
		RuleCategory: category,
		RuleName:     code,
		RuleConfig:   params,
		Enabled:      true,
	}
}

func futureBookings(n int) []domain.Booking {
	bookings := make([]domain.Booking, n)
	for i := range bookings {
		start := time.Date(2025, 3, 13, 8+i, 0, 0, 0, time.UTC)
		bookings[i] = domain.Booking{
			ID:    fmt.Sprintf("b-%d", i),
			Start: start,
			End:   start.Add(time.Hour),
		}
	}
	return bookings
}

func newTestEngine(t *testing.T, builder ContextBuilder, sink domain.AuditSink, extra ...Evaluator) *Engine {
	t.Helper()
	expr, err := NewExpressionEvaluator()
	if err != nil {
		t.Fatalf("failed to create expression evaluator: %v", err)
	}
	registry := NewRegistry(CourtEvaluators(), AccountEvaluators(), HouseholdEvaluators(), []Evaluator{expr}, extra)
	return NewEngine(builder, registry, sink)
}

func TestEvaluateZeroRules(t *testing.T) {
	engine := newTestEngine(t, &fakeBuilder{rc: newContext()}, nil)

	res, err := engine.Evaluate(context.Background(), domain.BookingRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Error("expected allowed with zero rules")
	}
	if len(res.Results) != 0 || len(res.Blockers) != 0 || len(res.Warnings) != 0 {
		t.Errorf("expected empty result sets, got %+v", res)
	}
}

func TestEvaluateCategoryOrder(t *testing.T) {
	rc := newContext(
		rule(CodeAccountStatus, domain.CategoryAccount, nil),
		rule(CodeHouseholdDaily, domain.CategoryHousehold, nil),
		rule(CodeCourtStatus, domain.CategoryCourt, nil),
		rule(CodeStrikeSuspension, domain.CategoryAccount, nil),
		rule(CodeBookingDuration, domain.CategoryCourt, nil),
	)
	rc.Household = &domain.Household{ID: "hh-001", MemberIDs: []string{"user-001"}}

	engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
	res, err := engine.Evaluate(context.Background(), rc.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{CodeCourtStatus, CodeBookingDuration, CodeAccountStatus, CodeStrikeSuspension, CodeHouseholdDaily}
	if len(res.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(res.Results))
	}
	for i, code := range want {
		if res.Results[i].RuleCode != code {
			t.Errorf("result %d: expected %s, got %s", i, code, res.Results[i].RuleCode)
		}
	}
}

func TestEvaluateHouseholdOmitted(t *testing.T) {
	rc := newContext(
		rule(CodeHouseholdActive, domain.CategoryHousehold, domain.RuleParams{"limit": 0}),
		rule(CodeAccountStatus, domain.CategoryAccount, nil),
	)

	engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
	res, err := engine.Evaluate(context.Background(), rc.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Results) != 1 || res.Results[0].RuleCode != CodeAccountStatus {
		t.Errorf("expected only the account result, got %+v", res.Results)
	}
	if !res.Allowed {
		t.Error("expected household limit to be ignored without a household")
	}
}

func TestApplicability(t *testing.T) {
	scopedCourt := rule(CodeCourtStatus, domain.CategoryCourt, nil)
	scopedCourt.AppliesToCourtIDs = []string{"court-999"}

	scopedTier := rule(CodeAccountStatus, domain.CategoryAccount, nil)
	scopedTier.AppliesToTierIDs = []string{"tier-gold"}

	open := rule(CodeBookingDuration, domain.CategoryCourt, nil)

	tests := []struct {
		name   string
		tierID string
		want   []string
	}{
		{"tierless user matches tier scoped rules", "", []string{CodeBookingDuration, CodeAccountStatus}},
		{"matching tier", "tier-gold", []string{CodeBookingDuration, CodeAccountStatus}},
		{"other tier", "tier-basic", []string{CodeBookingDuration}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newContext(scopedCourt, scopedTier, open)
			rc.User.TierID = tt.tierID

			engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
			res, err := engine.Evaluate(context.Background(), rc.Request)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var got []string
			for _, r := range res.Results {
				got = append(got, r.RuleCode)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluateUnregisteredCodeSkipped(t *testing.T) {
	rc := newContext(
		rule("XYZ-404", domain.CategoryAccount, nil),
		rule(CodeAccountStatus, domain.CategoryAccount, nil),
	)

	engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
	res, err := engine.Evaluate(context.Background(), rc.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 1 {
		t.Errorf("expected unregistered rule to produce no result, got %+v", res.Results)
	}
}

func TestEvaluateEvaluatorFaults(t *testing.T) {
	panicky := NewEvaluator("TST-PANIC", "Panics", domain.CategoryAccount,
		func(*domain.RuleContext, domain.RuleParams) (domain.RuleResult, error) {
			panic("nil map write")
		})
	failing := NewEvaluator("TST-ERR", "Errors", domain.CategoryAccount,
		func(*domain.RuleContext, domain.RuleParams) (domain.RuleResult, error) {
			return domain.RuleResult{}, errors.New("bad config")
		})

	rc := newContext(
		rule("TST-PANIC", domain.CategoryAccount, nil),
		rule("TST-ERR", domain.CategoryAccount, nil),
	)

	engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil, panicky, failing)
	res, err := engine.Evaluate(context.Background(), rc.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.Allowed {
		t.Error("evaluator faults must never block a booking")
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Results))
	}
	for _, r := range res.Results {
		if !r.Passed || r.Severity != domain.SeverityWarning {
			t.Errorf("%s: expected passing warning, got passed=%v severity=%s", r.RuleCode, r.Passed, r.Severity)
		}
		if r.Details["error"] == nil {
			t.Errorf("%s: expected error detail", r.RuleCode)
		}
	}
}

func TestEvaluateFailureTemplate(t *testing.T) {
	weekly := rule(CodeWeeklyBookings, domain.CategoryAccount, domain.RuleParams{"limit": 3})
	weekly.FailureMessageTemplate = "Max {limit} bookings per week, you have {count} ({unknown})"

	rc := newContext(weekly)
	rc.ExistingBookings = futureBookings(4) // Thursday bookings, same week

	engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
	res, err := engine.Evaluate(context.Background(), rc.Request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Allowed {
		t.Fatal("expected weekly limit to block")
	}
	want := "Max 3 bookings per week, you have 5 ({unknown})"
	if res.Blockers[0].Message != want {
		t.Errorf("expected message %q, got %q", want, res.Blockers[0].Message)
	}
}

func TestEvaluateSchemaNotReady(t *testing.T) {
	builder := &fakeBuilder{err: fmt.Errorf("%w: relation missing", domain.ErrSchemaNotReady)}
	engine := newTestEngine(t, builder, nil)

	res, err := engine.Evaluate(context.Background(), domain.BookingRequest{FacilityID: "fac-001"})
	if err != nil {
		t.Fatalf("expected degradation, got error: %v", err)
	}
	if !res.Allowed {
		t.Error("expected allowed when schema is not ready")
	}
	if len(res.Results) != 0 || len(res.Blockers) != 0 {
		t.Errorf("expected no results or blockers, got %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].RuleCode != domain.SystemRuleCode {
		t.Errorf("expected exactly one SYSTEM warning, got %+v", res.Warnings)
	}
}

func TestEvaluateContextFailurePropagates(t *testing.T) {
	builder := &fakeBuilder{err: fmt.Errorf("user user-404: %w", domain.ErrNotFound)}
	engine := newTestEngine(t, builder, nil)

	_, err := engine.Evaluate(context.Background(), domain.BookingRequest{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound to propagate, got %v", err)
	}
}

func TestAllowedMatchesBlockers(t *testing.T) {
	configs := [][]domain.FacilityRuleConfig{
		nil,
		{rule(CodeMaxActiveBookings, domain.CategoryAccount, domain.RuleParams{"limit": 1})},
		{rule(CodeSlotAlignment, domain.CategoryCourt, domain.RuleParams{"slot_minutes": 45})},
		{
			rule(CodeSlotAlignment, domain.CategoryCourt, domain.RuleParams{"slot_minutes": 45}),
			rule(CodeBookingDuration, domain.CategoryCourt, domain.RuleParams{"max_minutes": 30}),
		},
		{rule(CodeCustomExpression, domain.CategoryAccount, domain.RuleParams{"expression": "hour < 12", "severity": "warning"})},
	}

	for i, rules := range configs {
		t.Run(fmt.Sprintf("config-%d", i), func(t *testing.T) {
			rc := newContext(rules...)
			rc.ExistingBookings = futureBookings(2)

			engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)
			res, err := engine.Evaluate(context.Background(), rc.Request)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Allowed != (len(res.Blockers) == 0) {
				t.Errorf("allowed=%v but %d blockers", res.Allowed, len(res.Blockers))
			}
		})
	}
}

func TestEvaluateWithOverride(t *testing.T) {
	blocked := func() *domain.RuleContext {
		rc := newContext(
			rule(CodeMaxActiveBookings, domain.CategoryAccount, domain.RuleParams{"limit": 1}),
			rule(CodeStrikeSuspension, domain.CategoryAccount, domain.RuleParams{"max_strikes": 1}),
		)
		rc.ExistingBookings = futureBookings(1)
		rc.User.ActiveStrikes = 2
		return rc
	}
	ov := domain.AdminOverride{AdminID: "admin-001", Reason: "league fixture"}

	t.Run("Recorded", func(t *testing.T) {
		sink := &fakeSink{}
		rc := blocked()
		engine := newTestEngine(t, &fakeBuilder{rc: rc}, sink)

		res, err := engine.EvaluateWithOverride(context.Background(), rc.Request, ov)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Error("expected override to allow")
		}
		if len(res.Blockers) != 2 || len(res.OverriddenRules) != 2 {
			t.Fatalf("expected 2 overridden blockers, got %+v", res)
		}
		for _, b := range res.Blockers {
			if b.Details["overridden"] != true || b.Details["overriddenBy"] != "admin-001" || b.Details["overrideReason"] != "league fixture" {
				t.Errorf("%s: missing override annotation: %v", b.RuleCode, b.Details)
			}
		}
		if res.AuditStatus != domain.AuditRecorded || res.AuditRecordID == "" {
			t.Errorf("expected recorded audit, got %s %q", res.AuditStatus, res.AuditRecordID)
		}
		if len(sink.records) != 1 {
			t.Fatalf("expected one audit record, got %d", len(sink.records))
		}
		rec := sink.records[0]
		if rec.ViolationType != domain.ViolationAdminOverride || !rec.Resolved || rec.ResolvedBy != "admin-001" || rec.Notes != "league fixture" {
			t.Errorf("unexpected audit record: %+v", rec)
		}
		if rec.UserID != "user-001" || rec.FacilityID != "fac-001" {
			t.Errorf("audit record not attributed to request: %+v", rec)
		}
	})

	t.Run("AuditFailureDoesNotBlock", func(t *testing.T) {
		sink := &fakeSink{err: errors.New("disk full")}
		rc := blocked()
		engine := newTestEngine(t, &fakeBuilder{rc: rc}, sink)

		res, err := engine.EvaluateWithOverride(context.Background(), rc.Request, ov)
		if err != nil {
			t.Fatalf("audit failure must not surface as an error: %v", err)
		}
		if !res.Allowed {
			t.Error("expected override to allow despite audit failure")
		}
		if res.AuditStatus != domain.AuditFailed || res.AuditError == "" {
			t.Errorf("expected failed audit status, got %s %q", res.AuditStatus, res.AuditError)
		}
	})

	t.Run("NilSink", func(t *testing.T) {
		rc := blocked()
		engine := newTestEngine(t, &fakeBuilder{rc: rc}, nil)

		res, err := engine.EvaluateWithOverride(context.Background(), rc.Request, ov)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.AuditStatus != domain.AuditFailed {
			t.Errorf("expected allowed with failed audit, got %+v", res)
		}
	})

	t.Run("NothingBlocked", func(t *testing.T) {
		sink := &fakeSink{}
		rc := newContext(rule(CodeAccountStatus, domain.CategoryAccount, nil))
		engine := newTestEngine(t, &fakeBuilder{rc: rc}, sink)

		res, err := engine.EvaluateWithOverride(context.Background(), rc.Request, ov)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed || res.AuditStatus != domain.AuditNotRequired {
			t.Errorf("expected allowed without audit, got %+v", res)
		}
		if len(sink.records) != 0 {
			t.Errorf("expected no audit records, got %d", len(sink.records))
		}
	})
}
