package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/audit"
	"github.com/courtkeeper/courtkeeper/internal/bus"
	"github.com/courtkeeper/courtkeeper/internal/cache"
	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/repository"
	"github.com/courtkeeper/courtkeeper/internal/rulectx"
	"github.com/courtkeeper/courtkeeper/internal/rules"
)

// Wednesday 2025-03-12, 08:00 UTC.
var testNow = time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// createTestServer wires a sqlite-backed engine. Without an audit sink every
// override reports an audit failure.
func createTestServer(t *testing.T, withAudit bool) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "courtkeeper-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	seed(t, repo)

	registry, err := rules.DefaultRegistry()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	var sink domain.AuditSink
	if withAudit {
		sink = audit.NewSQLSink(repo)
	}
	builder := rulectx.NewBuilder(repo, rulectx.WithClock(func() time.Time { return testNow }))
	engine := rules.NewEngine(builder, registry, sink)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	server := NewServer(cfg, repo, cache.NewLRUCache(100), eventBus, engine, time.Minute, "test-v1")

	return &testEnv{server: server, repo: repo, bus: eventBus}
}

func seed(t *testing.T, repo domain.Repository) {
	t.Helper()
	ctx := context.Background()

	must := func(what string, err error) {
		if err != nil {
			t.Fatalf("failed to seed %s: %v", what, err)
		}
	}

	must("facility", repo.SaveFacility(ctx, &domain.Facility{ID: "fac-001", Name: "Riverside Club", Timezone: "UTC"}))
	must("court", repo.SaveCourt(ctx, &domain.Court{ID: "court-001", FacilityID: "fac-001", Name: "Court 1"}))
	for _, u := range []*domain.User{
		{ID: "user-001", FacilityID: "fac-001", Name: "Ana"},
		{ID: "user-002", FacilityID: "fac-001", Name: "Ben"},
	} {
		must("user", repo.SaveUser(ctx, u))
	}
	for _, b := range []*domain.Booking{
		{ID: "b-1", UserID: "user-001", BookingDate: "2025-03-13", StartTime: "10:00", EndTime: "11:00"},
		{ID: "b-2", UserID: "user-001", BookingDate: "2025-03-14", StartTime: "10:00", EndTime: "11:00"},
		{ID: "b-soon", UserID: "user-002", BookingDate: "2025-03-12", StartTime: "10:00", EndTime: "11:00"},
	} {
		b.FacilityID = "fac-001"
		b.CourtID = "court-001"
		b.BookingType = "singles"
		must("booking", repo.SaveBooking(ctx, b))
	}
	for _, r := range []*domain.FacilityRuleConfig{
		{ID: "r-1", RuleCode: rules.CodeWeeklyBookings, RuleCategory: domain.CategoryAccount, RuleName: "Weekly",
			RuleConfig: domain.RuleParams{"limit": 2}, FailureMessageTemplate: "Max {limit} bookings per week, you have {count}"},
		{ID: "r-2", RuleCode: rules.CodeBookingDuration, RuleCategory: domain.CategoryCourt, RuleName: "Duration",
			RuleConfig: domain.RuleParams{"min_minutes": 30, "max_minutes": 120}},
		{ID: "r-3", RuleCode: rules.CodeCancellationCutoff, RuleCategory: domain.CategoryCourt, RuleName: "Cutoff",
			RuleConfig: domain.RuleParams{"cancel_cutoff_minutes": 240, "penalty_type": "strike"}},
	} {
		r.FacilityID = "fac-001"
		r.Enabled = true
		must("rule", repo.SaveFacilityRule(ctx, r))
	}
}

func bookingRequest(userID, date, start, end string) domain.BookingRequest {
	return domain.BookingRequest{
		UserID:      userID,
		FacilityID:  "fac-001",
		CourtID:     "court-001",
		BookingDate: date,
		StartTime:   start,
		EndTime:     end,
		BookingType: "singles",
	}
}

func do(t *testing.T, server *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateBookingEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	t.Run("Allowed", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-002", "2025-03-15", "10:00", "11:00"), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.Allowed {
			t.Errorf("expected allowed, got blockers %+v", resp.Blockers)
		}
		if resp.EvaluationID == "" {
			t.Error("expected evaluationId in response")
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.TraceID == "" {
			t.Errorf("unexpected metadata %+v", resp.Metadata)
		}
	})

	t.Run("BlockedWithTemplate", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-001", "2025-03-15", "10:00", "11:00"), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Allowed || len(resp.Blockers) != 1 {
			t.Fatalf("expected one blocker, got %+v", resp.EvaluationResult)
		}
		if got := resp.Blockers[0].Message; got != "Max 2 bookings per week, you have 3" {
			t.Errorf("unexpected message %q", got)
		}
	})

	t.Run("DurationTooLong", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-002", "2025-03-15", "10:00", "13:00"), nil)

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Allowed || len(resp.Blockers) != 1 || resp.Blockers[0].RuleCode != rules.CodeBookingDuration {
			t.Errorf("expected duration blocker, got %+v", resp.Blockers)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", "not-json", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		req := bookingRequest("user-002", "15/03/2025", "25:00", "11:00")
		req.CourtID = ""
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", req, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		var resp struct {
			Details ValidationErrors `json:"details"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Details) != 3 {
			t.Errorf("expected 3 field errors, got %+v", resp.Details)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-999", "2025-03-15", "10:00", "11:00"), nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-002", "2025-03-15", "11:00", "10:00"), nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-002", "2025-03-15", "10:00", "11:00"), nil)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestGetEvaluationEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-001", "2025-03-15", "10:00", "11:00"), nil)
	var created EvaluateResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	t.Run("Found", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/evaluations/"+created.EvaluationID, nil, map[string]string{FacilityIDHeader: "fac-001"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var record domain.EvaluationRecord
		json.Unmarshal(rr.Body.Bytes(), &record)
		if record.Kind != domain.KindBooking || record.Booking == nil || record.Booking.Allowed {
			t.Errorf("unexpected record %+v", record)
		}
	})

	t.Run("OtherFacility", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/evaluations/"+created.EvaluationID, nil, map[string]string{FacilityIDHeader: "fac-002"})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingFacilityHeader", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/evaluations/"+created.EvaluationID, nil, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestOverrideEndpoint(t *testing.T) {
	blocked := OverrideRequest{
		Request:  bookingRequest("user-001", "2025-03-15", "10:00", "11:00"),
		Override: domain.AdminOverride{AdminID: "admin-001", Reason: "league final"},
	}

	t.Run("Recorded", func(t *testing.T) {
		env := createTestServer(t, true)

		applied := make(chan struct{}, 1)
		env.bus.Subscribe(context.Background(), "fac-001", domain.TopicOverrideApplied, func(ctx context.Context, msg *domain.Message) error {
			applied <- struct{}{}
			return nil
		})

		rr := do(t, env.server, http.MethodPost, "/bookings/override", blocked, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp OverrideResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Allowed || resp.AuditStatus != domain.AuditRecorded || resp.AuditRecordID == "" {
			t.Fatalf("unexpected override result %+v", resp.OverrideResult)
		}
		if len(resp.OverriddenRules) != 1 || resp.OverriddenRules[0] != rules.CodeWeeklyBookings {
			t.Errorf("unexpected overridden rules %v", resp.OverriddenRules)
		}

		violations, err := env.repo.ListViolations(context.Background(), "fac-001")
		if err != nil {
			t.Fatalf("ListViolations failed: %v", err)
		}
		if len(violations) != 1 || violations[0].ResolvedBy != "admin-001" {
			t.Errorf("expected one audit record by admin-001, got %+v", violations)
		}

		select {
		case <-applied:
		case <-time.After(time.Second):
			t.Error("expected override.applied event")
		}
	})

	t.Run("NothingToOverride", func(t *testing.T) {
		env := createTestServer(t, true)

		req := blocked
		req.Request.UserID = "user-002"
		rr := do(t, env.server, http.MethodPost, "/bookings/override", req, nil)

		var resp OverrideResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Allowed || resp.AuditStatus != domain.AuditNotRequired {
			t.Errorf("expected not_required, got %+v", resp.OverrideResult)
		}
	})

	t.Run("AuditGap", func(t *testing.T) {
		env := createTestServer(t, false)

		gap := make(chan struct{}, 1)
		env.bus.Subscribe(context.Background(), "fac-001", domain.TopicAuditGap, func(ctx context.Context, msg *domain.Message) error {
			gap <- struct{}{}
			return nil
		})

		rr := do(t, env.server, http.MethodPost, "/bookings/override", blocked, nil)

		var resp OverrideResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Allowed || resp.AuditStatus != domain.AuditFailed || resp.AuditError == "" {
			t.Fatalf("expected allowed with failed audit, got %+v", resp.OverrideResult)
		}

		select {
		case <-gap:
		case <-time.After(time.Second):
			t.Error("expected audit.gap event")
		}
	})

	t.Run("MissingReason", func(t *testing.T) {
		env := createTestServer(t, true)

		req := blocked
		req.Override.Reason = ""
		rr := do(t, env.server, http.MethodPost, "/bookings/override", req, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestCancellationEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	tests := []struct {
		name       string
		bookingID  string
		wantLate   bool
		wantStrike bool
	}{
		{"InsideCutoff", "b-soon", true, true},
		{"OutsideCutoff", "b-1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := "user-001"
			if tt.bookingID == "b-soon" {
				userID = "user-002"
			}
			rr := do(t, env.server, http.MethodPost, "/cancellations/evaluate",
				domain.CancellationRequest{BookingID: tt.bookingID, UserID: userID},
				map[string]string{FacilityIDHeader: "fac-001"})
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}

			var resp CancellationResponse
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if !resp.Allowed {
				t.Error("cancellation must always be allowed")
			}
			if resp.IsLateCancel != tt.wantLate || resp.StrikeWillBeIssued != tt.wantStrike {
				t.Errorf("late=%v strike=%v, want late=%v strike=%v",
					resp.IsLateCancel, resp.StrikeWillBeIssued, tt.wantLate, tt.wantStrike)
			}

			rr = do(t, env.server, http.MethodGet, "/evaluations/"+resp.EvaluationID, nil, map[string]string{FacilityIDHeader: "fac-001"})
			if rr.Code != http.StatusOK {
				t.Errorf("expected cached cancellation, got %d", rr.Code)
			}
		})
	}

	t.Run("WrongUser", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/cancellations/evaluate",
			domain.CancellationRequest{BookingID: "b-1", UserID: "user-002"}, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/cancellations/evaluate",
			domain.CancellationRequest{BookingID: "b-missing", UserID: "user-001"}, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestFacilityRulesEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	t.Run("List", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/facilities/fac-001/rules", nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 rules, got %d", resp.Count)
		}
	})

	tests := []struct {
		name     string
		rule     domain.FacilityRuleConfig
		wantCode int
	}{
		{
			name: "Valid",
			rule: domain.FacilityRuleConfig{RuleCode: rules.CodeMaxActiveBookings, RuleCategory: domain.CategoryAccount,
				RuleName: "Active", RuleConfig: domain.RuleParams{"limit": 4}, Enabled: true},
			wantCode: http.StatusCreated,
		},
		{
			name: "ValidExpression",
			rule: domain.FacilityRuleConfig{RuleCode: rules.CodeCustomExpression, RuleCategory: domain.CategoryCourt,
				RuleName: "No long doubles", RuleConfig: domain.RuleParams{"expression": `booking_type == "doubles" && duration_minutes > 90`}, Enabled: true},
			wantCode: http.StatusCreated,
		},
		{
			name:     "UnknownCode",
			rule:     domain.FacilityRuleConfig{RuleCode: "ZZZ-999", RuleCategory: domain.CategoryAccount, RuleName: "Nope"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "WrongCategory",
			rule:     domain.FacilityRuleConfig{RuleCode: rules.CodeMaxActiveBookings, RuleCategory: domain.CategoryCourt, RuleName: "Active"},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "BadExpression",
			rule: domain.FacilityRuleConfig{RuleCode: rules.CodeCustomExpression, RuleCategory: domain.CategoryAccount,
				RuleName: "Broken", RuleConfig: domain.RuleParams{"expression": "duration_minutes >"}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "MissingName",
			rule:     domain.FacilityRuleConfig{RuleCode: rules.CodeMaxActiveBookings, RuleCategory: domain.CategoryAccount},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, env.server, http.MethodPost, "/facilities/fac-001/rules", tt.rule, nil)
			if rr.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("NewRuleApplies", func(t *testing.T) {
		rr := do(t, env.server, http.MethodPost, "/bookings/evaluate", bookingRequest("user-002", "2025-03-15", "10:00", "11:00"), nil)

		var resp EvaluateResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Allowed || len(resp.Results) != 5 {
			t.Errorf("expected 5 passing rule results after adding rules, got %+v", resp.EvaluationResult)
		}
	})
}

func TestRuleCodesEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	rr := do(t, env.server, http.MethodGet, "/rules/codes", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Codes map[string][]string `json:"codes"`
		Count int                 `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 18 {
		t.Errorf("expected 18 codes, got %d", resp.Count)
	}
	if len(resp.Codes["household"]) != 3 {
		t.Errorf("expected 3 household codes, got %v", resp.Codes["household"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t, true)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/health", nil, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := do(t, env.server, http.MethodGet, "/ready", nil, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
	})

	t.Run("TracingMiddlewareKeepsRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected req-123, got %q", got)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/bookings/evaluate", nil)
		req.Header.Set("Origin", "https://club.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://club.example" {
			t.Error("expected origin to be echoed")
		}
	})

	t.Run("RateLimiter", func(t *testing.T) {
		limiter := NewRateLimiter(1, 1)
		frozen := testNow
		limiter.now = func() time.Time { return frozen }

		handler := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		send := func(addr string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			return rr.Code
		}

		if code := send("10.0.0.1:5000"); code != http.StatusOK {
			t.Errorf("first request: expected 200, got %d", code)
		}
		if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
			t.Errorf("second request: expected 429, got %d", code)
		}
		if code := send("10.0.0.2:5000"); code != http.StatusOK {
			t.Errorf("other client: expected 200, got %d", code)
		}

		frozen = frozen.Add(time.Second)
		if code := send("10.0.0.1:5002"); code != http.StatusOK {
			t.Errorf("after refill: expected 200, got %d", code)
		}
	})
}
