package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/rules"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	validator *RequestValidator
	resultTTL time.Duration
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, resultTTL time.Duration, version string) *Handler {
	if resultTTL <= 0 {
		resultTTL = 15 * time.Minute
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		validator: NewRequestValidator(),
		resultTTL: resultTTL,
		version:   version,
	}
}

// ResponseMetadata accompanies every evaluation response.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// EvaluateResponse is the response for POST /bookings/evaluate.
type EvaluateResponse struct {
	EvaluationID string `json:"evaluationId"`
	domain.EvaluationResult
	Metadata ResponseMetadata `json:"metadata"`
}

// OverrideRequest is the request body for POST /bookings/override.
type OverrideRequest struct {
	Request  domain.BookingRequest `json:"request"`
	Override domain.AdminOverride  `json:"override"`
}

// OverrideResponse is the response for POST /bookings/override.
type OverrideResponse struct {
	EvaluationID string `json:"evaluationId"`
	domain.OverrideResult
	Metadata ResponseMetadata `json:"metadata"`
}

// CancellationResponse is the response for POST /cancellations/evaluate.
type CancellationResponse struct {
	EvaluationID string `json:"evaluationId"`
	domain.CancellationEvaluationResult
	Metadata ResponseMetadata `json:"metadata"`
}

// EvaluateBooking handles POST /bookings/evaluate.
func (h *Handler) EvaluateBooking(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.BookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Evaluate(ctx, req)
	if err != nil {
		slog.Error("booking evaluation failed",
			"facility_id", req.FacilityID,
			"user_id", req.UserID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	record := &domain.EvaluationRecord{
		ID:         uuid.New().String(),
		FacilityID: req.FacilityID,
		Kind:       domain.KindBooking,
		CreatedAt:  time.Now().UTC(),
		Booking:    res,
	}
	h.remember(ctx, record, domain.TopicBookingEvaluated)

	writeJSON(w, http.StatusOK, EvaluateResponse{
		EvaluationID:     record.ID,
		EvaluationResult: *res,
		Metadata:         h.metadata(ctx, start),
	})
}

// OverrideBooking handles POST /bookings/override.
func (h *Handler) OverrideBooking(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req OverrideRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.EvaluateWithOverride(ctx, req.Request, req.Override)
	if err != nil {
		slog.Error("override evaluation failed",
			"facility_id", req.Request.FacilityID,
			"admin_id", req.Override.AdminID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	record := &domain.EvaluationRecord{
		ID:         uuid.New().String(),
		FacilityID: req.Request.FacilityID,
		Kind:       domain.KindOverride,
		CreatedAt:  time.Now().UTC(),
		Override:   res,
	}
	h.remember(ctx, record, "")

	switch res.AuditStatus {
	case domain.AuditRecorded:
		h.publish(ctx, record, domain.TopicOverrideApplied)
	case domain.AuditFailed:
		h.publish(ctx, record, domain.TopicOverrideApplied)
		h.publish(ctx, record, domain.TopicAuditGap)
	}

	writeJSON(w, http.StatusOK, OverrideResponse{
		EvaluationID:   record.ID,
		OverrideResult: *res,
		Metadata:       h.metadata(ctx, start),
	})
}

// EvaluateCancellation handles POST /cancellations/evaluate.
// The result is cached only when the X-Facility-ID header is present.
func (h *Handler) EvaluateCancellation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.CancellationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.EvaluateCancellation(ctx, req)
	if err != nil {
		slog.Error("cancellation evaluation failed",
			"booking_id", req.BookingID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	record := &domain.EvaluationRecord{
		ID:           uuid.New().String(),
		FacilityID:   r.Header.Get(FacilityIDHeader),
		Kind:         domain.KindCancellation,
		CreatedAt:    time.Now().UTC(),
		Cancellation: res,
	}
	if record.FacilityID != "" {
		h.remember(ctx, record, domain.TopicCancellationEvaluated)
	}

	writeJSON(w, http.StatusOK, CancellationResponse{
		EvaluationID:                 record.ID,
		CancellationEvaluationResult: *res,
		Metadata:                     h.metadata(ctx, start),
	})
}

// GetEvaluation returns a cached evaluation of the facility named by X-Facility-ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evalID := chi.URLParam(r, "id")
	facilityID := r.Header.Get(FacilityIDHeader)

	if facilityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "X-Facility-ID header is required",
		})
		return
	}

	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evaluation cache not available",
		})
		return
	}

	record, err := h.cache.GetEvaluation(ctx, facilityID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found or expired",
		})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ListRuleCodes returns the registered rule codes grouped by category.
func (h *Handler) ListRuleCodes(w http.ResponseWriter, r *http.Request) {
	registry := h.engine.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"codes": registry.CodesByCategory(),
		"count": registry.Len(),
	})
}

// ListFacilityRules returns the enabled rules of a facility in evaluation order.
func (h *Handler) ListFacilityRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	facilityID := chi.URLParam(r, "id")
	configured, err := h.repo.ListFacilityRules(r.Context(), facilityID)
	if err != nil {
		slog.Error("failed to list facility rules", "facility_id", facilityID, "error", err)
		writeError(w, err)
		return
	}
	if configured == nil {
		configured = []domain.FacilityRuleConfig{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": configured,
		"count": len(configured),
	})
}

// CreateFacilityRule validates and stores a rule configuration.
// It takes effect on the next evaluation; there is no reload step.
func (h *Handler) CreateFacilityRule(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var rule domain.FacilityRuleConfig
	if !h.decode(w, r, &rule) {
		return
	}
	rule.FacilityID = chi.URLParam(r, "id")

	if err := h.engine.Registry().Validate(&rule); err != nil {
		writeError(w, err)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.repo.SaveFacilityRule(r.Context(), &rule); err != nil {
		slog.Error("failed to save facility rule",
			"facility_id", rule.FacilityID,
			"rule_code", rule.RuleCode,
			"error", err,
		)
		writeError(w, err)
		return
	}

	slog.Info("facility rule saved",
		"facility_id", rule.FacilityID,
		"rule_id", rule.ID,
		"rule_code", rule.RuleCode,
	)
	writeJSON(w, http.StatusCreated, rule)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decode parses and validates the body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

// remember caches the record and, when topic is set, publishes it.
func (h *Handler) remember(ctx context.Context, record *domain.EvaluationRecord, topic string) {
	if h.cache != nil {
		if err := h.cache.SetEvaluation(ctx, record.FacilityID, record, h.resultTTL); err != nil {
			slog.Warn("failed to cache evaluation",
				"evaluation_id", record.ID,
				"facility_id", record.FacilityID,
				"error", err,
			)
		}
	}
	if topic != "" {
		h.publish(ctx, record, topic)
	}
}

func (h *Handler) publish(ctx context.Context, record *domain.EvaluationRecord, topic string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to encode evaluation", "evaluation_id", record.ID, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, record.FacilityID, topic, payload); err != nil {
		slog.Warn("failed to publish evaluation",
			"evaluation_id", record.ID,
			"topic", topic,
			"error", err,
		)
	}
}

func (h *Handler) metadata(ctx context.Context, start time.Time) ResponseMetadata {
	return ResponseMetadata{
		TraceID: GetTraceID(ctx),
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation failed",
			"details": verrs,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrSchemaNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
