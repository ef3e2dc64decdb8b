// Package handlers provides HTTP handlers for the adjudication API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/adjudication"
	"github.com/drfirst/go-rxadjudicator/internal/api/middleware"
	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/quantity"
)

// DecisionSink receives adjudication decisions for downstream consumers.
// The stream publisher satisfies it; a nil sink disables publishing.
type DecisionSink interface {
	PublishDecision(ctx context.Context, decision *adjudication.Decision) error
}

// AdjudicationHandler serves claim evaluation and override recording.
type AdjudicationHandler struct {
	service   *adjudication.Service
	overrides *dur.OverrideManager
	sink      DecisionSink
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewAdjudicationHandler creates the handler. sink may be nil.
func NewAdjudicationHandler(service *adjudication.Service, overrides *dur.OverrideManager, sink DecisionSink, logger *zap.Logger, m *metrics.Metrics) *AdjudicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdjudicationHandler{
		service:   service,
		overrides: overrides,
		sink:      sink,
		logger:    logger,
		metrics:   m,
	}
}

// Routes returns the claim routes.
func (h *AdjudicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/adjudicate", h.Adjudicate)
	r.Post("/dur-check", h.DURCheck)
	r.Post("/overrides", h.CreateOverride)
	r.Get("/overrides", h.ListOverrides)
	return r
}

// AdjudicateRequest is the claim evaluation request body.
type AdjudicateRequest struct {
	Claim   claims.Claim          `json:"claim"`
	Member  claims.Member         `json:"member"`
	History []claims.HistoryEntry `json:"history,omitempty"`
}

// Adjudicate handles POST /claims/adjudicate.
func (h *AdjudicationHandler) Adjudicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("adjudication-handler")
	ctx, span := tracer.Start(ctx, "adjudicate_claim")
	defer span.End()

	var req AdjudicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Claim.ID == "" || req.Claim.DrugCode == "" {
		jsonError(w, "claim id and drug_code are required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("claim_id", req.Claim.ID))

	decision, err := h.service.Adjudicate(ctx, req.Claim, req.Member, req.History)
	if err != nil {
		// Evaluation errors are caller problems: bad quantities, missing
		// demographics a firing rule needs. The rules themselves were
		// validated at load time.
		h.logger.Warn("adjudication rejected",
			zap.String("claim_id", req.Claim.ID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		status := http.StatusUnprocessableEntity
		if errors.Is(err, quantity.ErrNegativeQuantity) || errors.Is(err, quantity.ErrNegativeDaysSupply) {
			status = http.StatusBadRequest
		}
		jsonError(w, err.Error(), status)
		return
	}

	if h.sink != nil {
		if err := h.sink.PublishDecision(ctx, decision); err != nil {
			// The caller still gets the decision; the stream catches up
			// from the API audit log.
			h.logger.Error("decision publish failed",
				zap.String("claim_id", decision.ClaimID),
				zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

// DURCheck handles POST /claims/dur-check. It runs the safety screen
// without quantity limits or the prior authorization gate, for pharmacy
// systems checking a prospective fill.
func (h *AdjudicationHandler) DURCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdjudicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Claim.DrugCode == "" {
		jsonError(w, "drug_code is required", http.StatusBadRequest)
		return
	}

	eval, err := h.service.DURCheck(ctx, req.Claim, req.Member, req.History)
	if err != nil {
		h.logger.Warn("dur check rejected",
			zap.String("drug_code", req.Claim.DrugCode),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// OverrideRequest is the override recording body.
type OverrideRequest struct {
	Alert               dur.Alert `json:"alert"`
	ProfessionalService string    `json:"professional_service"`
	ResultOfService     string    `json:"result_of_service"`
	PharmacistID        string    `json:"pharmacist_id"`
}

// CreateOverride handles POST /claims/overrides.
func (h *AdjudicationHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	override, err := h.overrides.CreateOverride(req.Alert, req.ProfessionalService, req.ResultOfService, req.PharmacistID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.metrics != nil {
		h.metrics.OverridesRecorded.Inc()
	}
	h.logger.Info("override recorded",
		zap.String("override_id", override.ID),
		zap.String("pharmacist_id", req.PharmacistID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, override)
}

// ListOverrides handles GET /claims/overrides, the audit view.
func (h *AdjudicationHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.overrides.Overrides())
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
