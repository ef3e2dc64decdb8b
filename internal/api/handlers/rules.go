package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
)

// SnapshotLoader produces a fresh rules snapshot from the backing store.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (*rules.Snapshot, error)
}

// RulesHandler serves rule administration: inspecting the active snapshot
// and swapping in a reloaded one.
type RulesHandler struct {
	store   *rules.Store
	loader  SnapshotLoader
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRulesHandler creates the handler. loader may be nil, in which case
// reload is unavailable.
func NewRulesHandler(store *rules.Store, loader SnapshotLoader, logger *zap.Logger, m *metrics.Metrics) *RulesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesHandler{store: store, loader: loader, logger: logger, metrics: m}
}

// Routes returns the rules routes.
func (h *RulesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Summary)
	r.Post("/reload", h.Reload)
	return r
}

// Summary handles GET /rules, reporting rule counts from the active
// snapshot.
func (h *RulesHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s := h.store.Current()
	writeJSON(w, http.StatusOK, map[string]int{
		"interactions":        len(s.Interactions),
		"age_restrictions":    len(s.AgeRestrictions),
		"gender_restrictions": len(s.GenderRestrictions),
		"quantity_limits":     len(s.QuantityLimits),
		"criteria_sets":       len(s.CriteriaSets),
	})
}

// Reload handles POST /rules/reload. A snapshot that fails validation is
// rejected whole; the active snapshot keeps serving.
func (h *RulesHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		jsonError(w, "no rules source configured", http.StatusNotImplemented)
		return
	}

	snapshot, err := h.loader.LoadSnapshot(r.Context())
	if err != nil {
		h.logger.Error("rules reload failed", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := h.store.Swap(snapshot); err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if h.metrics != nil {
		h.metrics.RulesSnapshotSwaps.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
