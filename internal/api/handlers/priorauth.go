package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/api/middleware"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
)

// DeterminationSink receives prior authorization determinations for
// downstream consumers. The stream publisher satisfies it.
type DeterminationSink interface {
	PublishDetermination(ctx context.Context, resp *priorauth.Response) error
}

// DeterminationStore persists determinations and answers lookups against
// the durable record. The postgres AuthStore satisfies it; a nil store
// keeps determinations in memory only.
type DeterminationStore interface {
	SaveDetermination(ctx context.Context, resp *priorauth.Response) error
	ActiveAuthorization(ctx context.Context, memberID string, d drug.Identifier, asOf time.Time) (*priorauth.Response, error)
	DeterminationStats(ctx context.Context) (map[string]int64, error)
}

// PriorAuthHandler serves the prior authorization workflow.
type PriorAuthHandler struct {
	workflow *priorauth.Workflow
	store    DeterminationStore
	sink     DeterminationSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	pending map[string]*priorauth.Request
}

// NewPriorAuthHandler creates the handler. store and sink may be nil.
func NewPriorAuthHandler(workflow *priorauth.Workflow, store DeterminationStore, sink DeterminationSink, logger *zap.Logger, m *metrics.Metrics) *PriorAuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriorAuthHandler{
		workflow: workflow,
		store:    store,
		sink:     sink,
		logger:   logger,
		metrics:  m,
		pending:  make(map[string]*priorauth.Request),
	}
}

// Routes returns the prior auth routes.
func (h *PriorAuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/partial", h.PartialApprove)
	r.Post("/{id}/deny", h.Deny)
	r.Get("/authorizations/active", h.ActiveAuthorization)
	r.Get("/stats", h.Stats)
	return r
}

// CreateRequest is the prior auth submission body.
type CreateRequest struct {
	MemberID       string                `json:"member_id"`
	Drug           drug.Identifier       `json:"drug"`
	DrugName       string                `json:"drug_name,omitempty"`
	Quantity       float64               `json:"quantity"`
	DaysSupply     int                   `json:"days_supply"`
	PrescriberNPI  string                `json:"prescriber_npi,omitempty"`
	DiagnosisCodes []string              `json:"diagnosis_codes,omitempty"`
	Urgency        priorauth.Urgency     `json:"urgency,omitempty"`
	RequestType    priorauth.RequestType `json:"request_type,omitempty"`
}

// CreateResponse reports the created request and, when a shortcut applied,
// its immediate determination.
type CreateResponse struct {
	Request  *priorauth.Request  `json:"request"`
	Response *priorauth.Response `json:"response,omitempty"`
}

// Create handles POST /prior-auth. Emergency and renewal requests are
// determined on the spot; everything else waits for review.
func (h *PriorAuthHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("priorauth-handler")
	ctx, span := tracer.Start(ctx, "create_prior_auth")
	defer span.End()

	var body CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.MemberID == "" || body.Drug.IsZero() {
		jsonError(w, "member_id and drug are required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	req := h.workflow.CreateRequest(body.MemberID, body.Drug, body.DrugName,
		body.Quantity, body.DaysSupply, body.PrescriberNPI, body.DiagnosisCodes,
		body.Urgency, body.RequestType, now)
	span.SetAttributes(attribute.String("pa_request_id", req.ID))

	resp, err := h.workflow.CheckAutoApproval(req, now)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	if resp != nil {
		h.recordDetermination(ctx, resp)
		writeJSON(w, http.StatusCreated, CreateResponse{Request: req, Response: resp})
		return
	}

	h.mu.Lock()
	h.pending[req.ID] = req
	h.mu.Unlock()

	h.logger.Info("prior auth pending review",
		zap.String("pa_request_id", req.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusAccepted, CreateResponse{Request: req})
}

// Get handles GET /prior-auth/{id}.
func (h *PriorAuthHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	req, ok := h.pending[chi.URLParam(r, "id")]
	h.mu.RUnlock()
	if !ok {
		jsonError(w, "request not found or already determined", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Approve handles POST /prior-auth/{id}/approve.
func (h *PriorAuthHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.determineHandler(w, r, func(req *priorauth.Request, asOf time.Time) (*priorauth.Response, error) {
		return h.workflow.Approve(req, asOf)
	})
}

// PartialRequest is the partial approval body.
type PartialRequest struct {
	Quantity     float64 `json:"quantity"`
	DaysSupply   int     `json:"days_supply"`
	DurationDays int     `json:"duration_days,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// PartialApprove handles POST /prior-auth/{id}/partial.
func (h *PriorAuthHandler) PartialApprove(w http.ResponseWriter, r *http.Request) {
	var body PartialRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.determineHandler(w, r, func(req *priorauth.Request, asOf time.Time) (*priorauth.Response, error) {
		return h.workflow.PartialApprove(req, body.Quantity, body.DaysSupply, body.DurationDays, body.Reason, asOf)
	})
}

// DenyRequest is the denial body.
type DenyRequest struct {
	Reason       string   `json:"reason"`
	Message      string   `json:"message,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Deny handles POST /prior-auth/{id}/deny.
func (h *PriorAuthHandler) Deny(w http.ResponseWriter, r *http.Request) {
	var body DenyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Reason == "" {
		jsonError(w, "reason is required", http.StatusBadRequest)
		return
	}
	h.determineHandler(w, r, func(req *priorauth.Request, asOf time.Time) (*priorauth.Response, error) {
		return h.workflow.Deny(req, body.Reason, body.Message, body.Alternatives, asOf)
	})
}

// ActiveAuthorization handles GET /prior-auth/authorizations/active.
func (h *PriorAuthHandler) ActiveAuthorization(w http.ResponseWriter, r *http.Request) {
	memberID := r.URL.Query().Get("member_id")
	d := drug.Identifier{
		DrugCode:  r.URL.Query().Get("drug_code"),
		ClassCode: r.URL.Query().Get("class_code"),
	}
	if memberID == "" || d.IsZero() {
		jsonError(w, "member_id and drug_code or class_code are required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	auth := h.workflow.CheckExistingAuth(memberID, d, now)
	if auth == nil && h.store != nil {
		// Grants issued before the last restart live only in the durable
		// record, so the in-memory miss is not the final answer.
		stored, err := h.store.ActiveAuthorization(r.Context(), memberID, d, now)
		if err != nil {
			h.logger.Error("authorization lookup failed",
				zap.String("member_id", memberID),
				zap.Error(err))
			jsonError(w, "authorization lookup failed", http.StatusBadGateway)
			return
		}
		auth = stored
	}
	if auth == nil {
		jsonError(w, "no active authorization", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// Stats handles GET /prior-auth/stats: determination counts by status from
// the durable record.
func (h *PriorAuthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		jsonError(w, "no determination store configured", http.StatusNotImplemented)
		return
	}
	stats, err := h.store.DeterminationStats(r.Context())
	if err != nil {
		h.logger.Error("determination stats failed", zap.Error(err))
		jsonError(w, "stats query failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *PriorAuthHandler) determineHandler(w http.ResponseWriter, r *http.Request, determine func(*priorauth.Request, time.Time) (*priorauth.Response, error)) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	req, ok := h.pending[id]
	h.mu.RUnlock()
	if !ok {
		jsonError(w, "request not found or already determined", http.StatusNotFound)
		return
	}

	resp, err := determine(req, time.Now().UTC())
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, priorauth.ErrAlreadyDetermined) {
			status = http.StatusConflict
		}
		jsonError(w, err.Error(), status)
		return
	}

	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()

	h.recordDetermination(ctx, resp)
	writeJSON(w, http.StatusOK, resp)
}

// recordDetermination persists and publishes a determination. Failures are
// logged, not surfaced: the determination itself already stands.
func (h *PriorAuthHandler) recordDetermination(ctx context.Context, resp *priorauth.Response) {
	if h.metrics != nil {
		h.metrics.PriorAuthDecisions.WithLabelValues(string(resp.Status)).Inc()
	}
	if h.store != nil {
		if err := h.store.SaveDetermination(ctx, resp); err != nil {
			h.logger.Error("determination persist failed",
				zap.String("pa_request_id", resp.RequestID),
				zap.Error(err))
		}
	}
	if h.sink != nil {
		if err := h.sink.PublishDetermination(ctx, resp); err != nil {
			h.logger.Error("determination publish failed",
				zap.String("pa_request_id", resp.RequestID),
				zap.Error(err))
		}
	}
}
