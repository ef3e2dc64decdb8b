package priorauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// Status is the authorization request state. Pending transitions one way to
// a terminal state; no state re-enters Pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusPartial  Status = "partial"
)

// Urgency of the request.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// RequestType distinguishes a first authorization from a renewal.
type RequestType string

const (
	RequestInitial RequestType = "initial"
	RequestRenewal RequestType = "renewal"
)

// Caller errors. Determinations are final: re-determining a request is
// operator misuse, not a domain outcome.
var (
	ErrAlreadyDetermined     = errors.New("request already determined")
	ErrPartialExceedsRequest = errors.New("partial approval exceeds requested values")
)

// Request is a prior authorization request. The id is generated on creation
// and immutable thereafter.
type Request struct {
	ID             string          `json:"id"`
	MemberID       string          `json:"member_id"`
	Drug           drug.Identifier `json:"drug"`
	DrugName       string          `json:"drug_name,omitempty"`
	Quantity       float64         `json:"quantity"`
	DaysSupply     int             `json:"days_supply"`
	PrescriberNPI  string          `json:"prescriber_npi,omitempty"`
	DiagnosisCodes []string        `json:"diagnosis_codes,omitempty"`
	Urgency        Urgency         `json:"urgency"`
	RequestType    RequestType     `json:"request_type"`
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// Response is the determination for a request.
type Response struct {
	RequestID           string          `json:"request_id"`
	MemberID            string          `json:"member_id"`
	Drug                drug.Identifier `json:"drug"`
	Status              Status          `json:"status"`
	AuthorizationNumber string          `json:"authorization_number,omitempty"`
	ApprovedQuantity    float64         `json:"approved_quantity,omitempty"`
	ApprovedDaysSupply  int             `json:"approved_days_supply,omitempty"`
	RefillsAuthorized   int             `json:"refills_authorized"`
	EffectiveDate       time.Time       `json:"effective_date,omitempty"`
	ExpirationDate      time.Time       `json:"expiration_date,omitempty"`
	DenialReason        string          `json:"denial_reason,omitempty"`
	Message             string          `json:"message,omitempty"`
	Alternatives        []string        `json:"alternatives"`
	AppealDeadline      time.Time       `json:"appeal_deadline,omitempty"`
	AutoApproved        bool            `json:"auto_approved"`
	DeterminedAt        time.Time       `json:"determined_at"`
}

// WorkflowConfig holds the determination policy knobs the source data leaves
// to the host: appeal window, default refills, authorization duration.
type WorkflowConfig struct {
	AppealWindowDays int
	DefaultRefills   int
	AuthDurationDays int
}

// DefaultWorkflowConfig returns the default determination policy.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		AppealWindowDays: 30,
		DefaultRefills:   0,
		AuthDurationDays: 365,
	}
}

// Workflow is the prior authorization state machine. Determinations and
// issued authorizations are retained in memory for the lifetime of the
// workflow; durable storage is the host's concern.
type Workflow struct {
	cfg    WorkflowConfig
	logger *zap.Logger

	mu         sync.RWMutex
	determined map[string]*Response
	granted    []*Response
}

// NewWorkflow creates a workflow with the given policy.
func NewWorkflow(cfg WorkflowConfig, logger *zap.Logger) *Workflow {
	if cfg.AppealWindowDays <= 0 {
		cfg.AppealWindowDays = DefaultWorkflowConfig().AppealWindowDays
	}
	if cfg.AuthDurationDays <= 0 {
		cfg.AuthDurationDays = DefaultWorkflowConfig().AuthDurationDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		cfg:        cfg,
		logger:     logger,
		determined: make(map[string]*Response),
	}
}

// CreateRequest creates a Pending request with a generated id.
func (w *Workflow) CreateRequest(memberID string, d drug.Identifier, drugName string, qty float64, daysSupply int, prescriberNPI string, diagnosisCodes []string, urgency Urgency, reqType RequestType, submittedAt time.Time) *Request {
	if urgency == "" {
		urgency = UrgencyRoutine
	}
	if reqType == "" {
		reqType = RequestInitial
	}
	req := &Request{
		ID:             uuid.New().String(),
		MemberID:       memberID,
		Drug:           d,
		DrugName:       drugName,
		Quantity:       qty,
		DaysSupply:     daysSupply,
		PrescriberNPI:  prescriberNPI,
		DiagnosisCodes: diagnosisCodes,
		Urgency:        urgency,
		RequestType:    reqType,
		SubmittedAt:    submittedAt,
	}
	w.logger.Info("prior auth request created",
		zap.String("request_id", req.ID),
		zap.String("member_id", memberID),
		zap.String("urgency", string(urgency)),
		zap.String("request_type", string(reqType)),
	)
	return req
}

// CheckAutoApproval returns an auto-approved response iff the request
// qualifies for a shortcut: emergency urgency or a renewal. Otherwise nil,
// and the caller proceeds to criteria-based or manual determination.
func (w *Workflow) CheckAutoApproval(req *Request, asOf time.Time) (*Response, error) {
	if req.Urgency != UrgencyEmergency && req.RequestType != RequestRenewal {
		return nil, nil
	}

	resp, err := w.determine(req, func() *Response {
		resp := w.approval(req, asOf)
		resp.AutoApproved = true
		if req.Urgency == UrgencyEmergency {
			resp.Message = "auto-approved: emergency supply"
		} else {
			resp.Message = "auto-approved: renewal of existing therapy"
		}
		return resp
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("prior auth auto-approved",
		zap.String("request_id", req.ID),
		zap.String("authorization_number", resp.AuthorizationNumber),
	)
	return resp, nil
}

// CheckExistingAuth returns the most recent non-expired approval for the
// member and drug, or nil. Expiry is judged against the supplied evaluation
// date so batch reprocessing stays deterministic.
func (w *Workflow) CheckExistingAuth(memberID string, d drug.Identifier, asOf time.Time) *Response {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var best *Response
	for _, g := range w.granted {
		if g.MemberID != memberID || g.Drug != d {
			continue
		}
		if g.ExpirationDate.Before(asOf) || g.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || g.EffectiveDate.After(best.EffectiveDate) {
			best = g
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

// Approve records a full approval.
func (w *Workflow) Approve(req *Request, asOf time.Time) (*Response, error) {
	return w.determine(req, func() *Response {
		return w.approval(req, asOf)
	})
}

// PartialApprove records an approval at reduced quantity, days supply,
// or duration. Approved values must not exceed the requested ones.
func (w *Workflow) PartialApprove(req *Request, qty float64, daysSupply, durationDays int, reason string, asOf time.Time) (*Response, error) {
	if qty > req.Quantity || daysSupply > req.DaysSupply {
		return nil, fmt.Errorf("%w: %v/%d requested, %v/%d approved",
			ErrPartialExceedsRequest, req.Quantity, req.DaysSupply, qty, daysSupply)
	}
	if durationDays <= 0 {
		durationDays = w.cfg.AuthDurationDays
	}
	return w.determine(req, func() *Response {
		return &Response{
			RequestID:           req.ID,
			MemberID:            req.MemberID,
			Drug:                req.Drug,
			Status:              StatusPartial,
			AuthorizationNumber: newAuthNumber(),
			ApprovedQuantity:    qty,
			ApprovedDaysSupply:  daysSupply,
			RefillsAuthorized:   w.cfg.DefaultRefills,
			EffectiveDate:       asOf,
			ExpirationDate:      asOf.AddDate(0, 0, durationDays),
			Message:             reason,
			Alternatives:        []string{},
			DeterminedAt:        asOf,
		}
	})
}

// Deny records a denial with an appeal deadline. The alternatives list may
// be empty but is always present.
func (w *Workflow) Deny(req *Request, reason, message string, alternatives []string, asOf time.Time) (*Response, error) {
	if alternatives == nil {
		alternatives = []string{}
	}
	return w.determine(req, func() *Response {
		return &Response{
			RequestID:      req.ID,
			MemberID:       req.MemberID,
			Drug:           req.Drug,
			Status:         StatusDenied,
			DenialReason:   reason,
			Message:        message,
			Alternatives:   alternatives,
			AppealDeadline: asOf.AddDate(0, 0, w.cfg.AppealWindowDays),
			DeterminedAt:   asOf,
		}
	})
}

// approval builds a full approval response.
func (w *Workflow) approval(req *Request, asOf time.Time) *Response {
	return &Response{
		RequestID:           req.ID,
		MemberID:            req.MemberID,
		Drug:                req.Drug,
		Status:              StatusApproved,
		AuthorizationNumber: newAuthNumber(),
		ApprovedQuantity:    req.Quantity,
		ApprovedDaysSupply:  req.DaysSupply,
		RefillsAuthorized:   w.cfg.DefaultRefills,
		EffectiveDate:       asOf,
		ExpirationDate:      asOf.AddDate(0, 0, w.cfg.AuthDurationDays),
		Alternatives:        []string{},
		DeterminedAt:        asOf,
	}
}

// determine enforces one-way, single-shot state transitions.
func (w *Workflow) determine(req *Request, build func() *Response) (*Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, ok := w.determined[req.ID]; ok {
		return nil, fmt.Errorf("%w: request %s is already %s", ErrAlreadyDetermined, req.ID, prior.Status)
	}

	resp := build()
	w.determined[req.ID] = resp
	if resp.Status == StatusApproved || resp.Status == StatusPartial {
		w.granted = append(w.granted, resp)
	}

	w.logger.Info("prior auth determined",
		zap.String("request_id", req.ID),
		zap.String("status", string(resp.Status)),
	)
	copied := *resp
	return &copied, nil
}

// newAuthNumber generates an authorization number.
func newAuthNumber() string {
	return "PA-" + uuid.New().String()
}
