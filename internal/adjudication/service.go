// Package adjudication orchestrates a claim through the quantity limit
// engine and DUR validation and merges their outputs into a single decision.
package adjudication

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/quantity"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
)

// Outcome summarizes how a claim may proceed.
type Outcome string

const (
	// OutcomeProceed: the claim may pay, possibly at a clipped quantity.
	OutcomeProceed Outcome = "proceed"
	// OutcomeOverrideRequired: a major DUR alert needs a pharmacist override.
	OutcomeOverrideRequired Outcome = "override_required"
	// OutcomePriorAuthRequired: the drug carries a criteria set and no
	// authorization was presented.
	OutcomePriorAuthRequired Outcome = "prior_auth_required"
)

// Decision is the complete adjudication result for one claim. Every fired
// rule is present; the decision is never partial.
type Decision struct {
	ClaimID           string          `json:"claim_id"`
	MemberID          string          `json:"member_id"`
	Outcome           Outcome         `json:"outcome"`
	Passed            bool            `json:"passed"`
	Quantity          quantity.Result `json:"quantity"`
	DUR               dur.Evaluation  `json:"dur"`
	PriorAuthRequired bool            `json:"prior_auth_required"`
	CriteriaSetID     string          `json:"criteria_set_id,omitempty"`
	EvaluatedAt       time.Time       `json:"evaluated_at"`
}

// Service runs claim adjudication over the current rules snapshot. It is
// safe for concurrent use: each evaluation takes one snapshot pointer and
// shares no mutable state with other evaluations.
type Service struct {
	store   *rules.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewService creates an adjudication service. metrics may be nil in tests.
func NewService(store *rules.Store, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("adjudication"),
	}
}

// Adjudicate evaluates one claim against the active snapshot. Quantity and
// DUR checks both run to completion; their outputs are merged so the caller
// sees every fired rule, the payable quantity, and whether an override or a
// prior authorization gates the claim.
func (s *Service) Adjudicate(ctx context.Context, claim claims.Claim, member claims.Member, history []claims.HistoryEntry) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "adjudicate_claim",
		trace.WithAttributes(
			attribute.String("claim_id", claim.ID),
			attribute.String("drug_code", claim.DrugCode),
		))
	defer span.End()

	start := time.Now()
	snapshot := s.store.Current()

	qtyEngine := quantity.NewEngine(snapshot.QuantityLimits, s.logger)
	qtyResult, err := qtyEngine.Check(claim.DrugCode, claim.ClassCode, claim.Quantity, claim.DaysSupply, history, claim.ServiceDate)
	if err != nil {
		return nil, err
	}

	durEval, err := dur.NewValidator(snapshot.DURConfig()).Validate(claim, member, history)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		ClaimID:     claim.ID,
		MemberID:    claim.MemberID,
		Quantity:    qtyResult,
		DUR:         durEval,
		Passed:      qtyResult.Passed && durEval.Passed,
		EvaluatedAt: claim.ServiceDate,
	}

	if cs := snapshot.CriteriaSetFor(claim.DrugCode, claim.ClassCode); cs != nil {
		decision.PriorAuthRequired = true
		decision.CriteriaSetID = cs.ID
	}

	switch {
	case decision.PriorAuthRequired:
		decision.Outcome = OutcomePriorAuthRequired
	case durEval.RequiresOverride:
		decision.Outcome = OutcomeOverrideRequired
	default:
		decision.Outcome = OutcomeProceed
	}

	span.SetAttributes(
		attribute.String("outcome", string(decision.Outcome)),
		attribute.Int("alerts", len(durEval.Alerts)),
	)
	s.observe(decision, time.Since(start))

	s.logger.Debug("claim adjudicated",
		zap.String("claim_id", claim.ID),
		zap.String("outcome", string(decision.Outcome)),
		zap.Float64("allowed_quantity", qtyResult.AllowedQuantity),
		zap.Int("alerts", len(durEval.Alerts)),
	)
	return decision, nil
}

// DURCheck runs the safety checks alone, without the quantity engine or
// prior authorization gate. Pharmacy systems use it to screen a prospective
// fill before a claim exists.
func (s *Service) DURCheck(ctx context.Context, claim claims.Claim, member claims.Member, history []claims.HistoryEntry) (dur.Evaluation, error) {
	_, span := s.tracer.Start(ctx, "dur_check",
		trace.WithAttributes(attribute.String("drug_code", claim.DrugCode)))
	defer span.End()

	snapshot := s.store.Current()
	eval, err := dur.NewValidator(snapshot.DURConfig()).Validate(claim, member, history)
	if err != nil {
		return dur.Evaluation{}, err
	}

	if s.metrics != nil {
		for _, a := range eval.Alerts {
			s.metrics.DURAlertsFired.WithLabelValues(string(a.Type)).Inc()
		}
	}
	span.SetAttributes(attribute.Int("alerts", len(eval.Alerts)))
	return eval, nil
}

func (s *Service) observe(d *Decision, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ClaimsAdjudicated.WithLabelValues(string(d.Outcome)).Inc()
	s.metrics.AdjudicationLatency.Observe(elapsed.Seconds())
	for _, a := range d.DUR.Alerts {
		s.metrics.DURAlertsFired.WithLabelValues(string(a.Type)).Inc()
	}
}
