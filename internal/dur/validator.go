package dur

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
)

// Caller errors for override handling, distinguishable from domain outcomes.
var (
	ErrUnknownProfessionalService = errors.New("unknown professional service code")
	ErrUnknownResultOfService     = errors.New("unknown result of service code")
	ErrInvalidCombination         = errors.New("invalid professional/result of service combination")
	ErrMissingGender              = errors.New("member gender is required for gender restriction check")
	ErrMissingAge                 = errors.New("member age is required for age restriction check")
)

// Evaluation aggregates the fired alerts into one pass/fail decision.
// Passed means no alert fired at the major significance level;
// RequiresOverride means at least one did. Alerts of every level are
// retained so the caller sees the complete result.
type Evaluation struct {
	Passed           bool    `json:"passed"`
	Alerts           []Alert `json:"alerts"`
	RequiresOverride bool    `json:"requires_override"`
}

// Validator runs all five DUR checks for a claim and classifies the result.
type Validator struct {
	engine *Engine
}

// NewValidator creates a validator over the configured rule tables.
func NewValidator(cfg Config) *Validator {
	return &Validator{engine: NewEngine(cfg)}
}

// Validate runs every check to completion and collects all fired alerts.
// Current medications are the history fills still expected to be on hand on
// the claim's service date.
func (v *Validator) Validate(claim claims.Claim, member claims.Member, history []claims.HistoryEntry) (Evaluation, error) {
	if v.hasGenderRestriction(claim) && member.Gender == "" {
		return Evaluation{}, fmt.Errorf("%w: drug %s", ErrMissingGender, claim.DrugCode)
	}
	if v.hasAgeRestriction(claim) && member.Age < 0 {
		return Evaluation{}, fmt.Errorf("%w: drug %s", ErrMissingAge, claim.DrugCode)
	}

	var current []claims.HistoryEntry
	for _, entry := range history {
		if entry.ActiveOn(claim.ServiceDate) {
			current = append(current, entry)
		}
	}

	var alerts []Alert
	alerts = append(alerts, v.engine.CheckDrugInteractions(claim.DrugCode, claim.ClassCode, current)...)
	alerts = append(alerts, v.engine.CheckTherapeuticDuplication(claim.DrugCode, claim.ClassCode, current)...)
	alerts = append(alerts, v.engine.CheckEarlyRefill(claim.DrugCode, claim.ServiceDate, history)...)
	alerts = append(alerts, v.engine.CheckAgeRestriction(claim.DrugCode, claim.ClassCode, member.Age)...)
	alerts = append(alerts, v.engine.CheckGenderRestriction(claim.DrugCode, claim.ClassCode, member.Gender)...)

	eval := Evaluation{Passed: true, Alerts: alerts}
	for _, a := range alerts {
		if a.Severity == SeverityMajor {
			eval.Passed = false
			eval.RequiresOverride = true
		}
	}
	return eval, nil
}

func (v *Validator) hasGenderRestriction(c claims.Claim) bool {
	for _, r := range v.engine.cfg.GenderRestrictions {
		if r.Drug.Matches(c.DrugCode, c.ClassCode) {
			return true
		}
	}
	return false
}

func (v *Validator) hasAgeRestriction(c claims.Claim) bool {
	for _, r := range v.engine.cfg.AgeRestrictions {
		if r.Drug.Matches(c.DrugCode, c.ClassCode) {
			return true
		}
	}
	return false
}

// Override is a recorded professional judgment permitting a claim to proceed
// despite a fired alert. Overrides never clear the alert they answer; both
// are retained for audit.
type Override struct {
	ID                  string    `json:"id"`
	AlertType           AlertType `json:"alert_type"`
	ReasonCode          string    `json:"reason_code"`
	ProfessionalService string    `json:"professional_service"`
	ResultOfService     string    `json:"result_of_service"`
	PharmacistID        string    `json:"pharmacist_id"`
	CreatedAt           time.Time `json:"created_at"`
}

// NCPDP professional service codes (closed set).
var professionalServiceCodes = map[string]string{
	"M0": "prescriber consulted",
	"R0": "pharmacist consulted other source",
	"P0": "patient consulted",
	"AS": "patient assessment",
	"CC": "coordination of care",
	"DE": "dosing evaluation",
	"MA": "medication administration",
	"PM": "patient monitoring",
}

// NCPDP result of service codes (closed set).
var resultOfServiceCodes = map[string]string{
	"1A": "filled as is, false positive",
	"1B": "filled prescription as is",
	"1C": "filled with different dose",
	"1D": "filled with different directions",
	"1E": "filled with different drug",
	"1F": "filled with different quantity",
	"1G": "filled with prescriber approval",
	"2A": "prescription not filled",
	"2B": "not filled, directions clarified",
	"3A": "recommendation accepted",
	"3B": "recommendation not accepted",
	"3C": "discontinued drug",
	"4A": "prescribed with acknowledgements",
}

// validCombinations declares which result codes each professional service
// code may be paired with.
var validCombinations = map[string][]string{
	"M0": {"1A", "1B", "1C", "1D", "1E", "1F", "1G", "2A", "2B", "3A", "3B"},
	"R0": {"1A", "1B", "1G", "3A", "3B"},
	"P0": {"1A", "1B", "2A", "2B", "3A"},
	"AS": {"1A", "1B", "3A", "3B", "4A"},
	"CC": {"1B", "1G", "3A", "3C"},
	"DE": {"1B", "1C", "1F", "3A", "3B"},
	"MA": {"1B", "4A"},
	"PM": {"1B", "3A", "4A"},
}

// ValidateOverride checks the override's codes against the closed sets and
// the combination table. A rejection is a caller error with a descriptive
// reason, never a domain outcome.
func ValidateOverride(o Override) error {
	if _, ok := professionalServiceCodes[o.ProfessionalService]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfessionalService, o.ProfessionalService)
	}
	if _, ok := resultOfServiceCodes[o.ResultOfService]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownResultOfService, o.ResultOfService)
	}
	for _, rs := range validCombinations[o.ProfessionalService] {
		if rs == o.ResultOfService {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (%s) with %s (%s)", ErrInvalidCombination,
		o.ProfessionalService, professionalServiceCodes[o.ProfessionalService],
		o.ResultOfService, resultOfServiceCodes[o.ResultOfService])
}

// OverrideManager records validated overrides and retains them for audit.
type OverrideManager struct {
	logger *zap.Logger

	mu        sync.Mutex
	overrides []Override
}

// NewOverrideManager creates an override manager.
func NewOverrideManager(logger *zap.Logger) *OverrideManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideManager{logger: logger}
}

// CreateOverride validates and records an override for a fired alert. The
// alert itself is not cleared; callers keep both for audit.
func (m *OverrideManager) CreateOverride(alert Alert, professionalService, resultOfService, pharmacistID string) (Override, error) {
	o := Override{
		ID:                  uuid.New().String(),
		AlertType:           alert.Type,
		ReasonCode:          alert.ReasonCode,
		ProfessionalService: professionalService,
		ResultOfService:     resultOfService,
		PharmacistID:        pharmacistID,
		CreatedAt:           time.Now().UTC(),
	}
	if err := ValidateOverride(o); err != nil {
		return Override{}, err
	}

	m.mu.Lock()
	m.overrides = append(m.overrides, o)
	m.mu.Unlock()

	m.logger.Info("dur override recorded",
		zap.String("override_id", o.ID),
		zap.String("alert_type", string(alert.Type)),
		zap.String("professional_service", professionalService),
		zap.String("result_of_service", resultOfService),
		zap.String("pharmacist_id", pharmacistID),
	)
	return o, nil
}

// Overrides returns a copy of every recorded override.
func (m *OverrideManager) Overrides() []Override {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Override, len(m.overrides))
	copy(out, m.overrides)
	return out
}
