// Package dur implements prospective Drug Utilization Review: the safety
// checks run against a claim at adjudication time, the pass/fail aggregation
// over the fired alerts, and pharmacist override validation.
package dur

import (
	"fmt"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// AlertType discriminates the DUR check that fired.
type AlertType string

const (
	AlertDrugDrug               AlertType = "drug_drug_interaction"
	AlertTherapeuticDuplication AlertType = "therapeutic_duplication"
	AlertEarlyRefill            AlertType = "early_refill"
	AlertAgeRestriction         AlertType = "age_restriction"
	AlertGenderRestriction      AlertType = "gender_restriction"
)

// Clinical significance levels. Level 1 is major and always requires a
// pharmacist override downstream.
const (
	SeverityMajor    = 1
	SeverityModerate = 2
	SeverityMinor    = 3
)

// NCPDP reason-for-service codes per alert type.
const (
	ReasonDrugDrug    = "DD"
	ReasonDuplication = "TD"
	ReasonEarlyRefill = "ER"
	ReasonDrugAge     = "PA"
	ReasonDrugGender  = "SX"
)

// Alert is a single fired DUR safety alert. Alerts are domain outcomes, not
// errors; they are always returned as data.
type Alert struct {
	Type                AlertType `json:"type"`
	Severity            int       `json:"severity"`
	DrugCode            string    `json:"drug_code"`
	InteractingDrugCode string    `json:"interacting_drug_code,omitempty"`
	Message             string    `json:"message"`
	Recommendation      string    `json:"recommendation,omitempty"`
	ReasonCode          string    `json:"reason_code"`
	DaysEarly           int       `json:"days_early,omitempty"`
}

// Interaction is a configured drug-drug interaction keyed by a pair of class
// code prefixes. The pair is symmetric: an interaction between the new drug
// and a current medication fires regardless of which side each matched.
type Interaction struct {
	ClassA         string `json:"class_a"`
	ClassB         string `json:"class_b"`
	Severity       int    `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Validate checks the interaction's configuration.
func (i Interaction) Validate() error {
	if i.ClassA == "" || i.ClassB == "" {
		return fmt.Errorf("interaction %q/%q: both class prefixes required", i.ClassA, i.ClassB)
	}
	if i.Severity < SeverityMajor || i.Severity > SeverityMinor {
		return fmt.Errorf("interaction %s/%s: severity %d out of range", i.ClassA, i.ClassB, i.Severity)
	}
	return nil
}

// AgeRestriction bounds the patient ages a drug may be dispensed for.
// A zero MinAge or MaxAge leaves that bound open.
type AgeRestriction struct {
	Drug     drug.Identifier `json:"drug"`
	MinAge   int             `json:"min_age,omitempty"`
	MaxAge   int             `json:"max_age,omitempty"`
	Severity int             `json:"severity"`
	Message  string          `json:"message,omitempty"`
}

// DrugIdentifier implements drug.Rule.
func (r AgeRestriction) DrugIdentifier() drug.Identifier { return r.Drug }

// Validate checks the restriction's configuration.
func (r AgeRestriction) Validate() error {
	if r.Drug.IsZero() {
		return fmt.Errorf("age restriction: no drug identifier")
	}
	if r.MinAge == 0 && r.MaxAge == 0 {
		return fmt.Errorf("age restriction: neither bound set")
	}
	if r.MaxAge > 0 && r.MinAge > r.MaxAge {
		return fmt.Errorf("age restriction: min %d exceeds max %d", r.MinAge, r.MaxAge)
	}
	return nil
}

// GenderRestriction limits a drug to one configured gender.
type GenderRestriction struct {
	Drug          drug.Identifier `json:"drug"`
	AllowedGender string          `json:"allowed_gender"`
	Severity      int             `json:"severity"`
	Message       string          `json:"message,omitempty"`
}

// DrugIdentifier implements drug.Rule.
func (r GenderRestriction) DrugIdentifier() drug.Identifier { return r.Drug }

// Validate checks the restriction's configuration.
func (r GenderRestriction) Validate() error {
	if r.Drug.IsZero() {
		return fmt.Errorf("gender restriction: no drug identifier")
	}
	if r.AllowedGender == "" {
		return fmt.Errorf("gender restriction: no allowed gender")
	}
	return nil
}
