// Package rules holds the static adjudication rule configuration: the
// interaction table, quantity limits, age/gender restrictions, and prior
// authorization criteria sets. A snapshot is loaded once, validated, and
// never mutated; reloads swap the whole snapshot atomically so concurrent
// evaluations never observe a partially-updated table.
package rules

import (
	"errors"
	"fmt"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
	"github.com/drfirst/go-rxadjudicator/internal/quantity"
)

// Snapshot is one immutable rule configuration. Slice order is the
// configuration's natural order and determines limit evaluation order.
type Snapshot struct {
	Interactions           []dur.Interaction       `json:"interactions"`
	AgeRestrictions        []dur.AgeRestriction    `json:"age_restrictions"`
	GenderRestrictions     []dur.GenderRestriction `json:"gender_restrictions"`
	DuplicationClassLength int                     `json:"duplication_class_length"`
	QuantityLimits         []quantity.Limit        `json:"quantity_limits"`
	CriteriaSets           []priorauth.CriteriaSet `json:"criteria_sets"`
}

// DURConfig projects the snapshot's DUR tables.
func (s *Snapshot) DURConfig() dur.Config {
	return dur.Config{
		Interactions:           s.Interactions,
		AgeRestrictions:        s.AgeRestrictions,
		GenderRestrictions:     s.GenderRestrictions,
		DuplicationClassLength: s.DuplicationClassLength,
	}
}

// CriteriaSetFor returns the first criteria set configured for the drug, or
// nil when prior authorization is not required.
func (s *Snapshot) CriteriaSetFor(drugCode, classCode string) *priorauth.CriteriaSet {
	matched := drug.Match(s.CriteriaSets, drugCode, classCode)
	if len(matched) == 0 {
		return nil
	}
	return &matched[0]
}

// Validate rejects a malformed snapshot before it can be used for
// evaluation. All problems are reported, not just the first.
func (s *Snapshot) Validate() error {
	var errs []error
	for _, ix := range s.Interactions {
		if err := ix.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range s.AgeRestrictions {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range s.GenderRestrictions {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range s.QuantityLimits {
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, cs := range s.CriteriaSets {
		if err := cs.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.DuplicationClassLength < 0 {
		errs = append(errs, fmt.Errorf("duplication class length %d is negative", s.DuplicationClassLength))
	}
	return errors.Join(errs...)
}

// DefaultSnapshot returns the embedded demonstration rule set. Hosts load
// production tables from their own source (file, database) instead.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		DuplicationClassLength: 6,
		Interactions: []dur.Interaction{
			{
				ClassA:         "8332",
				ClassB:         "6610",
				Severity:       dur.SeverityMajor,
				Description:    "anticoagulant with NSAID increases bleeding risk",
				Recommendation: "consider acetaminophen or add gastroprotection",
			},
			{
				ClassA:         "5810",
				ClassB:         "6510",
				Severity:       dur.SeverityModerate,
				Description:    "SSRI with opioid may increase serotonergic effects",
				Recommendation: "monitor for serotonin syndrome",
			},
		},
		AgeRestrictions: []dur.AgeRestriction{
			{Drug: drug.Identifier{ClassCode: "6410"}, MinAge: 18, Severity: dur.SeverityMajor,
				Message: "not indicated for patients under 18"},
		},
		GenderRestrictions: []dur.GenderRestriction{
			{Drug: drug.Identifier{ClassCode: "2510"}, AllowedGender: "F", Severity: dur.SeverityMajor,
				Message: "contraindicated in male patients"},
		},
		QuantityLimits: []quantity.Limit{
			{ID: "QL-PPI-FILL", Drug: drug.Identifier{ClassCode: "4927"}, Kind: quantity.KindPerFill,
				MaxQuantity: 30, MaxDaysSupply: 30, Description: "PPI per-fill cap"},
			{ID: "QL-TRIPTAN-MONTH", Drug: drug.Identifier{ClassCode: "6720"}, Kind: quantity.KindPerMonth,
				MaxQuantity: 9, Description: "triptan monthly cap"},
			{ID: "QL-OPIOID-DAYS", Drug: drug.Identifier{ClassCode: "6510"}, Kind: quantity.KindMaxDaysSupply,
				MaxDaysSupply: 7, Description: "initial opioid fill limited to 7 days"},
		},
		CriteriaSets: []priorauth.CriteriaSet{
			{
				ID:   "CS-GLP1",
				Drug: drug.Identifier{ClassCode: "2717"},
				Criteria: []priorauth.Criterion{
					{ID: "C-GLP1-DX", Type: priorauth.CriterionDiagnosis,
						Diagnosis: &priorauth.DiagnosisParams{Codes: []string{"E11"}}},
					{ID: "C-GLP1-TX", Type: priorauth.CriterionPreviousTherapy,
						Therapy: &priorauth.TherapyParams{Therapies: []string{"metformin"}}},
					{ID: "C-GLP1-A1C", Type: priorauth.CriterionLabResult,
						Lab: &priorauth.LabParams{Name: "HbA1c", MinValue: 7.0}},
				},
			},
		},
	}
}
