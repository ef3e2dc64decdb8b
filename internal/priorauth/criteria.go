// Package priorauth implements the prior authorization workflow: clinical
// criteria evaluation, auto-approval shortcuts, and the request/response
// state machine.
package priorauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// CriterionType discriminates the tagged criterion variants.
type CriterionType string

const (
	CriterionDiagnosis       CriterionType = "diagnosis"
	CriterionPreviousTherapy CriterionType = "previous_therapy"
	CriterionAge             CriterionType = "age"
	CriterionSpecialist      CriterionType = "specialist"
	CriterionLabResult       CriterionType = "lab_result"
)

// ErrMalformedCriterion marks a criterion whose type tag and populated
// parameter group disagree. It is a configuration error, caught at load
// time and again defensively at evaluation time.
var ErrMalformedCriterion = errors.New("malformed clinical criterion")

// DiagnosisParams requires any member diagnosis to start with one of the
// listed ICD-style codes.
type DiagnosisParams struct {
	Codes []string `json:"codes"`
}

// TherapyParams requires the member to have tried one of the listed
// therapies, matched case-insensitively by name or product code.
type TherapyParams struct {
	Therapies []string `json:"therapies"`
}

// AgeParams bounds the member's age. Either bound may be nil.
type AgeParams struct {
	MinAge *int `json:"min_age,omitempty"`
	MaxAge *int `json:"max_age,omitempty"`
}

// SpecialistParams requires the prescriber's specialty to be listed.
type SpecialistParams struct {
	Specialties []string `json:"specialties"`
}

// LabParams requires a named lab value at or above MinValue, and at or
// below MaxValue when set.
type LabParams struct {
	Name     string   `json:"name"`
	MinValue float64  `json:"min_value"`
	MaxValue *float64 `json:"max_value,omitempty"`
}

// Criterion is one clinical requirement in a criteria set. Exactly one
// parameter group, matching Type, is populated.
type Criterion struct {
	ID         string            `json:"id"`
	Type       CriterionType     `json:"type"`
	Diagnosis  *DiagnosisParams  `json:"diagnosis,omitempty"`
	Therapy    *TherapyParams    `json:"therapy,omitempty"`
	Age        *AgeParams        `json:"age,omitempty"`
	Specialist *SpecialistParams `json:"specialist,omitempty"`
	Lab        *LabParams        `json:"lab,omitempty"`
}

// Validate checks that the type tag matches exactly one populated group.
func (c Criterion) Validate() error {
	groups := 0
	if c.Diagnosis != nil {
		groups++
	}
	if c.Therapy != nil {
		groups++
	}
	if c.Age != nil {
		groups++
	}
	if c.Specialist != nil {
		groups++
	}
	if c.Lab != nil {
		groups++
	}
	if groups != 1 {
		return fmt.Errorf("%w: criterion %s has %d parameter groups", ErrMalformedCriterion, c.ID, groups)
	}

	var ok bool
	switch c.Type {
	case CriterionDiagnosis:
		ok = c.Diagnosis != nil && len(c.Diagnosis.Codes) > 0
	case CriterionPreviousTherapy:
		ok = c.Therapy != nil && len(c.Therapy.Therapies) > 0
	case CriterionAge:
		ok = c.Age != nil && (c.Age.MinAge != nil || c.Age.MaxAge != nil)
	case CriterionSpecialist:
		ok = c.Specialist != nil && len(c.Specialist.Specialties) > 0
	case CriterionLabResult:
		ok = c.Lab != nil && c.Lab.Name != ""
	default:
		return fmt.Errorf("%w: criterion %s has unknown type %q", ErrMalformedCriterion, c.ID, c.Type)
	}
	if !ok {
		return fmt.Errorf("%w: criterion %s type %s does not match its parameters", ErrMalformedCriterion, c.ID, c.Type)
	}
	return nil
}

// Description renders the criterion for denial messaging.
func (c Criterion) Description() string {
	switch c.Type {
	case CriterionDiagnosis:
		return fmt.Sprintf("diagnosis in %s", strings.Join(c.Diagnosis.Codes, ", "))
	case CriterionPreviousTherapy:
		return fmt.Sprintf("previous therapy with %s", strings.Join(c.Therapy.Therapies, " or "))
	case CriterionAge:
		switch {
		case c.Age.MinAge != nil && c.Age.MaxAge != nil:
			return fmt.Sprintf("age between %d and %d", *c.Age.MinAge, *c.Age.MaxAge)
		case c.Age.MinAge != nil:
			return fmt.Sprintf("age %d or older", *c.Age.MinAge)
		default:
			return fmt.Sprintf("age %d or younger", *c.Age.MaxAge)
		}
	case CriterionSpecialist:
		return fmt.Sprintf("prescribed by %s", strings.Join(c.Specialist.Specialties, " or "))
	case CriterionLabResult:
		if c.Lab.MaxValue != nil {
			return fmt.Sprintf("%s between %v and %v", c.Lab.Name, c.Lab.MinValue, *c.Lab.MaxValue)
		}
		return fmt.Sprintf("%s of %v or higher", c.Lab.Name, c.Lab.MinValue)
	}
	return string(c.Type)
}

// met dispatches on the criterion type with exhaustive matching.
func (c Criterion) met(member claims.Member) (bool, error) {
	switch c.Type {
	case CriterionDiagnosis:
		for _, dx := range member.DiagnosisCodes {
			for _, code := range c.Diagnosis.Codes {
				if strings.HasPrefix(dx, code) {
					return true, nil
				}
			}
		}
		return false, nil

	case CriterionPreviousTherapy:
		for _, prior := range member.PriorTherapies {
			for _, required := range c.Therapy.Therapies {
				if strings.EqualFold(prior.Name, required) || strings.EqualFold(prior.DrugCode, required) {
					return true, nil
				}
			}
		}
		return false, nil

	case CriterionAge:
		if member.Age < 0 {
			return false, fmt.Errorf("criterion %s: member age is unknown", c.ID)
		}
		if c.Age.MinAge != nil && member.Age < *c.Age.MinAge {
			return false, nil
		}
		if c.Age.MaxAge != nil && member.Age > *c.Age.MaxAge {
			return false, nil
		}
		return true, nil

	case CriterionSpecialist:
		for _, sp := range c.Specialist.Specialties {
			if strings.EqualFold(member.PrescriberSpecialty, sp) {
				return true, nil
			}
		}
		return false, nil

	case CriterionLabResult:
		lab, found := member.Lab(c.Lab.Name)
		if !found {
			return false, nil
		}
		if lab.Value < c.Lab.MinValue {
			return false, nil
		}
		if c.Lab.MaxValue != nil && lab.Value > *c.Lab.MaxValue {
			return false, nil
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown type %q", ErrMalformedCriterion, c.Type)
}

// CriteriaSet names the criteria a drug's prior authorization requires.
// Every criterion must be met (logical AND).
type CriteriaSet struct {
	ID       string          `json:"id"`
	Drug     drug.Identifier `json:"drug"`
	Criteria []Criterion     `json:"criteria"`
}

// DrugIdentifier implements drug.Rule.
func (s CriteriaSet) DrugIdentifier() drug.Identifier { return s.Drug }

// Validate checks the set's configuration.
func (s CriteriaSet) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("criteria set has no id")
	}
	if s.Drug.IsZero() {
		return fmt.Errorf("criteria set %s: no drug identifier", s.ID)
	}
	for _, c := range s.Criteria {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("criteria set %s: %w", s.ID, err)
		}
	}
	return nil
}

// CriteriaResult is the outcome of evaluating a criteria set.
type CriteriaResult struct {
	Met               bool     `json:"met"`
	MetCount          int      `json:"met_count"`
	UnmetDescriptions []string `json:"unmet_descriptions"`
}

// EvaluateCriteria evaluates every criterion in the set against the member's
// clinical context. Unmet criteria are collected with readable descriptions
// for denial messaging; a set with no criteria is vacuously met.
func EvaluateCriteria(set CriteriaSet, member claims.Member) (CriteriaResult, error) {
	result := CriteriaResult{Met: true, UnmetDescriptions: []string{}}
	for _, criterion := range set.Criteria {
		if err := criterion.Validate(); err != nil {
			return CriteriaResult{}, err
		}
		ok, err := criterion.met(member)
		if err != nil {
			return CriteriaResult{}, err
		}
		if ok {
			result.MetCount++
			continue
		}
		result.Met = false
		result.UnmetDescriptions = append(result.UnmetDescriptions, criterion.Description())
	}
	return result, nil
}
