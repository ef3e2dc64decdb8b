package priorauth

import (
	"errors"
	"testing"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

func intp(v int) *int { return &v }

func diabetesSet() CriteriaSet {
	return CriteriaSet{
		ID:   "CS-GLP1",
		Drug: drug.Identifier{ClassCode: "2717"},
		Criteria: []Criterion{
			{ID: "C-DX", Type: CriterionDiagnosis, Diagnosis: &DiagnosisParams{Codes: []string{"E11"}}},
			{ID: "C-TX", Type: CriterionPreviousTherapy, Therapy: &TherapyParams{Therapies: []string{"metformin"}}},
			{ID: "C-A1C", Type: CriterionLabResult, Lab: &LabParams{Name: "HbA1c", MinValue: 7.0}},
		},
	}
}

func diabeticMember() claims.Member {
	return claims.Member{
		ID:             "MBR-7",
		Age:            54,
		Gender:         claims.GenderFemale,
		DiagnosisCodes: []string{"E11.9"},
		PriorTherapies: []claims.Therapy{{Name: "Metformin", DrugCode: "00093104810"}},
		LabResults:     []claims.LabResult{{Name: "HbA1c", Value: 8.5}},
	}
}

func TestAllCriteriaMet(t *testing.T) {
	res, err := EvaluateCriteria(diabetesSet(), diabeticMember())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Met {
		t.Errorf("expected met, unmet: %v", res.UnmetDescriptions)
	}
	if res.MetCount != 3 {
		t.Errorf("expected 3 met, got %d", res.MetCount)
	}
	if len(res.UnmetDescriptions) != 0 {
		t.Errorf("expected no unmet descriptions, got %v", res.UnmetDescriptions)
	}
}

func TestUnmetCriteriaCollected(t *testing.T) {
	member := diabeticMember()
	member.PriorTherapies = nil
	member.LabResults = []claims.LabResult{{Name: "HbA1c", Value: 6.2}}

	res, err := EvaluateCriteria(diabetesSet(), member)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Met {
		t.Error("expected unmet")
	}
	if res.MetCount != 1 {
		t.Errorf("expected 1 met, got %d", res.MetCount)
	}
	if len(res.UnmetDescriptions) != 2 {
		t.Errorf("expected 2 unmet descriptions, got %v", res.UnmetDescriptions)
	}
}

func TestDiagnosisPrefixMatch(t *testing.T) {
	set := CriteriaSet{ID: "CS-1", Drug: drug.Identifier{ClassCode: "27"}, Criteria: []Criterion{
		{ID: "C-1", Type: CriterionDiagnosis, Diagnosis: &DiagnosisParams{Codes: []string{"E11", "E10"}}},
	}}

	member := claims.Member{Age: 40, DiagnosisCodes: []string{"E10.21"}}
	res, err := EvaluateCriteria(set, member)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Met {
		t.Error("E10.21 should match prefix E10")
	}

	member.DiagnosisCodes = []string{"J45.0"}
	res, _ = EvaluateCriteria(set, member)
	if res.Met {
		t.Error("J45.0 should not match")
	}
}

func TestAgeCriterionBounds(t *testing.T) {
	set := CriteriaSet{ID: "CS-1", Drug: drug.Identifier{ClassCode: "27"}, Criteria: []Criterion{
		{ID: "C-1", Type: CriterionAge, Age: &AgeParams{MinAge: intp(18), MaxAge: intp(65)}},
	}}

	for _, tc := range []struct {
		age  int
		want bool
	}{{17, false}, {18, true}, {65, true}, {66, false}} {
		res, err := EvaluateCriteria(set, claims.Member{Age: tc.age})
		if err != nil {
			t.Fatalf("age %d: unexpected error: %v", tc.age, err)
		}
		if res.Met != tc.want {
			t.Errorf("age %d: expected met=%v", tc.age, tc.want)
		}
	}
}

func TestAgeCriterionUnknownAgeRejected(t *testing.T) {
	set := CriteriaSet{ID: "CS-1", Drug: drug.Identifier{ClassCode: "27"}, Criteria: []Criterion{
		{ID: "C-1", Type: CriterionAge, Age: &AgeParams{MinAge: intp(18)}},
	}}
	if _, err := EvaluateCriteria(set, claims.Member{Age: -1}); err == nil {
		t.Error("unknown age should be an input error, not a silent unmet")
	}
}

func TestSpecialistCriterion(t *testing.T) {
	set := CriteriaSet{ID: "CS-1", Drug: drug.Identifier{ClassCode: "27"}, Criteria: []Criterion{
		{ID: "C-1", Type: CriterionSpecialist, Specialist: &SpecialistParams{Specialties: []string{"Endocrinology", "Internal Medicine"}}},
	}}

	res, _ := EvaluateCriteria(set, claims.Member{Age: 40, PrescriberSpecialty: "endocrinology"})
	if !res.Met {
		t.Error("specialty match should be case-insensitive")
	}
	res, _ = EvaluateCriteria(set, claims.Member{Age: 40, PrescriberSpecialty: "Dermatology"})
	if res.Met {
		t.Error("unlisted specialty should be unmet")
	}
}

func TestLabCriterionMissingLabIsUnmet(t *testing.T) {
	set := CriteriaSet{ID: "CS-1", Drug: drug.Identifier{ClassCode: "27"}, Criteria: []Criterion{
		{ID: "C-1", Type: CriterionLabResult, Lab: &LabParams{Name: "HbA1c", MinValue: 7.0}},
	}}

	res, err := EvaluateCriteria(set, claims.Member{Age: 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Met {
		t.Error("absent lab value should be unmet")
	}
	if len(res.UnmetDescriptions) != 1 {
		t.Errorf("expected 1 unmet description, got %v", res.UnmetDescriptions)
	}
}

func TestEmptyCriteriaSetVacuouslyMet(t *testing.T) {
	set := CriteriaSet{ID: "CS-EMPTY", Drug: drug.Identifier{ClassCode: "27"}}
	res, err := EvaluateCriteria(set, claims.Member{Age: 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Met || res.MetCount != 0 {
		t.Errorf("empty set should be vacuously met, got %+v", res)
	}
}

func TestMalformedCriterionRejected(t *testing.T) {
	cases := []Criterion{
		{ID: "C-NONE", Type: CriterionDiagnosis},
		{ID: "C-TWO", Type: CriterionDiagnosis,
			Diagnosis: &DiagnosisParams{Codes: []string{"E11"}},
			Age:       &AgeParams{MinAge: intp(18)}},
		{ID: "C-MISMATCH", Type: CriterionAge, Diagnosis: &DiagnosisParams{Codes: []string{"E11"}}},
		{ID: "C-BADTYPE", Type: "genetic", Diagnosis: &DiagnosisParams{Codes: []string{"E11"}}},
	}
	for _, c := range cases {
		if err := c.Validate(); !errors.Is(err, ErrMalformedCriterion) {
			t.Errorf("%s: expected ErrMalformedCriterion, got %v", c.ID, err)
		}
	}
}
