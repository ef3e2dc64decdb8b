package dur

import (
	"errors"
	"testing"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
)

func nsaidClaim() claims.Claim {
	return claims.Claim{
		ID:          "CLM-1001",
		MemberID:    "MBR-1",
		DrugCode:    "00573015540",
		ClassCode:   "66100010100305",
		Quantity:    60,
		DaysSupply:  30,
		ServiceDate: serviceDate,
	}
}

func TestValidateMajorAlertFailsAndRequiresOverride(t *testing.T) {
	v := NewValidator(testConfig())
	member := claims.Member{ID: "MBR-1", Age: 66, Gender: claims.GenderFemale}
	history := []claims.HistoryEntry{warfarin(5, 30)}

	eval, err := v.Validate(nsaidClaim(), member, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Passed {
		t.Error("major interaction must fail validation")
	}
	if !eval.RequiresOverride {
		t.Error("major interaction must require override")
	}
	if len(eval.Alerts) == 0 {
		t.Fatal("expected alerts")
	}
}

func TestValidateCleanClaimPasses(t *testing.T) {
	v := NewValidator(testConfig())
	member := claims.Member{ID: "MBR-1", Age: 40, Gender: claims.GenderMale}

	eval, err := v.Validate(nsaidClaim(), member, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Passed || eval.RequiresOverride {
		t.Errorf("clean claim should pass, got %+v", eval)
	}
	if len(eval.Alerts) != 0 {
		t.Errorf("expected no alerts, got %v", eval.Alerts)
	}
}

func TestValidateIgnoresExhaustedMedications(t *testing.T) {
	v := NewValidator(testConfig())
	member := claims.Member{ID: "MBR-1", Age: 66, Gender: claims.GenderFemale}
	// Warfarin course ended well before the service date.
	history := []claims.HistoryEntry{warfarin(90, 30)}

	eval, err := v.Validate(nsaidClaim(), member, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Passed {
		t.Errorf("exhausted medication must not interact, got %+v", eval.Alerts)
	}
}

func TestValidateMissingGenderRejected(t *testing.T) {
	v := NewValidator(testConfig())
	c := claims.Claim{DrugCode: "50419042110", ClassCode: "25100010100305", ServiceDate: serviceDate, Quantity: 30}
	member := claims.Member{ID: "MBR-1", Age: 30}

	_, err := v.Validate(c, member, nil)
	if !errors.Is(err, ErrMissingGender) {
		t.Errorf("expected ErrMissingGender, got %v", err)
	}
}

func TestValidateOverrideCombinations(t *testing.T) {
	ok := Override{ProfessionalService: "M0", ResultOfService: "1G"}
	if err := ValidateOverride(ok); err != nil {
		t.Errorf("expected valid combination, got %v", err)
	}

	cases := []struct {
		name string
		o    Override
		want error
	}{
		{"unknown professional", Override{ProfessionalService: "ZZ", ResultOfService: "1A"}, ErrUnknownProfessionalService},
		{"unknown result", Override{ProfessionalService: "M0", ResultOfService: "9Z"}, ErrUnknownResultOfService},
		{"undeclared combination", Override{ProfessionalService: "MA", ResultOfService: "2A"}, ErrInvalidCombination},
	}
	for _, tc := range cases {
		if err := ValidateOverride(tc.o); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreateOverrideRecordsForAudit(t *testing.T) {
	m := NewOverrideManager(nil)
	alert := Alert{Type: AlertDrugDrug, Severity: SeverityMajor, ReasonCode: ReasonDrugDrug}

	o, err := m.CreateOverride(alert, "M0", "1G", "PHM-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID == "" {
		t.Error("expected generated override id")
	}
	if o.ReasonCode != ReasonDrugDrug {
		t.Errorf("override should carry the alert reason code, got %s", o.ReasonCode)
	}

	recorded := m.Overrides()
	if len(recorded) != 1 || recorded[0].ID != o.ID {
		t.Errorf("override not retained for audit: %v", recorded)
	}
}

func TestCreateOverrideRejectsInvalidCodes(t *testing.T) {
	m := NewOverrideManager(nil)
	alert := Alert{Type: AlertDrugDrug, ReasonCode: ReasonDrugDrug}

	if _, err := m.CreateOverride(alert, "ZZ", "1A", "PHM-42"); err == nil {
		t.Fatal("expected rejection")
	}
	if len(m.Overrides()) != 0 {
		t.Error("rejected override must not be recorded")
	}
}
