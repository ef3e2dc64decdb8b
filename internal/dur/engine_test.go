package dur

import (
	"testing"
	"time"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

var serviceDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Interactions: []Interaction{
			{
				ClassA:         "8332",
				ClassB:         "6610",
				Severity:       SeverityMajor,
				Description:    "anticoagulant with NSAID increases bleeding risk",
				Recommendation: "consider alternative analgesic",
			},
		},
		AgeRestrictions: []AgeRestriction{
			{Drug: drug.Identifier{ClassCode: "6410"}, MinAge: 18, Severity: SeverityMajor},
		},
		GenderRestrictions: []GenderRestriction{
			{Drug: drug.Identifier{ClassCode: "2510"}, AllowedGender: claims.GenderFemale, Severity: SeverityMajor},
		},
		DuplicationClassLength: 6,
	}
}

func warfarin(daysAgo, daysSupply int) claims.HistoryEntry {
	return claims.HistoryEntry{
		DrugCode:    "00056017275",
		ClassCode:   "83320010100310",
		ServiceDate: serviceDate.AddDate(0, 0, -daysAgo),
		Quantity:    30,
		DaysSupply:  daysSupply,
	}
}

func TestDrugDrugInteraction(t *testing.T) {
	e := NewEngine(testConfig())
	current := []claims.HistoryEntry{warfarin(5, 30)}

	alerts := e.CheckDrugInteractions("00573015540", "66100010100305", current)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Type != AlertDrugDrug {
		t.Errorf("unexpected type %s", a.Type)
	}
	if a.Severity != SeverityMajor {
		t.Errorf("expected major severity, got %d", a.Severity)
	}
	if a.InteractingDrugCode != "00056017275" {
		t.Errorf("unexpected interacting drug %s", a.InteractingDrugCode)
	}
	if a.ReasonCode != ReasonDrugDrug {
		t.Errorf("unexpected reason code %s", a.ReasonCode)
	}
}

func TestDrugDrugInteractionSymmetric(t *testing.T) {
	e := NewEngine(testConfig())
	// New drug is the anticoagulant; the NSAID is the current med.
	nsaid := claims.HistoryEntry{DrugCode: "00573015540", ClassCode: "66100010100305",
		ServiceDate: serviceDate.AddDate(0, 0, -5), DaysSupply: 30}

	alerts := e.CheckDrugInteractions("00056017275", "83320010100310", []claims.HistoryEntry{nsaid})
	if len(alerts) != 1 {
		t.Fatalf("expected symmetric match, got %d alerts", len(alerts))
	}
}

func TestNoInteractionForUnrelatedClasses(t *testing.T) {
	e := NewEngine(testConfig())
	current := []claims.HistoryEntry{warfarin(5, 30)}

	if alerts := e.CheckDrugInteractions("00186504031", "49270010100320", current); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %v", alerts)
	}
}

func TestTherapeuticDuplication(t *testing.T) {
	e := NewEngine(testConfig())
	current := []claims.HistoryEntry{
		{DrugCode: "00186504031", ClassCode: "49270010100320", ServiceDate: serviceDate.AddDate(0, 0, -10), DaysSupply: 30},
	}

	// Different exact drug, same class at length 6.
	alerts := e.CheckTherapeuticDuplication("00029141530", "49270020200410", current)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 duplication alert, got %d", len(alerts))
	}
	if alerts[0].ReasonCode != ReasonDuplication {
		t.Errorf("unexpected reason code %s", alerts[0].ReasonCode)
	}

	// Same exact drug is a refill, not a duplication.
	if alerts := e.CheckTherapeuticDuplication("00186504031", "49270010100320", current); len(alerts) != 0 {
		t.Errorf("same exact drug must not flag duplication, got %v", alerts)
	}
}

func TestEarlyRefill(t *testing.T) {
	e := NewEngine(testConfig())
	// 30-day fill 10 days ago: 20 days of supply remain.
	history := []claims.HistoryEntry{warfarin(10, 30)}

	alerts := e.CheckEarlyRefill("00056017275", serviceDate, history)
	if len(alerts) != 1 {
		t.Fatalf("expected early refill alert, got %d", len(alerts))
	}
	if alerts[0].DaysEarly != 20 {
		t.Errorf("expected 20 days early, got %d", alerts[0].DaysEarly)
	}
	if alerts[0].DaysEarly <= 0 {
		t.Error("days early must be positive when the alert fires")
	}
}

func TestEarlyRefillPartialDayRoundsUp(t *testing.T) {
	e := NewEngine(testConfig())
	// 10-day fill dispensed at noon ten days ago exhausts at noon on the
	// service date: twelve hours of supply remain.
	history := []claims.HistoryEntry{{
		DrugCode:    "00056017275",
		ClassCode:   "83320010100310",
		ServiceDate: serviceDate.AddDate(0, 0, -10).Add(12 * time.Hour),
		Quantity:    10,
		DaysSupply:  10,
	}}

	alerts := e.CheckEarlyRefill("00056017275", serviceDate, history)
	if len(alerts) != 1 {
		t.Fatalf("expected early refill alert, got %d", len(alerts))
	}
	if alerts[0].DaysEarly != 1 {
		t.Errorf("expected 1 day early for a partial-day gap, got %d", alerts[0].DaysEarly)
	}
}

func TestEarlyRefillUsesMostRecentFill(t *testing.T) {
	e := NewEngine(testConfig())
	history := []claims.HistoryEntry{
		warfarin(40, 30), // exhausted
		warfarin(10, 30), // most recent, 20 days remain
	}

	alerts := e.CheckEarlyRefill("00056017275", serviceDate, history)
	if len(alerts) != 1 || alerts[0].DaysEarly != 20 {
		t.Fatalf("expected most recent fill to govern, got %+v", alerts)
	}
}

func TestNoEarlyRefillWhenExhausted(t *testing.T) {
	e := NewEngine(testConfig())
	history := []claims.HistoryEntry{warfarin(30, 30)}

	if alerts := e.CheckEarlyRefill("00056017275", serviceDate, history); len(alerts) != 0 {
		t.Errorf("fill exhausted exactly on service date must not alert, got %v", alerts)
	}
}

func TestNoEarlyRefillWithoutPriorFill(t *testing.T) {
	e := NewEngine(testConfig())
	if alerts := e.CheckEarlyRefill("00056017275", serviceDate, nil); len(alerts) != 0 {
		t.Errorf("no prior fill must not alert, got %v", alerts)
	}
}

func TestAgeRestriction(t *testing.T) {
	e := NewEngine(testConfig())

	if alerts := e.CheckAgeRestriction("00093720198", "64100020100315", 12); len(alerts) != 1 {
		t.Fatalf("expected age alert for minor, got %d", len(alerts))
	}
	if alerts := e.CheckAgeRestriction("00093720198", "64100020100315", 40); len(alerts) != 0 {
		t.Errorf("adult within range must not alert, got %v", alerts)
	}
	// No restriction configured for this class: no rule applies.
	if alerts := e.CheckAgeRestriction("00186504031", "49270010100320", 12); len(alerts) != 0 {
		t.Errorf("unrestricted drug must not alert, got %v", alerts)
	}
}

func TestGenderRestriction(t *testing.T) {
	e := NewEngine(testConfig())

	alerts := e.CheckGenderRestriction("50419042110", "25100010100305", claims.GenderMale)
	if len(alerts) != 1 {
		t.Fatalf("expected gender alert, got %d", len(alerts))
	}
	if alerts[0].ReasonCode != ReasonDrugGender {
		t.Errorf("unexpected reason code %s", alerts[0].ReasonCode)
	}
	if alerts := e.CheckGenderRestriction("50419042110", "25100010100305", claims.GenderFemale); len(alerts) != 0 {
		t.Errorf("allowed gender must not alert, got %v", alerts)
	}
}
