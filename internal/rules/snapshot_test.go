package rules

import (
	"strings"
	"testing"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/quantity"
)

func TestDefaultSnapshotIsValid(t *testing.T) {
	if err := DefaultSnapshot().Validate(); err != nil {
		t.Fatalf("default snapshot must validate: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	s := &Snapshot{
		Interactions: []dur.Interaction{
			{ClassA: "8332", Severity: dur.SeverityMajor, Description: "half a pair"},
		},
		QuantityLimits: []quantity.Limit{
			{ID: "QL-BAD", Drug: drug.Identifier{ClassCode: "4927"}, Kind: quantity.KindPerFill},
		},
	}

	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	// Both the interaction and the limit problem must be reported.
	msg := err.Error()
	if !strings.Contains(msg, "class prefixes required") || !strings.Contains(msg, "QL-BAD") {
		t.Errorf("expected both problems reported, got: %v", err)
	}
}

func TestStoreRejectsInvalidSnapshot(t *testing.T) {
	st, err := NewStore(DefaultSnapshot(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := st.Current()

	bad := &Snapshot{QuantityLimits: []quantity.Limit{{ID: "QL-X", Kind: quantity.KindPerFill}}}
	if err := st.Swap(bad); err == nil {
		t.Fatal("expected swap rejection")
	}
	if st.Current() != before {
		t.Error("rejected snapshot must leave the active one untouched")
	}
}

func TestStoreSwapInstallsNewSnapshot(t *testing.T) {
	st, err := NewStore(DefaultSnapshot(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := DefaultSnapshot()
	next.QuantityLimits = nil
	if err := st.Swap(next); err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	if len(st.Current().QuantityLimits) != 0 {
		t.Error("expected the new snapshot to be active")
	}
}

func TestCriteriaSetFor(t *testing.T) {
	s := DefaultSnapshot()

	if cs := s.CriteriaSetFor("00169413013", "27170050100310"); cs == nil || cs.ID != "CS-GLP1" {
		t.Errorf("expected GLP-1 criteria set, got %+v", cs)
	}
	if cs := s.CriteriaSetFor("00573015540", "66100010100305"); cs != nil {
		t.Errorf("NSAID should not require prior auth, got %+v", cs)
	}
}
