package adjudication

import (
	"context"
	"testing"
	"time"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
	"github.com/drfirst/go-rxadjudicator/pkg/workerpool"
)

var serviceDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := rules.NewStore(rules.DefaultSnapshot(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewService(store, nil, nil)
}

func member() claims.Member {
	return claims.Member{ID: "MBR-1", Age: 66, Gender: claims.GenderFemale}
}

func TestCleanClaimProceeds(t *testing.T) {
	svc := newTestService(t)
	claim := claims.Claim{
		ID: "CLM-1", MemberID: "MBR-1",
		DrugCode: "00093505698", ClassCode: "39400010100310",
		Quantity: 30, DaysSupply: 30, ServiceDate: serviceDate,
	}

	d, err := svc.Adjudicate(context.Background(), claim, member(), nil)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}
	if d.Outcome != OutcomeProceed || !d.Passed {
		t.Errorf("expected clean proceed, got %+v", d)
	}
	if d.Quantity.AllowedQuantity != 30 {
		t.Errorf("expected untouched quantity, got %v", d.Quantity.AllowedQuantity)
	}
}

func TestInteractionRequiresOverride(t *testing.T) {
	svc := newTestService(t)
	claim := claims.Claim{
		ID: "CLM-2", MemberID: "MBR-1",
		DrugCode: "00573015540", ClassCode: "66100010100305",
		Quantity: 60, DaysSupply: 30, ServiceDate: serviceDate,
	}
	history := []claims.HistoryEntry{{
		DrugCode: "00056017275", ClassCode: "83320010100310",
		ServiceDate: serviceDate.AddDate(0, 0, -5), Quantity: 30, DaysSupply: 30,
	}}

	d, err := svc.Adjudicate(context.Background(), claim, member(), history)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}
	if d.Outcome != OutcomeOverrideRequired {
		t.Errorf("expected override required, got %s", d.Outcome)
	}
	if d.Passed {
		t.Error("major alert must fail the decision")
	}
	if len(d.DUR.Alerts) == 0 {
		t.Error("expected the fired alert in the decision")
	}
}

func TestQuantityClippedButStillMergedWithDUR(t *testing.T) {
	svc := newTestService(t)
	// PPI over the per-fill cap; no DUR alerts.
	claim := claims.Claim{
		ID: "CLM-3", MemberID: "MBR-1",
		DrugCode: "00186504031", ClassCode: "49270010100320",
		Quantity: 90, DaysSupply: 90, ServiceDate: serviceDate,
	}

	d, err := svc.Adjudicate(context.Background(), claim, member(), nil)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}
	if d.Passed {
		t.Error("failed quantity limit must fail the decision")
	}
	if d.Quantity.AllowedQuantity != 30 {
		t.Errorf("expected clipped quantity 30, got %v", d.Quantity.AllowedQuantity)
	}
	// The claim can still proceed at the allowed quantity.
	if d.Outcome != OutcomeProceed {
		t.Errorf("quantity clipping alone should not gate the claim, got %s", d.Outcome)
	}
}

func TestPriorAuthRequiredOutcome(t *testing.T) {
	svc := newTestService(t)
	claim := claims.Claim{
		ID: "CLM-4", MemberID: "MBR-1",
		DrugCode: "00169413013", ClassCode: "27170050100310",
		Quantity: 4, DaysSupply: 28, ServiceDate: serviceDate,
	}

	d, err := svc.Adjudicate(context.Background(), claim, member(), nil)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}
	if d.Outcome != OutcomePriorAuthRequired || !d.PriorAuthRequired {
		t.Errorf("expected prior auth required, got %+v", d)
	}
	if d.CriteriaSetID != "CS-GLP1" {
		t.Errorf("expected criteria set id, got %q", d.CriteriaSetID)
	}
}

func TestNegativeQuantityIsInputError(t *testing.T) {
	svc := newTestService(t)
	claim := claims.Claim{ID: "CLM-5", DrugCode: "00093505698", Quantity: -1, ServiceDate: serviceDate}

	if _, err := svc.Adjudicate(context.Background(), claim, member(), nil); err == nil {
		t.Error("expected input error for negative quantity")
	}
}

func TestBatchDropsDuplicates(t *testing.T) {
	svc := newTestService(t)
	batch, err := NewBatch(svc, workerpool.Config{Workers: 2, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	batch.Start()

	req := Request{
		Claim: claims.Claim{
			ID: "CLM-10", MemberID: "MBR-1",
			DrugCode: "00093505698", ClassCode: "39400010100310",
			Quantity: 30, DaysSupply: 30, ServiceDate: serviceDate,
		},
		Member: member(),
	}

	accepted, err := batch.Submit(req)
	if err != nil || !accepted {
		t.Fatalf("first submit should be accepted, got %v/%v", accepted, err)
	}
	accepted, err = batch.Submit(req)
	if err != nil {
		t.Fatalf("duplicate submit errored: %v", err)
	}
	if accepted {
		t.Error("duplicate submission must be dropped")
	}

	batch.Stop()

	var decisions int
	for res := range batch.Results() {
		if res.Err != nil {
			t.Errorf("unexpected error: %v", res.Err)
		}
		if _, ok := res.Value.(*Decision); !ok {
			t.Errorf("expected *Decision, got %T", res.Value)
		}
		decisions++
	}
	if decisions != 1 {
		t.Errorf("expected 1 decision, got %d", decisions)
	}
}
