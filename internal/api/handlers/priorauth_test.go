package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
)

// memStore is an in-memory DeterminationStore for handler tests.
type memStore struct {
	saved []*priorauth.Response
}

func (s *memStore) SaveDetermination(ctx context.Context, resp *priorauth.Response) error {
	s.saved = append(s.saved, resp)
	return nil
}

func (s *memStore) ActiveAuthorization(ctx context.Context, memberID string, d drug.Identifier, asOf time.Time) (*priorauth.Response, error) {
	for i := len(s.saved) - 1; i >= 0; i-- {
		r := s.saved[i]
		if r.MemberID != memberID || r.Drug != d {
			continue
		}
		if r.Status != priorauth.StatusApproved && r.Status != priorauth.StatusPartial {
			continue
		}
		if asOf.Before(r.EffectiveDate) || asOf.After(r.ExpirationDate) {
			continue
		}
		return r, nil
	}
	return nil, nil
}

func (s *memStore) DeterminationStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, r := range s.saved {
		stats[string(r.Status)]++
	}
	return stats, nil
}

func TestActiveAuthorizationFallsBackToStore(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{saved: []*priorauth.Response{{
		RequestID:           "PA-REQ-1",
		MemberID:            "MBR-9",
		Drug:                drug.Identifier{DrugCode: "00169413013"},
		Status:              priorauth.StatusApproved,
		AuthorizationNumber: "PA-AUTH-1",
		EffectiveDate:       now.AddDate(0, 0, -30),
		ExpirationDate:      now.AddDate(0, 0, 335),
	}}}

	// A fresh workflow has no in-memory view of the grant; only the
	// durable record knows it.
	h := NewPriorAuthHandler(priorauth.NewWorkflow(priorauth.DefaultWorkflowConfig(), nil), store, nil, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/authorizations/active?member_id=MBR-9&drug_code=00169413013")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var auth priorauth.Response
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if auth.AuthorizationNumber != "PA-AUTH-1" {
		t.Errorf("AuthorizationNumber = %s, want PA-AUTH-1", auth.AuthorizationNumber)
	}
}

func TestActiveAuthorizationNotFoundWithoutGrant(t *testing.T) {
	h := NewPriorAuthHandler(priorauth.NewWorkflow(priorauth.DefaultWorkflowConfig(), nil), &memStore{}, nil, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/authorizations/active?member_id=MBR-9&drug_code=00169413013")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeterminationStats(t *testing.T) {
	store := &memStore{saved: []*priorauth.Response{
		{Status: priorauth.StatusApproved},
		{Status: priorauth.StatusApproved},
		{Status: priorauth.StatusDenied},
	}}
	h := NewPriorAuthHandler(priorauth.NewWorkflow(priorauth.DefaultWorkflowConfig(), nil), store, nil, nil, nil)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats[string(priorauth.StatusApproved)] != 2 || stats[string(priorauth.StatusDenied)] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}
