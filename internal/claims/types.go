// Package claims defines the claim, claim-history, and member clinical-context
// value types consumed by the adjudication engine. All types are plain immutable
// inputs supplied per call; the engine never retains references to them.
package claims

import (
	"strings"
	"time"
)

// Gender code constants (NCPDP)
const (
	GenderMale    = "M"
	GenderFemale  = "F"
	GenderUnknown = "U"
)

// Claim represents a single pharmacy claim submitted for adjudication.
type Claim struct {
	ID              string    `json:"id"`
	MemberID        string    `json:"member_id"`
	DrugCode        string    `json:"drug_code"`
	ClassCode       string    `json:"class_code,omitempty"`
	DrugName        string    `json:"drug_name,omitempty"`
	Quantity        float64   `json:"quantity"`
	DaysSupply      int       `json:"days_supply"`
	ServiceDate     time.Time `json:"service_date"`
	PrescriberNPI   string    `json:"prescriber_npi,omitempty"`
	PharmacyNCPDPID string    `json:"pharmacy_ncpdp_id,omitempty"`
}

// HistoryEntry is a previously dispensed fill for the same member.
type HistoryEntry struct {
	DrugCode    string    `json:"drug_code"`
	ClassCode   string    `json:"class_code,omitempty"`
	DrugName    string    `json:"drug_name,omitempty"`
	ServiceDate time.Time `json:"service_date"`
	Quantity    float64   `json:"quantity"`
	DaysSupply  int       `json:"days_supply"`
}

// ExhaustionDate returns the date the fill is expected to run out.
func (h HistoryEntry) ExhaustionDate() time.Time {
	return h.ServiceDate.AddDate(0, 0, h.DaysSupply)
}

// ActiveOn reports whether the fill is still expected to be on hand on the
// given date.
func (h HistoryEntry) ActiveOn(date time.Time) bool {
	return !h.ExhaustionDate().Before(date)
}

// Therapy is a prior drug therapy the member has tried.
type Therapy struct {
	Name     string `json:"name"`
	DrugCode string `json:"drug_code,omitempty"`
}

// LabResult is a lab value from the member's clinical record.
type LabResult struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Collected time.Time `json:"collected,omitempty"`
}

// Member is the clinical context for the member a claim belongs to.
// Age is in years; a negative Age means unknown.
type Member struct {
	ID                  string      `json:"id"`
	Age                 int         `json:"age"`
	Gender              string      `json:"gender"`
	DiagnosisCodes      []string    `json:"diagnosis_codes,omitempty"`
	PriorTherapies      []Therapy   `json:"prior_therapies,omitempty"`
	LabResults          []LabResult `json:"lab_results,omitempty"`
	PrescriberSpecialty string      `json:"prescriber_specialty,omitempty"`
}

// Lab returns the named lab result, matched case-insensitively.
func (m Member) Lab(name string) (LabResult, bool) {
	for _, lr := range m.LabResults {
		if strings.EqualFold(lr.Name, name) {
			return lr, true
		}
	}
	return LabResult{}, false
}
