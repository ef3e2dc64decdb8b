package dur

import (
	"fmt"
	"strings"
	"time"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// Config holds the static DUR rule tables. The tables are loaded once and
// never mutated during evaluation.
type Config struct {
	Interactions           []Interaction
	AgeRestrictions        []AgeRestriction
	GenderRestrictions     []GenderRestriction
	DuplicationClassLength int
	DuplicationSeverity    int
	EarlyRefillSeverity    int
}

// Engine runs the five independent DUR checks. Every check is pure: no
// shared state is mutated, so concurrent evaluation of different claims
// needs no locking.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine over the configured rule tables.
func NewEngine(cfg Config) *Engine {
	if cfg.DuplicationClassLength <= 0 {
		cfg.DuplicationClassLength = 6
	}
	if cfg.DuplicationSeverity <= 0 {
		cfg.DuplicationSeverity = SeverityModerate
	}
	if cfg.EarlyRefillSeverity <= 0 {
		cfg.EarlyRefillSeverity = SeverityModerate
	}
	return &Engine{cfg: cfg}
}

// CheckDrugInteractions compares the new drug's class code against every
// current medication's class code and emits one alert per configured
// interaction pair that matches.
func (e *Engine) CheckDrugInteractions(drugCode, classCode string, currentMeds []claims.HistoryEntry) []Alert {
	var alerts []Alert
	for _, med := range currentMeds {
		for _, ix := range e.cfg.Interactions {
			if !pairMatches(ix, classCode, med.ClassCode) {
				continue
			}
			alerts = append(alerts, Alert{
				Type:                AlertDrugDrug,
				Severity:            ix.Severity,
				DrugCode:            drugCode,
				InteractingDrugCode: med.DrugCode,
				Message:             fmt.Sprintf("%s: %s interacts with %s", ix.Description, drugCode, med.DrugCode),
				Recommendation:      ix.Recommendation,
				ReasonCode:          ReasonDrugDrug,
			})
		}
	}
	return alerts
}

func pairMatches(ix Interaction, newClass, medClass string) bool {
	if newClass == "" || medClass == "" {
		return false
	}
	return (strings.HasPrefix(newClass, ix.ClassA) && strings.HasPrefix(medClass, ix.ClassB)) ||
		(strings.HasPrefix(newClass, ix.ClassB) && strings.HasPrefix(medClass, ix.ClassA))
}

// CheckTherapeuticDuplication flags a current medication in the same drug
// class (at the configured prefix granularity) under a different exact code.
func (e *Engine) CheckTherapeuticDuplication(drugCode, classCode string, currentMeds []claims.HistoryEntry) []Alert {
	var alerts []Alert
	for _, med := range currentMeds {
		if med.DrugCode == drugCode {
			continue
		}
		if !drug.SharesClassPrefix(classCode, med.ClassCode, e.cfg.DuplicationClassLength) {
			continue
		}
		alerts = append(alerts, Alert{
			Type:                AlertTherapeuticDuplication,
			Severity:            e.cfg.DuplicationSeverity,
			DrugCode:            drugCode,
			InteractingDrugCode: med.DrugCode,
			Message: fmt.Sprintf("therapeutic duplication: %s and %s share drug class %s",
				drugCode, med.DrugCode, classCode[:e.cfg.DuplicationClassLength]),
			Recommendation: "verify concurrent therapy is intentional",
			ReasonCode:     ReasonDuplication,
		})
	}
	return alerts
}

// CheckEarlyRefill compares the new fill date against the expected
// exhaustion of the most recent previous fill of the same exact drug.
// No prior fill means no alert.
func (e *Engine) CheckEarlyRefill(drugCode string, serviceDate time.Time, history []claims.HistoryEntry) []Alert {
	var last *claims.HistoryEntry
	for i := range history {
		entry := &history[i]
		if entry.DrugCode != drugCode {
			continue
		}
		if entry.ServiceDate.After(serviceDate) {
			continue
		}
		if last == nil || entry.ServiceDate.After(last.ServiceDate) {
			last = entry
		}
	}
	if last == nil {
		return nil
	}

	exhaustion := last.ExhaustionDate()
	if !serviceDate.Before(exhaustion) {
		return nil
	}
	// Round partial days up: any fill before exhaustion is at least one
	// day early, even when the prior fill carries an intraday timestamp.
	gap := exhaustion.Sub(serviceDate)
	daysEarly := int((gap + 24*time.Hour - 1) / (24 * time.Hour))

	return []Alert{{
		Type:     AlertEarlyRefill,
		Severity: e.cfg.EarlyRefillSeverity,
		DrugCode: drugCode,
		Message: fmt.Sprintf("refill %d days early: previous %d-day fill on %s lasts until %s",
			daysEarly, last.DaysSupply, last.ServiceDate.Format("2006-01-02"), exhaustion.Format("2006-01-02")),
		Recommendation: "confirm remaining supply with the member",
		ReasonCode:     ReasonEarlyRefill,
		DaysEarly:      daysEarly,
	}}
}

// CheckAgeRestriction flags the claim when a configured age restriction for
// the drug excludes the patient's age. A drug with no configured restriction
// passes: absence of a rule means no rule applies.
func (e *Engine) CheckAgeRestriction(drugCode, classCode string, age int) []Alert {
	var alerts []Alert
	for _, r := range drug.Match(e.cfg.AgeRestrictions, drugCode, classCode) {
		if (r.MinAge == 0 || age >= r.MinAge) && (r.MaxAge == 0 || age <= r.MaxAge) {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("patient age %d outside allowed range for %s", age, drugCode)
		}
		alerts = append(alerts, Alert{
			Type:       AlertAgeRestriction,
			Severity:   severityOr(r.Severity, SeverityMajor),
			DrugCode:   drugCode,
			Message:    msg,
			ReasonCode: ReasonDrugAge,
		})
	}
	return alerts
}

// CheckGenderRestriction flags the claim when a configured gender
// restriction for the drug excludes the patient's gender.
func (e *Engine) CheckGenderRestriction(drugCode, classCode, gender string) []Alert {
	var alerts []Alert
	for _, r := range drug.Match(e.cfg.GenderRestrictions, drugCode, classCode) {
		if strings.EqualFold(r.AllowedGender, gender) {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("%s is restricted to gender %s", drugCode, r.AllowedGender)
		}
		alerts = append(alerts, Alert{
			Type:       AlertGenderRestriction,
			Severity:   severityOr(r.Severity, SeverityMajor),
			DrugCode:   drugCode,
			Message:    msg,
			ReasonCode: ReasonDrugGender,
		})
	}
	return alerts
}

func severityOr(s, fallback int) int {
	if s >= SeverityMajor && s <= SeverityMinor {
		return s
	}
	return fallback
}
