package quantity

import (
	"time"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
)

// Accumulate sums the dispensed quantity of the given exact drug code over
// the trailing window [asOf - periodDays, asOf]. The lower bound is
// inclusive. Entries for other drugs or outside the window are excluded; an
// empty history sums to zero.
func Accumulate(history []claims.HistoryEntry, drugCode string, periodDays int, asOf time.Time) float64 {
	if periodDays <= 0 {
		return 0
	}
	start := asOf.AddDate(0, 0, -periodDays)

	var total float64
	for _, entry := range history {
		if entry.DrugCode != drugCode {
			continue
		}
		if entry.ServiceDate.Before(start) || entry.ServiceDate.After(asOf) {
			continue
		}
		total += entry.Quantity
	}
	return total
}
