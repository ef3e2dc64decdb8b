// Package quantity implements the quantity and days-supply limit engine:
// per-fill caps, max-days-supply caps, and accumulating limits enforced over
// a trailing time window of the member's claim history.
package quantity

import (
	"fmt"

	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// LimitKind discriminates how a limit is enforced.
type LimitKind string

const (
	KindPerFill       LimitKind = "per_fill"
	KindPerDay        LimitKind = "per_day"
	KindPerMonth      LimitKind = "per_month"
	KindPerYear       LimitKind = "per_year"
	KindMaxDaysSupply LimitKind = "max_days_supply"
)

// Default accumulation windows, in days, used when a limit does not set
// PeriodDays explicitly.
const (
	defaultMonthDays = 30
	defaultYearDays  = 365
)

// Limit is a single configured quantity restriction. A zero MaxQuantity or
// MaxDaysSupply means that bound is unset; a limit with neither bound set is
// malformed.
type Limit struct {
	ID            string          `json:"id"`
	Drug          drug.Identifier `json:"drug"`
	Kind          LimitKind       `json:"kind"`
	MaxQuantity   float64         `json:"max_quantity,omitempty"`
	MaxDaysSupply int             `json:"max_days_supply,omitempty"`
	PeriodDays    int             `json:"period_days,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// DrugIdentifier implements drug.Rule.
func (l Limit) DrugIdentifier() drug.Identifier { return l.Drug }

// Accumulating reports whether the limit is enforced over a trailing window.
func (l Limit) Accumulating() bool {
	switch l.Kind {
	case KindPerDay, KindPerMonth, KindPerYear:
		return true
	}
	return false
}

// Window returns the accumulation window in days.
func (l Limit) Window() int {
	if l.PeriodDays > 0 {
		return l.PeriodDays
	}
	switch l.Kind {
	case KindPerDay:
		return 1
	case KindPerMonth:
		return defaultMonthDays
	case KindPerYear:
		return defaultYearDays
	default:
		return 0
	}
}

// Binding reports whether the limit restricts anything at all.
func (l Limit) Binding() bool {
	return l.MaxQuantity > 0 || l.MaxDaysSupply > 0
}

// Validate checks the limit's configuration.
func (l Limit) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("limit has no id")
	}
	if l.Drug.IsZero() {
		return fmt.Errorf("limit %s: no drug identifier", l.ID)
	}
	switch l.Kind {
	case KindPerFill, KindPerDay, KindPerMonth, KindPerYear, KindMaxDaysSupply:
	default:
		return fmt.Errorf("limit %s: unknown kind %q", l.ID, l.Kind)
	}
	if !l.Binding() {
		return fmt.Errorf("limit %s: neither max quantity nor max days supply set", l.ID)
	}
	if l.Kind == KindMaxDaysSupply && l.MaxDaysSupply <= 0 {
		return fmt.Errorf("limit %s: max-days-supply limit without max days supply", l.ID)
	}
	if l.Accumulating() && l.MaxQuantity <= 0 {
		return fmt.Errorf("limit %s: accumulating limit without max quantity", l.ID)
	}
	if l.MaxQuantity < 0 || l.MaxDaysSupply < 0 || l.PeriodDays < 0 {
		return fmt.Errorf("limit %s: negative bound", l.ID)
	}
	return nil
}

// Result is the outcome of evaluating a claim against the configured limits.
// Domain failures (limit exceeded) are results, never errors.
type Result struct {
	Passed                    bool    `json:"passed"`
	LimitID                   string  `json:"limit_id,omitempty"`
	AllowedQuantity           float64 `json:"allowed_quantity"`
	RequestedQuantity         float64 `json:"requested_quantity"`
	MaxQuantity               float64 `json:"max_quantity,omitempty"`
	AllowedDaysSupply         int     `json:"allowed_days_supply"`
	RequestedDaysSupply       int     `json:"requested_days_supply"`
	QuantityUsedInPeriod      float64 `json:"quantity_used_in_period,omitempty"`
	QuantityRemainingInPeriod float64 `json:"quantity_remaining_in_period,omitempty"`
	Message                   string  `json:"message,omitempty"`
}
