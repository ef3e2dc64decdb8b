package quantity

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/internal/drug"
)

// Input errors, distinguishable from domain outcomes via errors.Is.
var (
	ErrNegativeQuantity   = errors.New("requested quantity is negative")
	ErrNegativeDaysSupply = errors.New("requested days supply is negative")
	ErrMalformedLimit     = errors.New("malformed quantity limit")
)

// Engine evaluates a claim against the configured quantity limits. The limit
// slice is an immutable snapshot; the engine never mutates it and is safe for
// concurrent use across claims.
type Engine struct {
	limits []Limit
	logger *zap.Logger
}

// NewEngine creates an engine over a configured limit set. Limits are
// evaluated in slice order, which must be the configuration's natural order
// for first-failure-wins to be reproducible.
func NewEngine(limits []Limit, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{limits: limits, logger: logger}
}

// Check evaluates the requested quantity and days supply for a drug against
// every applicable limit.
//
// The first limit that fails decides the outcome. If all applicable limits
// pass, the most restrictive passing result governs: smallest allowed
// quantity, ties broken by first occurrence. No applicable limit means the
// request passes untouched.
func (e *Engine) Check(drugCode, classCode string, requestedQty float64, requestedDays int, history []claims.HistoryEntry, serviceDate time.Time) (Result, error) {
	if requestedQty < 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrNegativeQuantity, requestedQty)
	}
	if requestedDays < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeDaysSupply, requestedDays)
	}

	pass := Result{
		Passed:              true,
		AllowedQuantity:     requestedQty,
		RequestedQuantity:   requestedQty,
		AllowedDaysSupply:   requestedDays,
		RequestedDaysSupply: requestedDays,
	}

	// A zero-quantity request restricts nothing and always passes.
	if requestedQty == 0 {
		return pass, nil
	}

	matched := drug.Match(e.limits, drugCode, classCode)
	if len(matched) == 0 {
		pass.Message = "no quantity limit applies"
		return pass, nil
	}

	var passing []Result
	for _, limit := range matched {
		if !limit.Binding() {
			// A limit with no bound restricts nothing. Do not silently
			// treat it as a restriction; note it and move on.
			e.logger.Warn("skipping non-binding quantity limit",
				zap.String("limit_id", limit.ID),
				zap.String("kind", string(limit.Kind)))
			continue
		}
		// Snapshot validation rejects these at load time; refusing again
		// here keeps a bad rule from denying everything when the engine
		// is fed limits from another source.
		if err := limit.Validate(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedLimit, err)
		}

		res := e.evaluate(limit, drugCode, requestedQty, requestedDays, history, serviceDate)
		if !res.Passed {
			return res, nil
		}
		passing = append(passing, res)
	}

	if len(passing) == 0 {
		pass.Message = "no binding quantity limit applies"
		return pass, nil
	}

	// Most-restrictive-wins fold over the passing results.
	most := passing[0]
	for _, res := range passing[1:] {
		if res.AllowedQuantity < most.AllowedQuantity {
			most = res
		}
	}
	return most, nil
}

// evaluate applies a single binding limit.
func (e *Engine) evaluate(limit Limit, drugCode string, requestedQty float64, requestedDays int, history []claims.HistoryEntry, serviceDate time.Time) Result {
	res := Result{
		Passed:              true,
		LimitID:             limit.ID,
		AllowedQuantity:     requestedQty,
		RequestedQuantity:   requestedQty,
		MaxQuantity:         limit.MaxQuantity,
		AllowedDaysSupply:   requestedDays,
		RequestedDaysSupply: requestedDays,
	}

	switch limit.Kind {
	case KindPerFill:
		if limit.MaxQuantity > 0 && requestedQty > limit.MaxQuantity {
			res.Passed = false
			res.AllowedQuantity = limit.MaxQuantity
			res.Message = fmt.Sprintf("quantity %v exceeds per-fill maximum %v", requestedQty, limit.MaxQuantity)
		}
		if limit.MaxDaysSupply > 0 && requestedDays > limit.MaxDaysSupply {
			res.Passed = false
			res.AllowedDaysSupply = limit.MaxDaysSupply
			if res.Message != "" {
				res.Message += "; "
			}
			res.Message += fmt.Sprintf("days supply %d exceeds per-fill maximum %d", requestedDays, limit.MaxDaysSupply)
		}

	case KindMaxDaysSupply:
		if requestedDays > limit.MaxDaysSupply {
			res.Passed = false
			res.AllowedDaysSupply = limit.MaxDaysSupply
			res.Message = fmt.Sprintf("days supply %d exceeds maximum %d", requestedDays, limit.MaxDaysSupply)
		}

	case KindPerDay, KindPerMonth, KindPerYear:
		used := Accumulate(history, drugCode, limit.Window(), serviceDate)
		remaining := limit.MaxQuantity - used
		if remaining < 0 {
			remaining = 0
		}
		res.QuantityUsedInPeriod = used
		res.QuantityRemainingInPeriod = remaining
		if requestedQty > remaining {
			res.Passed = false
			res.AllowedQuantity = remaining
			res.Message = fmt.Sprintf("quantity %v exceeds remaining %v of %v per %d days (%v used)",
				requestedQty, remaining, limit.MaxQuantity, limit.Window(), used)
		}
	}

	return res
}
