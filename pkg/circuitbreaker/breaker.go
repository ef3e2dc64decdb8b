// Package circuitbreaker wraps sony/gobreaker for the adjudicator's
// external dependencies. The rule store and the decision stream live
// behind breakers so a struggling database or broker sheds load instead
// of stalling every evaluation.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen reports a call rejected because the circuit is open.
var ErrOpen = errors.New("circuit open")

// StateFunc receives state transitions, typically to drive a gauge.
type StateFunc func(name string, to State)

// Config holds breaker tuning.
type Config struct {
	Name string
	// MaxRequests allowed through in half-open state.
	MaxRequests uint32
	// Interval clears counts in the closed state.
	Interval time.Duration
	// Timeout before an open breaker probes again.
	Timeout time.Duration
	// FailureThreshold trips on consecutive failures below MinRequests.
	FailureThreshold uint32
	// FailureRatio trips once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
	// OnStateChange is optional.
	OnStateChange StateFunc
}

// DefaultConfig returns defaults tuned for the rule store and the
// decision stream.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker guards one dependency.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	state State
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		state:  StateClosed,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			toState := mapState(to)
			b.mu.Lock()
			b.state = toState
			b.mu.Unlock()

			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(toState)))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, toState)
			}
		},
	})
	return b
}

// Do runs fn through the breaker. A rejection from an open circuit is
// reported as ErrOpen so callers can fall back cleanly.
func (b *Breaker) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	_, span := b.tracer.Start(ctx, "breaker_do",
		trace.WithAttributes(
			attribute.String("breaker", b.name),
			attribute.String("state", string(b.State())),
		))
	defer span.End()

	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("circuit_open", true))
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// DoWithFallback runs fn, falling back only when the circuit rejected the
// call. Genuine failures from fn still surface.
func (b *Breaker) DoWithFallback(ctx context.Context, fn func() (any, error), fallback func() (any, error)) (any, error) {
	result, err := b.Do(ctx, fn)
	if errors.Is(err, ErrOpen) {
		b.logger.Warn("circuit open, using fallback", zap.String("breaker", b.name))
		return fallback()
	}
	return result, err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Counts exposes gobreaker's counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
