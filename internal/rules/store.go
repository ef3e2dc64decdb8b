package rules

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store publishes the current rule snapshot to concurrent readers. Readers
// take a consistent snapshot pointer per evaluation; a reload swaps the
// pointer atomically, so in-flight evaluations keep the snapshot they
// started with.
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// NewStore validates and installs the initial snapshot.
func NewStore(s *Snapshot, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &Store{logger: logger}
	if err := st.Swap(s); err != nil {
		return nil, err
	}
	return st, nil
}

// Current returns the active snapshot.
func (st *Store) Current() *Snapshot {
	return st.current.Load()
}

// Swap validates a new snapshot and installs it atomically. A rejected
// snapshot leaves the active one untouched.
func (st *Store) Swap(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil rules snapshot")
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("rules snapshot rejected: %w", err)
	}
	st.current.Store(s)
	st.logger.Info("rules snapshot installed",
		zap.Int("interactions", len(s.Interactions)),
		zap.Int("quantity_limits", len(s.QuantityLimits)),
		zap.Int("criteria_sets", len(s.CriteriaSets)),
	)
	return nil
}
