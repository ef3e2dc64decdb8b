package adjudication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/claims"
	"github.com/drfirst/go-rxadjudicator/pkg/workerpool"
)

// Request bundles one claim with its member context and history for batch
// processing.
type Request struct {
	Claim   claims.Claim          `json:"claim"`
	Member  claims.Member         `json:"member"`
	History []claims.HistoryEntry `json:"history,omitempty"`
}

// DedupeKey identifies a claim submission for duplicate suppression:
// re-delivered claims must not be adjudicated (and counted against
// accumulating limits by downstream consumers) twice in one run.
func (r Request) DedupeKey() string {
	parts := []string{
		r.Claim.ID,
		r.Claim.MemberID,
		r.Claim.DrugCode,
		r.Claim.ServiceDate.Format("2006-01-02"),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Batch fans adjudication requests across a worker pool. Evaluations are
// embarrassingly parallel: each takes its own snapshot pointer and shares
// nothing with its peers.
type Batch struct {
	service *Service
	pool    *workerpool.Pool
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewBatch creates a batch adjudicator over the service.
func NewBatch(service *Service, cfg workerpool.Config, logger *zap.Logger) (*Batch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batch{
		service: service,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
	pool, err := workerpool.New(cfg, b.work, logger)
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return b, nil
}

// Start launches the workers.
func (b *Batch) Start() { b.pool.Start() }

// Submit enqueues one request. Duplicate submissions are dropped, not
// errors: re-delivery is normal for at-least-once transports.
func (b *Batch) Submit(req Request) (bool, error) {
	key := req.DedupeKey()

	b.mu.Lock()
	if _, dup := b.seen[key]; dup {
		b.mu.Unlock()
		b.logger.Debug("duplicate claim dropped",
			zap.String("claim_id", req.Claim.ID),
			zap.String("dedupe_key", key))
		return false, nil
	}
	b.seen[key] = struct{}{}
	b.mu.Unlock()

	if err := b.pool.Submit(workerpool.Job{ID: req.Claim.ID, Payload: req}); err != nil {
		return false, fmt.Errorf("submit claim %s: %w", req.Claim.ID, err)
	}
	return true, nil
}

// Results returns the pool's result channel; Value holds a *Decision.
func (b *Batch) Results() <-chan workerpool.Result {
	return b.pool.Results()
}

// Stop drains the pool.
func (b *Batch) Stop() { b.pool.Stop() }

// Stats returns the underlying pool counters.
func (b *Batch) Stats() workerpool.Stats { return b.pool.Stats() }

func (b *Batch) work(ctx context.Context, job workerpool.Job) (any, error) {
	req, ok := job.Payload.(Request)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return b.service.Adjudicate(ctx, req.Claim, req.Member, req.History)
}
