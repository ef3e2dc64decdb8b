// Package workerpool provides a bounded worker pool for fanning independent
// jobs across goroutines. Claim adjudications share no mutable state, so the
// pool needs no coordination beyond the queue itself.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work.
type Job struct {
	ID      string
	Payload any
}

// Result is the outcome of one job.
type Result struct {
	JobID string
	Value any
	Err   error
}

// WorkerFunc processes a single job.
type WorkerFunc func(ctx context.Context, job Job) (any, error)

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize bounds the pending job queue.
	QueueSize int
	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for batch claim adjudication.
func DefaultConfig() Config {
	return Config{
		Workers:         32,
		QueueSize:       4096,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool fans jobs across a fixed set of workers and delivers results on a
// single channel in completion order.
type Pool struct {
	cfg    Config
	fn     WorkerFunc
	logger *zap.Logger

	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	depth     int64
}

// New creates a pool. The worker function is required.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		fn:      fn,
		logger:  logger,
		jobs:    make(chan Job, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit enqueues a job. It fails fast when the queue is full or the pool
// is shutting down; backpressure is the caller's concern.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		atomic.AddInt64(&p.depth, 1)
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Results returns the result channel. It is closed after Stop returns.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop closes the queue, waits for in-flight jobs up to the shutdown
// timeout, then closes the result channel.
func (p *Pool) Stop() {
	p.cancel()
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
	close(p.results)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		atomic.AddInt64(&p.depth, -1)

		value, err := p.fn(p.ctx, job)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.Int("worker_id", id),
				zap.Error(err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}

		p.results <- Result{JobID: job.ID, Value: value, Err: err}
	}
}

// Stats reports pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Depth     int64
	Workers   int
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Depth:     atomic.LoadInt64(&p.depth),
		Workers:   p.cfg.Workers,
	}
}
