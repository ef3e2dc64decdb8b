package workerpool

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPoolProcessesAllJobs(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 64}, func(ctx context.Context, job Job) (any, error) {
		n := job.Payload.(int)
		return n * 2, nil
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		if err := pool.Submit(Job{ID: fmt.Sprintf("job-%d", i), Payload: i}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	pool.Stop()

	var got int
	for res := range pool.Results() {
		if res.Err != nil {
			t.Errorf("job %s failed: %v", res.JobID, res.Err)
		}
		got++
	}
	if got != jobs {
		t.Errorf("expected %d results, got %d", jobs, got)
	}

	stats := pool.Stats()
	if stats.Completed != jobs {
		t.Errorf("expected %d completed, got %d", jobs, stats.Completed)
	}
}

func TestPoolReportsFailures(t *testing.T) {
	pool, err := New(Config{Workers: 2, QueueSize: 8}, func(ctx context.Context, job Job) (any, error) {
		return nil, fmt.Errorf("boom")
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()

	if err := pool.Submit(Job{ID: "bad"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	pool.Stop()

	res, ok := <-pool.Results()
	if !ok {
		t.Fatal("expected a result")
	}
	if res.Err == nil {
		t.Error("expected job error")
	}
	if pool.Stats().Failed != 1 {
		t.Errorf("expected 1 failed, got %d", pool.Stats().Failed)
	}
}

func TestSubmitAfterStopRejected(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1, ShutdownTimeout: time.Second}, func(ctx context.Context, job Job) (any, error) {
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(Job{ID: "late"}); err == nil {
		t.Error("expected rejection after stop")
	}
}

func TestRequiresWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error for nil worker function")
	}
}
