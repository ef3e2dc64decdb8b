package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/adjudication"
)

// ConsumerConfig holds claim-stream consumer tuning.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topic             string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	FetchMaxBytes     int32
	StartOffset       string
}

// DefaultConsumerConfig returns defaults for the claim stream. Offsets are
// committed manually after each claim is handed off, so a crash replays
// rather than drops; the batch dedupe absorbs the replay.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		GroupID:           "claim-adjudicator",
		Topic:             TopicClaims,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		FetchMaxBytes:     50 * 1024 * 1024,
		StartOffset:       "earliest",
	}
}

// ClaimHandler receives each decoded claim envelope.
type ClaimHandler func(ctx context.Context, req adjudication.Request) error

// ClaimConsumer reads claim envelopes from the claim topic and hands them
// to the handler, typically the batch adjudicator's Submit.
type ClaimConsumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler ClaimHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	consumed  int64
	malformed int64
	failed    int64
}

// NewClaimConsumer creates a consumer group member for the claim topic.
func NewClaimConsumer(cfg ConsumerConfig, handler ClaimHandler, logger *zap.Logger) (*ClaimConsumer, error) {
	if handler == nil {
		return nil, errors.New("claim handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicClaims
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, client *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	}
	if cfg.StartOffset == "latest" {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ClaimConsumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("claim-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming.
func (c *ClaimConsumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop drains the loop, commits outstanding offsets, and closes the client.
func (c *ClaimConsumer) Stop() {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		c.logger.Warn("commit on stop", zap.Error(err))
	}
	c.client.Close()
}

func (c *ClaimConsumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.processRecord(record)
		})
	}
}

func (c *ClaimConsumer) processRecord(record *kgo.Record) {
	ctx, span := c.tracer.Start(c.ctx, "consume_claim",
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	var req adjudication.Request
	if err := json.Unmarshal(record.Value, &req); err != nil {
		// A malformed envelope never becomes parseable; it goes to the
		// dead-letter topic for inspection and is committed, not retried.
		atomic.AddInt64(&c.malformed, 1)
		c.logger.Error("malformed claim envelope",
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
		c.deadLetter(ctx, record, err)
		c.commit(ctx, record)
		return
	}
	span.SetAttributes(attribute.String("claim_id", req.Claim.ID))

	if err := c.handler(ctx, req); err != nil {
		atomic.AddInt64(&c.failed, 1)
		c.logger.Error("claim handler failed",
			zap.String("claim_id", req.Claim.ID),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
		// No commit: the claim replays on the next poll or rebalance.
		return
	}

	atomic.AddInt64(&c.consumed, 1)
	c.commit(ctx, record)
}

// deadLetter forwards an unprocessable envelope to the dead-letter topic,
// preserving the original payload and key and recording where it came from.
// The send is asynchronous: the envelope is already logged, so a lost dead
// letter costs inspection convenience, not the claim.
func (c *ClaimConsumer) deadLetter(ctx context.Context, record *kgo.Record, cause error) {
	c.client.Produce(ctx, deadLetterRecord(record, cause), func(r *kgo.Record, err error) {
		if err != nil {
			c.logger.Error("dead letter publish failed",
				zap.Int32("partition", record.Partition),
				zap.Int64("offset", record.Offset),
				zap.Error(err))
		}
	})
}

func deadLetterRecord(record *kgo.Record, cause error) *kgo.Record {
	return &kgo.Record{
		Topic: TopicDeadLetter,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "source-topic", Value: []byte(record.Topic)},
			{Key: "source-partition", Value: []byte(strconv.FormatInt(int64(record.Partition), 10))},
			{Key: "source-offset", Value: []byte(strconv.FormatInt(record.Offset, 10))},
		},
	}
}

func (c *ClaimConsumer) commit(ctx context.Context, record *kgo.Record) {
	c.client.MarkCommitRecords(record)
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		c.logger.Error("commit offset",
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
	}
}

// Stats returns consume counters.
func (c *ClaimConsumer) Stats() (consumed, malformed, failed int64) {
	return atomic.LoadInt64(&c.consumed), atomic.LoadInt64(&c.malformed), atomic.LoadInt64(&c.failed)
}
