// Package redpanda carries the claim and decision streams over
// Kafka-compatible brokers with franz-go. Claims arrive on one topic,
// adjudication decisions and prior authorization determinations leave on
// others, keyed by member so per-member ordering holds.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/adjudication"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
)

// ProducerConfig holds producer tuning.
type ProducerConfig struct {
	Brokers            []string
	BatchMaxBytes      int32
	Linger             time.Duration
	MaxBufferedRecords int
	MaxRetries         int
}

// DefaultProducerConfig returns settings sized for batch adjudication runs,
// where decisions arrive in bursts of thousands.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:            []string{"localhost:9092"},
		BatchMaxBytes:      4 * 1024 * 1024,
		Linger:             25 * time.Millisecond,
		MaxBufferedRecords: 250_000,
		MaxRetries:         3,
	}
}

// Publisher produces adjudication output to the decision topics.
type Publisher struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	published int64
	failed    int64
}

// NewPublisher creates a publisher. Acks from all replicas; a decision
// that the broker did not durably accept is a decision the plan never made.
func NewPublisher(cfg ProducerConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(cfg.Linger),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Publisher{
		client: client,
		logger: logger,
		tracer: otel.Tracer("decision-publisher"),
	}, nil
}

// PublishDecision publishes an adjudication decision, keyed by member id.
func (p *Publisher) PublishDecision(ctx context.Context, decision *adjudication.Decision) error {
	return p.publish(ctx, TopicDecisions, decision.MemberID, decision,
		attribute.String("claim_id", decision.ClaimID),
		attribute.String("outcome", string(decision.Outcome)),
	)
}

// PublishDetermination publishes a prior authorization determination.
func (p *Publisher) PublishDetermination(ctx context.Context, resp *priorauth.Response) error {
	return p.publish(ctx, TopicDeterminations, resp.MemberID, resp,
		attribute.String("request_id", resp.RequestID),
		attribute.String("status", string(resp.Status)),
	)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload any, attrs ...attribute.KeyValue) error {
	ctx, span := p.tracer.Start(ctx, "publish",
		trace.WithAttributes(append(attrs, attribute.String("topic", topic))...))
	defer span.End()

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	injectTraceHeaders(ctx, record)

	var produceErr error
	var wg sync.WaitGroup
	wg.Add(1)
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer wg.Done()
		if err != nil {
			produceErr = err
			atomic.AddInt64(&p.failed, 1)
			p.logger.Error("publish failed",
				zap.String("topic", topic),
				zap.String("key", key),
				zap.Error(err))
			span.RecordError(err)
			return
		}
		atomic.AddInt64(&p.published, 1)
		p.logger.Debug("published",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset))
	})
	wg.Wait()
	return produceErr
}

// Flush blocks until all buffered records are sent.
func (p *Publisher) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes and closes the publisher.
func (p *Publisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close", zap.Error(err))
	}
	p.client.Close()
}

// Stats returns publish counters.
func (p *Publisher) Stats() (published, failed int64) {
	return atomic.LoadInt64(&p.published), atomic.LoadInt64(&p.failed)
}

// injectTraceHeaders adds W3C trace context to record headers so downstream
// consumers can join the trace.
func injectTraceHeaders(ctx context.Context, record *kgo.Record) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return
	}
	record.Headers = append(record.Headers, kgo.RecordHeader{
		Key: "traceparent",
		Value: []byte(fmt.Sprintf("00-%s-%s-%02x",
			sc.TraceID().String(), sc.SpanID().String(), sc.TraceFlags())),
	})
}
