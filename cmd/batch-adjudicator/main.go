// Package main provides the batch adjudicator entry point. It consumes
// submitted claims from the claim topic, fans them across the worker pool,
// and publishes decisions to the decision topic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/adjudication"
	"github.com/drfirst/go-rxadjudicator/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxadjudicator/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/observability/tracing"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
	"github.com/drfirst/go-rxadjudicator/pkg/circuitbreaker"
	"github.com/drfirst/go-rxadjudicator/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()
	m := metrics.New()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = strings.Split(b, ",")
	}

	traceCfg := tracing.DefaultConfig("batch-adjudicator")
	if e := os.Getenv("OTLP_ENDPOINT"); e != "" {
		traceCfg.OTLPEndpoint = e
	}
	provider, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer provider.Shutdown(context.Background())
	}

	// Rules: database when configured, embedded demo set otherwise.
	snapshot := rules.DefaultSnapshot()
	var pool *pgxpool.Pool
	var loader *postgres.RulesLoader
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()

		loader = postgres.NewRulesLoader(pool, logger)
		snapshot, err = loader.LoadSnapshot(ctx)
		if err != nil {
			logger.Fatal("initial rules load failed", zap.Error(err))
		}
	}
	store, err := rules.NewStore(snapshot, logger)
	if err != nil {
		logger.Fatal("rules snapshot rejected", zap.Error(err))
	}

	// Topics must exist before the consumer group forms.
	admin, err := redpanda.NewAdmin(brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Warn("topic creation failed", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = brokers
	publisher, err := redpanda.NewPublisher(producerCfg, logger)
	if err != nil {
		logger.Fatal("publisher creation failed", zap.Error(err))
	}
	defer publisher.Close()

	publishBreakerCfg := circuitbreaker.DefaultConfig("decision-stream")
	publishBreakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		var v float64
		switch to {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(v)
	}
	publishBreaker := circuitbreaker.New(publishBreakerCfg, logger)

	service := adjudication.NewService(store, logger, m)

	poolCfg := workerpool.DefaultConfig()
	if w := os.Getenv("WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			poolCfg.Workers = n
		}
	}
	batch, err := adjudication.NewBatch(service, poolCfg, logger)
	if err != nil {
		logger.Fatal("batch creation failed", zap.Error(err))
	}
	batch.Start()

	// Drain decisions to the stream. A decision that cannot be published
	// is logged and dropped; the claim was not committed, so it replays.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range batch.Results() {
			if result.Err != nil {
				logger.Error("adjudication failed",
					zap.String("claim_id", result.JobID),
					zap.Error(result.Err))
				continue
			}
			decision, ok := result.Value.(*adjudication.Decision)
			if !ok {
				continue
			}
			_, err := publishBreaker.Do(ctx, func() (any, error) {
				return nil, publisher.PublishDecision(ctx, decision)
			})
			if err != nil {
				logger.Error("decision publish failed",
					zap.String("claim_id", decision.ClaimID),
					zap.Error(err))
				continue
			}
			m.DecisionsPublished.Inc()
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumer, err := redpanda.NewClaimConsumer(consumerCfg, func(ctx context.Context, req adjudication.Request) error {
		accepted, err := batch.Submit(req)
		if err != nil {
			return err
		}
		if accepted {
			m.ClaimsConsumed.Inc()
		}
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	// Queue depth and periodic rules refresh.
	refresh := time.NewTicker(5 * time.Minute)
	depth := time.NewTicker(5 * time.Second)
	stopTickers := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopTickers:
				return
			case <-depth.C:
				m.BatchQueueDepth.Set(float64(batch.Stats().Depth))
			case <-refresh.C:
				if loader == nil {
					continue
				}
				fresh, err := loader.LoadSnapshot(ctx)
				if err != nil {
					logger.Error("rules refresh failed", zap.Error(err))
					continue
				}
				if err := store.Swap(fresh); err != nil {
					logger.Error("rules refresh rejected", zap.Error(err))
					continue
				}
				m.RulesSnapshotSwaps.Inc()
			}
		}
	}()

	// Metrics endpoint.
	metricsServer := &http.Server{Addr: ":" + metricsPort(), Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("batch adjudicator started",
		zap.Strings("brokers", brokers),
		zap.Int("workers", poolCfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	batch.Stop()
	<-done
	refresh.Stop()
	depth.Stop()
	close(stopTickers)
	metricsServer.Close()
	logger.Info("batch adjudicator stopped")
}

func metricsPort() string {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		return p
	}
	return "9090"
}
