// Package main provides the adjudication API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxadjudicator/internal/adjudication"
	"github.com/drfirst/go-rxadjudicator/internal/api/handlers"
	"github.com/drfirst/go-rxadjudicator/internal/api/middleware"
	"github.com/drfirst/go-rxadjudicator/internal/dur"
	"github.com/drfirst/go-rxadjudicator/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxadjudicator/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxadjudicator/internal/observability/metrics"
	"github.com/drfirst/go-rxadjudicator/internal/observability/tracing"
	"github.com/drfirst/go-rxadjudicator/internal/priorauth"
	"github.com/drfirst/go-rxadjudicator/internal/rules"
	"github.com/drfirst/go-rxadjudicator/pkg/circuitbreaker"
)

// Config holds service configuration.
type Config struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers []string
	OTLPEndpoint string
	APIKeys      map[string]string
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()
	ctx := context.Background()

	m := metrics.New()

	traceCfg := tracing.DefaultConfig("adjudication-api")
	if cfg.OTLPEndpoint != "" {
		traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer provider.Shutdown(context.Background())
	}

	breakerState := func(name string, to circuitbreaker.State) {
		var v float64
		switch to {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(v)
	}

	// Rules come from the database when one is configured; otherwise the
	// embedded demo set keeps the service usable standalone.
	var pool *pgxpool.Pool
	var loader handlers.SnapshotLoader
	var authStore handlers.DeterminationStore
	snapshot := rules.DefaultSnapshot()

	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		dbBreakerCfg := circuitbreaker.DefaultConfig("postgres")
		dbBreakerCfg.OnStateChange = breakerState
		dbBreaker := circuitbreaker.New(dbBreakerCfg, logger)

		rulesLoader := postgres.NewRulesLoader(pool, logger)
		loader = &guardedLoader{loader: rulesLoader, breaker: dbBreaker}
		authStore = postgres.NewAuthStore(pool, logger)

		loaded, err := loader.LoadSnapshot(ctx)
		if err != nil {
			logger.Fatal("initial rules load failed", zap.Error(err))
		}
		snapshot = loaded
	}

	store, err := rules.NewStore(snapshot, logger)
	if err != nil {
		logger.Fatal("rules snapshot rejected", zap.Error(err))
	}

	// Decision and determination streams are optional; without brokers the
	// API answers callers directly and nothing is published.
	var publisher *redpanda.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producerCfg := redpanda.DefaultProducerConfig()
		producerCfg.Brokers = cfg.KafkaBrokers
		publisher, err = redpanda.NewPublisher(producerCfg, logger)
		if err != nil {
			logger.Fatal("publisher creation failed", zap.Error(err))
		}
		defer publisher.Close()
	}

	service := adjudication.NewService(store, logger, m)
	workflow := priorauth.NewWorkflow(priorauth.DefaultWorkflowConfig(), logger)
	overrides := dur.NewOverrideManager(logger)

	var decisionSink handlers.DecisionSink
	var determinationSink handlers.DeterminationSink
	if publisher != nil {
		decisionSink = publisher
		determinationSink = publisher
	}

	claimHandler := handlers.NewAdjudicationHandler(service, overrides, decisionSink, logger, m)
	paHandler := handlers.NewPriorAuthHandler(workflow, authStore, determinationSink, logger, m)
	rulesHandler := handlers.NewRulesHandler(store, loader, logger, m)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("adjudication-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SubmitterAuth(cfg.APIKeys))
		r.Mount("/claims", claimHandler.Routes())
		r.Mount("/prior-auth", paHandler.Routes())
		r.Mount("/rules", rulesHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting adjudication API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// guardedLoader runs snapshot loads through the database breaker so a
// failing database cannot wedge the reload endpoint.
type guardedLoader struct {
	loader  *postgres.RulesLoader
	breaker *circuitbreaker.Breaker
}

func (g *guardedLoader) LoadSnapshot(ctx context.Context) (*rules.Snapshot, error) {
	result, err := g.breaker.Do(ctx, func() (any, error) {
		return g.loader.LoadSnapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*rules.Snapshot), nil
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = strings.Split(b, ",")
	}

	apiKeys := map[string]string{
		"demo-api-key-12345": "demo-submitter",
	}
	if key := os.Getenv("API_KEY"); key != "" {
		apiKeys[key] = "env-submitter"
	}

	return Config{
		Port:         port,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		KafkaBrokers: brokers,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		APIKeys:      apiKeys,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"adjudication-api","version":"1.0.0"}`)
}
