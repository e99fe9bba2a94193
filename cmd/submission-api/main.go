// Package main provides the submission API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/agedcare/go-nqip/internal/api/handlers"
	"github.com/agedcare/go-nqip/internal/api/middleware"
	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	"github.com/agedcare/go-nqip/internal/observability/metrics"
	"github.com/agedcare/go-nqip/internal/observability/tracing"
	"github.com/agedcare/go-nqip/internal/regulator"
	"github.com/agedcare/go-nqip/internal/workflow"
)

// Config holds application configuration
type Config struct {
	Port               string
	DatabaseURL        string
	APIKeys            map[string]string
	OTLPEndpoint       string
	RegulatorLatencyMS int
	LogLevel           string
}

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg := loadConfig()

	// Initialize tracing when an OTLP collector is configured
	if cfg.OTLPEndpoint != "" {
		provider, err := tracing.Init(context.Background(), tracing.Config{
			ServiceName:    "submission-api",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
		})
		if err != nil {
			logger.Warn("tracing init failed", zap.Error(err))
		} else {
			defer provider.Shutdown(context.Background())
		}
	}

	// Load the questionnaire catalog
	cat, err := catalog.Default()
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}
	logger.Info("catalog loaded", zap.Int("indicators", len(cat.Indicators())))

	// Initialize the repository. The in-memory store is the source of
	// truth; Postgres, when configured, carries the durable audit trail.
	var repo submission.Repository = submission.NewMemoryRepository()
	var events handlers.EventSource

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(context.Background()); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		store := submission.NewEventStore(pool, logger)
		repo = submission.NewAuditingRepository(repo, store, logger)
		events = store
	}

	// Initialize the regulator client
	simulator := regulator.NewSimulator(cat, regulator.SimulatorConfig{
		Latency: time.Duration(cfg.RegulatorLatencyMS) * time.Millisecond,
	}, logger)

	client, err := regulator.NewResilientClient(simulator, regulator.DefaultRetryConfig(), logger)
	if err != nil {
		logger.Fatal("failed to create regulator client", zap.Error(err))
	}

	// Initialize the workflow engine and handlers
	engine := workflow.NewEngine(cat, repo, client, logger)
	engine.Metrics = metrics.New()
	submissionHandler := handlers.NewSubmissionHandler(repo, cat, engine, events, logger)
	catalogHandler := handlers.NewCatalogHandler(cat)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("submission-api"))

	// Health check (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	// API routes (with auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/submissions", submissionHandler.Routes())
		r.Mount("/catalog", catalogHandler.Routes())
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
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

	logger.Info("starting submission API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Simple API keys for demo, bound to facilities
	apiKeys := map[string]string{
		"demo-api-key-12345": "RACS-0042",
		"test-api-key-67890": "RACS-0099",
	}
	if key := os.Getenv("API_KEY"); key != "" {
		apiKeys[key] = os.Getenv("FACILITY_ID")
	}

	latencyMS := 0
	if v := os.Getenv("REGULATOR_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			latencyMS = n
		}
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		APIKeys:            apiKeys,
		OTLPEndpoint:       os.Getenv("OTLP_ENDPOINT"),
		RegulatorLatencyMS: latencyMS,
		LogLevel:           os.Getenv("LOG_LEVEL"),
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"submission-api","version":"1.0.0"}`)
}
