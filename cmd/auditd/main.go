// Package main provides the DevLens audit service HTTP server.
//
// Application startup flow:
//
//  1. Load layered configuration (config.Load)
//  2. Build the configured sinks (audit.BuildSinks)
//  3. Wire the enricher: Postgres-backed when a DSN is configured,
//     otherwise the noop enricher
//  4. Start the audit pipeline (service.Start)
//  5. Start the ingest API server (handles event submission and stats)
//  6. Start the metrics/pprof server (/metrics, /debug/pprof)
//  7. Wait for SIGINT/SIGTERM
//  8. Shutdown: stop the ingest server, close pipeline ingress and drain
//     the queue and every sink within the drain deadline, then stop the
//     metrics server
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/devlens-io/devlens/internal/api"
	"github.com/devlens-io/devlens/internal/audit"
	"github.com/devlens-io/devlens/internal/auth"
	"github.com/devlens-io/devlens/internal/config"
	"github.com/devlens-io/devlens/internal/db"
	"github.com/devlens-io/devlens/internal/enrich"
	"github.com/devlens-io/devlens/internal/store"
	"github.com/devlens-io/devlens/internal/telemetry"
)

func main() {
	configFile := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootstrapLogger := zerolog.New(os.Stderr)
		bootstrapLogger.Fatal().Err(err).Msg("config")
	}

	logger := newLogger(cfg)

	sinks, err := audit.BuildSinks(cfg.Audit.Sinks, cfg.Audit.DefaultRetentionDays, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build sinks")
	}
	if len(sinks) == 0 {
		// A pipeline with no configured sinks still mirrors to the log.
		sinks = []audit.Sink{audit.NewTracingSink("tracing", audit.AcceptAll(), logger)}
	}

	enricher, cleanup := buildEnricher(cfg, logger)
	defer cleanup()

	service, err := audit.NewService(cfg.ServiceConfig(), enricher, nil, logger, sinks...)
	if err != nil {
		logger.Fatal().Err(err).Msg("build pipeline")
	}
	service.Start()

	telemetry.Init(service)

	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(service, auth.NewAuthenticator(cfg.IngestAPIKey), logger).Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("ingest server listening")
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ingest server")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/pprof server listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("metrics server")
		}
	}()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownSignal

	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ingest server shutdown")
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pipeline shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown")
	}
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stderr)
	if cfg.Env == "dev" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return out.Level(level).With().Timestamp().Logger()
}

// buildEnricher returns the production enricher when a database is
// configured, the noop enricher otherwise. The returned cleanup closes the
// pool.
func buildEnricher(cfg *config.Config, logger zerolog.Logger) (audit.Enricher, func()) {
	if cfg.DatabaseDSN == "" {
		return audit.NoopEnricher{}, func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Warn().Err(err).Msg("database unavailable, enrichment disabled")
		return audit.NoopEnricher{}, func() {}
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("database unreachable, enrichment degrades to missing context")
	}

	pg := store.NewPostgresStore(pool)
	return enrich.New(pg, pg, nil, logger), func() { pool.Close() }
}
