// Command analytics consumes search events from Kafka, aggregates them in
// memory (searches, cache hit rate, rejections, backend errors, latency
// percentiles, top strategies and sorts) and serves GET /api/v1/analytics.
// With postgres reachable it also snapshots the aggregate periodically.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/analytics.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/analytics.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.SearchEvents)

	checker := health.NewChecker()
	var snapshots analytics.SnapshotLister
	if cfg.Analytics.SnapshotInterval > 0 {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		} else {
			defer db.Close()
			store := aggregator.NewStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Error("failed to prepare snapshot table", "error", err)
				os.Exit(1)
			}
			store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
			snapshots = store
			checker.Register("postgres", health.Ping(db.Ping, true))
		}
	}

	mux := http.NewServeMux()
	h := analytics.NewHandler(agg, snapshots)
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
