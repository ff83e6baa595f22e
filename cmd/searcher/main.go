// Command searcher serves variant search: it loads samples from the
// registry, compiles searches and runs them against the search backend,
// keeping per-session results for paging.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/reference"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/compiler"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/sortmeta"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "backend", cfg.Backend.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := resilience.Dial(ctx, "postgres", resilience.StartupRetry(), func() (*postgres.Client, error) {
		return postgres.New(cfg.Postgres)
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, false))

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Search.SessionStore == config.SessionStoreRedis {
		redisClient, err := resilience.Dial(ctx, "redis", resilience.StartupRetry(), func() (*pkgredis.Client, error) {
			return pkgredis.NewClient(cfg.Redis)
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewRedisStore(redisClient, cfg.Redis.SessionTTL)
		checker.Register("redis", health.Ping(redisClient.Ping, false))
		slog.Info("redis session store enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.SessionTTL)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var tracker executor.Tracker
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		batch := collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batch.Start(ctx)
		defer batch.Close()
		tracker = batch
		slog.Info("search events enabled", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	refs := reference.New(db.DB)
	searchBackend := backend.NewClient(cfg.Backend.URL, nil, m)
	checker.Register("search_backend", health.Ping(searchBackend.Ping, false))

	comp := compiler.New(
		compiler.Config{MaxNoLocationCompHetFamilies: cfg.Search.MaxNoLocationCompHetFamilies},
		locus.NewResolver(refs),
		sortmeta.New(refs, cfg.Search.MaxPhenotypeRank, m),
	)
	exec := executor.New(comp, searchBackend, store, m, tracker)
	h := handler.New(registry.New(db.DB), exec, cfg.Search.DefaultPageSize, cfg.Search.MaxPageSize)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/gene_counts", h.GeneCounts)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.Session)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
