// Command analytics runs the standalone analytics aggregation service.
//
// It consumes assignment events from Kafka, aggregates them in memory
// (totals, error count, cache hit rate, latency percentiles, proposals per
// agent, busiest formations) and serves them at GET /api/v1/analytics.
// With PostgreSQL configured it also snapshots the stats periodically and
// serves them at GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-snapshot-interval 1m]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	snapshotInterval := flag.Duration("snapshot-interval", time.Minute, "how often to persist stats to postgres")
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
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		s := consumer.Stats()
		if s.Errors > 0 && s.Messages == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("%d fetch errors", s.Errors)}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d messages consumed", s.Messages)}
	})

	var snapshots analytics.SnapshotLister
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		} else {
			defer db.Close()
			if err := resilience.WithTimeout(ctx, 30*time.Second, "postgres-migrate", db.Migrate); err != nil {
				slog.Error("schema migration failed", "error", err)
				os.Exit(1)
			}
			store := aggregator.NewStore(db)
			if last, err := store.LatestSnapshot(ctx); err != nil {
				slog.Warn("loading latest snapshot failed", "error", err)
			} else if last != nil {
				slog.Info("previous snapshot found", "total_assignments", last.TotalAssignments, "total_errors", last.TotalErrors)
			}
			store.StartPeriodicSave(ctx, agg, *snapshotInterval)
			snapshots = store
			checker.Register("postgres", health.PingCheck(db.Ping, false))
		}
	}

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	h := analytics.NewHandler(agg, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
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
