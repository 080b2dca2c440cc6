// Command assigner serves stable role assignment over HTTP and, optionally,
// JSON-over-TCP RPC.
//
// Redis, PostgreSQL and Kafka are optional: without Redis results are not
// cached, without PostgreSQL formations live in memory, and without Kafka
// no analytics events or results are published.
//
// Usage:
//
//	go run ./cmd/assigner [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/cache"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/handler"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/service"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/formation"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/tracing"
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
	slog.Info("starting assigner", "port", cfg.Server.Port, "max_agents", cfg.Assignment.MaxAgents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	// Formation registry: PostgreSQL when configured, memory otherwise.
	var store formation.Store
	var db *postgres.Client
	if cfg.Postgres.Host != "" {
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func() error {
			var err error
			db, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			slog.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := resilience.WithTimeout(ctx, 30*time.Second, "postgres-migrate", db.Migrate); err != nil {
			slog.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		store = formation.NewPostgresStore(db)
		checker.Register("postgres", health.PingCheck(db.Ping, true))
		slog.Info("formation registry backed by postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		store = formation.NewMemoryStore()
		slog.Info("formation registry in memory")
	}
	seeds, err := formation.FromConfig(cfg.Formations)
	if err != nil {
		slog.Error("invalid seed formations", "error", err)
		os.Exit(1)
	}
	added, err := formation.Seed(ctx, store, seeds, cfg.Assignment.MaxAgents)
	if err != nil {
		slog.Error("seeding formations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("formations seeded", "added", added, "configured", len(seeds))

	// Result cache.
	var assignmentCache *cache.AssignmentCache
	var redisPing func(context.Context) error
	if cfg.Assignment.CacheEnabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, assignment caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			assignmentCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			redisPing = redisClient.Ping
			slog.Info("assignment cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	checker.Register("redis", health.PingCheck(redisPing, false))

	// Kafka side channels.
	deps := service.Deps{Formations: store, Cache: assignmentCache, Metrics: m}
	if len(cfg.Kafka.Brokers) > 0 {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		collector := analytics.NewCollector(analyticsProducer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		deps.Tracker = collector
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		if cfg.Assignment.PublishResults {
			resultProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Assignments)
			defer resultProducer.Close()
			publisher := dispatch.NewBatchPublisher(resultProducer, cfg.Assignment.PublishBatchSize, cfg.Assignment.PublishInterval, m)
			publisher.Start(ctx)
			defer publisher.Close()
			deps.Results = publisher
			slog.Info("assignment publisher started", "topic", cfg.Kafka.Topics.Assignments)
		}
	}

	svc := service.New(cfg.Assignment, deps)
	svc.RefreshFormationCount(ctx)

	// RPC listener for controllers that hold a connection open.
	if cfg.RPC.Enabled {
		rpcServer := rpc.NewServer(cfg.Server.WriteTimeout)
		rpcServer.Observe(func(method string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
		})
		svc.RegisterRPC(rpcServer)
		slog.Info("rpc server starting", "port", cfg.RPC.Port, "methods", rpcServer.MethodCount())
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
	}

	mux := http.NewServeMux()
	handler.New(svc).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Trace(tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate))(chain)
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
		go limiter.RunCleanup(ctx, cfg.RateLimit.Window)
		chain = middleware.RateLimit(limiter)(chain)
	}
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

	slog.Info("assigner listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("assigner stopped")
}
