// Package main provides the worker application entry point.
// The worker drives scheduled sessions through their phase timeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kairoslabs/session-orchestrator/internal/adapter/aiclient"
	"github.com/kairoslabs/session-orchestrator/internal/adapter/broadcaster"
	"github.com/kairoslabs/session-orchestrator/internal/adapter/clock"
	"github.com/kairoslabs/session-orchestrator/internal/adapter/hotstore"
	"github.com/kairoslabs/session-orchestrator/internal/adapter/repo/postgres"
	"github.com/kairoslabs/session-orchestrator/internal/config"
	"github.com/kairoslabs/session-orchestrator/internal/distributor"
	"github.com/kairoslabs/session-orchestrator/internal/leaderlease"
	"github.com/kairoslabs/session-orchestrator/internal/lobby"
	"github.com/kairoslabs/session-orchestrator/internal/observability"
	"github.com/kairoslabs/session-orchestrator/internal/phase"
	"github.com/kairoslabs/session-orchestrator/internal/selector"
	"github.com/kairoslabs/session-orchestrator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.MetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := dialPostgres(ctx, cfg)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store, err := dialHotStore(ctx, cfg)
	if err != nil {
		slog.Error("hot store connection failed", slog.Any("error", err))
		os.Exit(1)
	}

	sessionRepo := postgres.NewSessionRepo(pool)
	aiClient := aiclient.New(cfg.AIAPIBaseURL, cfg.AICallTimeout)
	bc := broadcaster.New(store)
	lobbies := lobby.New(store, logger)
	dist := distributor.New(sessionRepo, store, logger)
	sel := selector.New(sessionRepo, store, cfg.SelectorPollInterval, logger)

	dispatcher := &phase.Dispatcher{
		Store:       store,
		Broadcaster: bc,
		AI:          aiClient,
		Lobbies:     lobbies,
		Distributor: dist,
		AgentID:     cfg.AIAgentID,
		FanOut:      cfg.LobbyFanOutConcurrency,
		MaxPerLobby: cfg.MaxPlayersPerLobby,
		Log:         logger,
	}

	w := worker.New(sel, dispatcher, clock.New(), logger)
	if cfg.LeaseEnabled {
		rdb := store.Client()
		w = w.WithLease(func(sessionID int64) *leaderlease.Lease {
			return leaderlease.New(rdb, sessionID, cfg.LeaseTTL)
		}, cfg.LeaseRenewInterval)
		slog.Info("leader-election lease enabled", slog.Duration("ttl", cfg.LeaseTTL))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := w.Run(runCtx); err != nil {
			slog.Error("worker loop stopped", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}

// dialPostgres retries the initial pool construction with exponential
// backoff; once connected, per-call timeouts (not retries) govern query
// behavior (spec.md §5).
func dialPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	op := func() error {
		p, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Warn("postgres dial attempt failed, retrying", slog.Any("error", err))
			return err
		}
		pool = p
		return nil
	}
	if err := backoff.Retry(op, startupBackoff(cfg)); err != nil {
		return nil, err
	}
	return pool, nil
}

// dialHotStore retries the initial Redis connectivity check with the same
// backoff policy as dialPostgres.
func dialHotStore(ctx context.Context, cfg config.Config) (*hotstore.Store, error) {
	var store *hotstore.Store
	op := func() error {
		s, err := hotstore.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		if err := pingRedis(ctx, s); err != nil {
			slog.Warn("redis dial attempt failed, retrying", slog.Any("error", err))
			return err
		}
		store = s
		return nil
	}
	if err := backoff.Retry(op, startupBackoff(cfg)); err != nil {
		return nil, err
	}
	return store, nil
}

func pingRedis(ctx context.Context, s *hotstore.Store) error {
	_, err := s.Exists(ctx, "startup-ping-probe")
	return err
}

func startupBackoff(cfg config.Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.StartupBackoffInitialInterval
	b.MaxInterval = cfg.StartupBackoffMaxInterval
	b.MaxElapsedTime = cfg.StartupBackoffMaxElapsedTime
	return b
}

