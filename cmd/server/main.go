package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/projectpulse/projectpulse/internal/adapter/httpserver"
	"github.com/projectpulse/projectpulse/internal/adapter/metrics"
	"github.com/projectpulse/projectpulse/internal/adapter/postgres"
	"github.com/projectpulse/projectpulse/internal/adapter/redis"
	"github.com/projectpulse/projectpulse/internal/logging"
	"github.com/projectpulse/projectpulse/internal/platform/config"
	"github.com/projectpulse/projectpulse/internal/platform/retry"
	"github.com/projectpulse/projectpulse/internal/platform/version"
	"github.com/projectpulse/projectpulse/internal/realtime"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The database may come up after us during a rolling deploy.
	connectPolicy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, connectPolicy, func(error) retry.Action { return retry.Retry }, func() (*pgxpool.Pool, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.Connect(connectCtx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, hub *realtime.Hub, relay *redis.Relay) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()

		if relay != nil {
			relay.Close()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", build.Version, "commit", build.Commit)

	pool := setupDB(cfg)
	defer pool.Close()

	promRegistry := metrics.NewRegistry()
	realtimeMetrics := metrics.NewRealtimeMetrics(promRegistry)

	projectRepo := postgres.NewProjectRepo(pool)
	registry := realtime.NewRegistry()

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}

	// Redis is optional; without it the instance runs standalone and
	// cross-instance event relaying is disabled.
	var (
		redisClient *goredis.Client
		relay       *redis.Relay
	)
	if cfg.RedisURL != "" {
		redisClient = setupRedis(context.Background(), cfg)
		defer func() { _ = redisClient.Close() }()
		relay = redis.NewRelay(redisClient)
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	// Pass nil explicitly to avoid a typed-nil interface inside the broadcaster.
	var broadcaster *realtime.Broadcaster
	if relay != nil {
		broadcaster = realtime.NewBroadcaster(registry, projectRepo, relay, clock, realtimeMetrics, cfg.RecentUpdatesLimit)
	} else {
		broadcaster = realtime.NewBroadcaster(registry, projectRepo, nil, clock, realtimeMetrics, cfg.RecentUpdatesLimit)
	}

	if relay != nil {
		relay.Start(context.Background(), broadcaster.HandleRelayEvent)
	}

	hub := realtime.NewHub(registry, broadcaster, clock, realtimeMetrics, cfg.HeartbeatInterval, cfg.MaxConnections)

	srv := httpserver.NewServer(cfg, hub, broadcaster, projectRepo, httpserver.AcceptAll, metrics.Handler(promRegistry), healthChecks)

	done := runGracefulShutdown(srv, hub, relay)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
