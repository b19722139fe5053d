package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/streamdvr/internal/adapter/discord"
	"github.com/pscheid92/streamdvr/internal/adapter/httpserver"
	"github.com/pscheid92/streamdvr/internal/adapter/memory"
	"github.com/pscheid92/streamdvr/internal/adapter/metrics"
	"github.com/pscheid92/streamdvr/internal/adapter/postgres"
	"github.com/pscheid92/streamdvr/internal/adapter/redis"
	"github.com/pscheid92/streamdvr/internal/adapter/twitch"
	"github.com/pscheid92/streamdvr/internal/adapter/websocket"
	"github.com/pscheid92/streamdvr/internal/app"
	"github.com/pscheid92/streamdvr/internal/capture"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/config"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"github.com/pscheid92/streamdvr/internal/platform/version"
	"github.com/pscheid92/streamdvr/internal/process"
	"golang.org/x/sync/errgroup"
)

const (
	webhookBuffer         = 16
	startupTimeout        = 30 * time.Second
	httpShutdownTimeout   = 10 * time.Second
	revokeTimeout         = 5 * time.Second
	subscribeStartupDelay = 2 * time.Second
)

type settingsBackend struct {
	store domain.SettingsStore
	check httpserver.HealthCheck
	close func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) settingsBackend {
	client, err := redis.NewClient(ctx, cfg.RedisURL,
		redis.NewMetricsHook(m),
		redis.NewCircuitBreakerHook(slog.Default(), m),
	)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return settingsBackend{
		store: redis.NewSettingsStore(client),
		check: httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}},
		close: func() { _ = client.Close() },
	}
}

func setupPostgres(ctx context.Context, cfg *config.Config, m *metrics.PostgresMetrics) settingsBackend {
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(m))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return settingsBackend{
		store: postgres.NewSettingsStore(pool),
		check: httpserver.HealthCheck{Name: "postgres", Check: pool.Ping},
		close: pool.Close,
	}
}

func setupSettings(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, breakers *metrics.BreakerMetrics) settingsBackend {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return setupRedis(ctx, cfg, metrics.NewRedisMetrics(reg, breakers))
	case config.StorePostgres:
		return setupPostgres(ctx, cfg, metrics.NewPostgresMetrics(reg))
	default:
		slog.Warn("Using in-memory settings store, settings are lost on restart")
		return settingsBackend{
			store: memory.NewSettingsStore(),
			check: httpserver.HealthCheck{Name: "settings", Check: func(context.Context) error { return nil }},
			close: func() {},
		}
	}
}

func seedSettings(ctx context.Context, cfg *config.Config, store domain.SettingsStore) {
	err := app.SeedSettings(ctx, store, map[string]string{
		domain.SettingTwitchClientID:       cfg.TwitchClientID,
		domain.SettingTwitchClientSecret:   cfg.TwitchClientSecret,
		domain.SettingDiscordWebhookURL:    cfg.DiscordWebhookURL,
		domain.SettingStreamlinkExtraFlags: cfg.StreamlinkExtraFlags,
		domain.SettingFFmpegExtraFlags:     cfg.FFmpegExtraFlags,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to seed settings", "error", err)
		os.Exit(1)
	}
}

// resolveBinary keeps the configured name when it cannot be found so the
// failure surfaces per capture instead of preventing startup.
func resolveBinary(name string) string {
	path, err := process.ResolveBinary(name)
	if err != nil {
		slog.Warn("Capture binary not found", "binary", name, "error", err)
		return name
	}
	return path
}

func ensureDirs(dirs ...string) httpserver.HealthCheck {
	return httpserver.HealthCheck{Name: "capture_dirs", Check: func(context.Context) error {
		for _, dir := range dirs {
			if err := os.MkdirAll(dir, 0o775); err != nil {
				return fmt.Errorf("%s is not usable: %w", dir, err)
			}
		}
		return nil
	}}
}

// shutdown stops accepting work, lets running captures finish within the
// grace period and aborts whatever is left.
func shutdown(cfg *config.Config, srv *httpserver.Server, hub *websocket.Hub, stopWorker context.CancelFunc, worker *capture.Worker, workerDone <-chan struct{}, session *twitch.Session) {
	slog.Info("Shutdown signal received, cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("Captures still running after grace period, aborting", "in_flight", worker.InFlight(), "grace_period", cfg.ShutdownTimeout)
		worker.Abort()
		<-workerDone
	}
	hub.Close()

	revokeCtx, cancelRevoke := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancelRevoke()
	if err := session.Revoke(revokeCtx); err != nil {
		slog.Warn("Failed to revoke app access token", "error", err)
	}
}

func main() {
	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version, "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	breakers := metrics.NewBreakerMetrics(reg)

	setupCtx, cancelSetup := context.WithTimeout(ctx, startupTimeout)
	backend := setupSettings(setupCtx, cfg, reg, breakers)
	defer backend.close()
	seedSettings(setupCtx, cfg, backend.store)
	cancelSetup()

	// Twitch
	session := twitch.NewSession(backend.store, twitch.WithMetrics(metrics.NewTwitchMetrics(reg)))
	client := twitch.NewClient(session)
	subscriptions := twitch.NewSubscriptionManager(client, cfg.WebhookCallbackURL(), cfg.TwitchWebhookSecret)
	resolver := twitch.NewUserResolver(client, backend.store, slog.Default())

	// Capture
	var (
		queue  *capture.Queue
		worker *capture.Worker
	)
	captureMetrics := metrics.NewCaptureMetrics(reg,
		func() int { return queue.Pending() },
		func() int { return worker.InFlight() },
	)
	hub := websocket.NewHub(
		websocket.NewCheckOrigin(cfg.PublicURL, !cfg.IsProduction()),
		func() []domain.CaptureRequest { return queue.Captures() },
		websocket.WithMetrics(metrics.NewWebSocketMetrics(reg)),
		websocket.WithLogger(slog.Default()),
	)
	queue = capture.NewQueue(capture.WithQueueObservers(captureMetrics, hub))
	pipeline := capture.NewPipeline(capture.PipelineConfig{
		StreamlinkPath: resolveBinary(cfg.StreamlinkPath),
		FFmpegPath:     resolveBinary(cfg.FFmpegPath),
		OutputDir:      cfg.OutputDir,
		LogsDir:        cfg.LogsDir,
	}, backend.store, queue, capture.WithPipelineObservers(captureMetrics, hub))
	worker = capture.NewWorker(queue, pipeline, slog.Default())

	// Events
	webhook := twitch.NewWebhookHandler(cfg.TwitchWebhookSecret, webhookBuffer)
	notifier := discord.NewNotifier(backend.store, discord.WithMetrics(metrics.NewDiscordMetrics(reg, breakers)))
	dispatcher := twitch.NewDispatcher(webhook.Notifications(), queue, notifier, twitch.NewChannelStatusCache(), slog.Default())

	admin := app.NewSubscriptionAdmin(resolver, subscriptions, slog.Default())
	srv := httpserver.NewServer(cfg, httpserver.Services{
		Captures:      app.NewCaptureService(queue, client, slog.Default()),
		Twitch:        app.NewTwitchService(client),
		Subscriptions: admin,
		Settings:      app.NewSettingsService(backend.store),
	}, httpserver.Handlers{
		Webhook: webhook,
		Feed:    hub,
		Metrics: metrics.Handler(reg),
	}, []httpserver.HealthCheck{
		backend.check,
		ensureDirs(cfg.OutputDir, cfg.LogsDir),
	}, httpserver.WithHTTPMetrics(metrics.NewHTTPMetrics(reg)))

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer close(workerDone)
		return worker.Run(workerCtx)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		// Twitch verifies new subscriptions against the callback, so the
		// listener has to be up first.
		select {
		case <-time.After(subscribeStartupDelay):
		case <-gctx.Done():
			return nil
		}
		if logins := cfg.Broadcasters(); len(logins) > 0 {
			failed := admin.SubscribeBroadcasters(gctx, logins)
			slog.Info("Subscribed configured broadcasters", "total", len(logins), "failed", failed)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, srv, hub, stopWorker, worker, workerDone, session)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		backend.close()
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
