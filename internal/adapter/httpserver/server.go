// Package httpserver serves the operator API, the EventSub webhook, the
// capture feed and the operational endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/streamdvr/internal/adapter/metrics"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/config"
)

// Services are the application services behind the /api routes.
type Services struct {
	Captures      domain.CaptureService
	Twitch        domain.TwitchService
	Subscriptions domain.SubscriptionAdmin
	Settings      domain.SettingsService
}

// Handlers are mounted verbatim. Nil handlers are not routed.
type Handlers struct {
	Webhook http.Handler
	Feed    http.Handler
	Metrics http.Handler
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	captures      domain.CaptureService
	twitch        domain.TwitchService
	subscriptions domain.SubscriptionAdmin
	settings      domain.SettingsService

	webhookHandler http.Handler
	feedHandler    http.Handler
	metricsHandler http.Handler
	httpMetrics    *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

func WithHTTPMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.httpMetrics = m }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func NewServer(cfg *config.Config, services Services, handlers Handlers, healthChecks []HealthCheck, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clockwork.NewRealClock(),
		captures:       services.Captures,
		twitch:         services.Twitch,
		subscriptions:  services.Subscriptions,
		settings:       services.Settings,
		webhookHandler: handlers.Webhook,
		feedHandler:    handlers.Feed,
		metricsHandler: handlers.Metrics,
		healthChecks:   healthChecks,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
