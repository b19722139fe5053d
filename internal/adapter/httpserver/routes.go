package httpserver

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/streamdvr/internal/adapter/metrics"
	"github.com/pscheid92/streamdvr/internal/adapter/twitch"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
)

const (
	webhookRoute = "/hook/twitch"
	feedRoute    = "/ws/captures"

	manualCaptureRate  = 0.2 // one request every five seconds per client
	manualCaptureBurst = 3
)

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware(
			metrics.SkipRoute(feedRoute),
			metrics.WebhookRoute(webhookRoute, twitch.MessageTypeHeader, twitch.MessageTypes...),
		))
	}
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	s.registerHealthRoutes()
	s.registerAPIRoutes()

	if s.webhookHandler != nil {
		s.echo.POST(webhookRoute, echo.WrapHandler(s.webhookHandler))
	}
	if s.feedHandler != nil {
		s.echo.GET(feedRoute, echo.WrapHandler(s.feedHandler), s.requireAPIKey())
	}
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api", s.requireAPIKey())

	api.GET("/captures", s.handleListCaptures)
	api.GET("/captures/:id", s.handleGetCapture)
	api.POST("/captures", s.handleForceCapture, newRateLimiter(manualCaptureRate, manualCaptureBurst))

	api.GET("/twitch/streams", s.handleGetStreams)
	api.GET("/twitch/videos", s.handleGetVideo)

	api.GET("/subscriptions", s.handleListSubscriptions)
	api.POST("/subscriptions/:login", s.handleSubscribe)
	api.DELETE("/subscriptions/:login", s.handleUnsubscribe)

	api.GET("/settings", s.handleListSettings)
	api.GET("/settings/:key", s.handleGetSetting)
	api.PUT("/settings/:key", s.handlePutSetting)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
