package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// HTTPMetrics tracks the operator API. EventSub deliveries are counted on
// their own, labelled by message type.
type HTTPMetrics struct {
	RequestDuration   *prometheus.HistogramVec
	RequestsTotal     *prometheus.CounterVec
	InFlightGauge     prometheus.Gauge
	WebhookDeliveries *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests.",
		}, []string{"method", "route", "status_code"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of API requests currently being processed.",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "webhook_deliveries_total",
			Help:      "EventSub deliveries by message type and response status.",
		}, []string{"message_type", "status_code"}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge, m.WebhookDeliveries)
	return m
}

type webhookRule struct {
	header string
	types  map[string]bool
}

type routeRules struct {
	skip     map[string]bool
	webhooks map[string]webhookRule
}

// RouteOption changes how the middleware records a single route.
type RouteOption func(*routeRules)

// SkipRoute leaves route unrecorded, for long-lived connections whose
// lifetime would distort the request histogram.
func SkipRoute(route string) RouteOption {
	return func(r *routeRules) { r.skip[route] = true }
}

// WebhookRoute counts route as webhook deliveries, labelled with the value
// of typeHeader. The route is unauthenticated, so values outside types are
// recorded as "unknown".
func WebhookRoute(route, typeHeader string, types ...string) RouteOption {
	return func(r *routeRules) {
		rule := webhookRule{header: typeHeader, types: make(map[string]bool, len(types))}
		for _, t := range types {
			rule.types[t] = true
		}
		r.webhooks[route] = rule
	}
}

// Middleware records API requests. /metrics, /version and /health/* are
// never recorded.
func (m *HTTPMetrics) Middleware(opts ...RouteOption) echo.MiddlewareFunc {
	rules := routeRules{skip: map[string]bool{"/metrics": true, "/version": true}, webhooks: map[string]webhookRule{}}
	for _, opt := range opts {
		opt(&rules)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if rules.skip[route] || strings.HasPrefix(route, "/health/") {
				return next(c)
			}

			if rule, ok := rules.webhooks[route]; ok {
				err := next(c)
				messageType := c.Request().Header.Get(rule.header)
				if !rule.types[messageType] {
					messageType = "unknown"
				}
				m.WebhookDeliveries.WithLabelValues(messageType, statusCode(c, err)).Inc()
				return err
			}

			if route == "" {
				route = unmatchedRoute
			}

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			var status string
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				m.RequestDuration.WithLabelValues(c.Request().Method, route, status).Observe(v)
			}))

			err := next(c)
			status = statusCode(c, err)
			timer.ObserveDuration()
			m.RequestsTotal.WithLabelValues(c.Request().Method, route, status).Inc()
			return err
		}
	}
}

// statusCode is the status the client will see, including errors that
// outer middleware has yet to render.
func statusCode(c echo.Context, err error) string {
	if err == nil || c.Response().Committed {
		return strconv.Itoa(c.Response().Status)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return strconv.Itoa(he.Code)
	}
	return strconv.Itoa(http.StatusInternalServerError)
}
