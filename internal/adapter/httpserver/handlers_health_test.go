package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleStartup(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "settings_store", Check: healthOK},
		HealthCheck{Name: "capture_dirs", Check: healthOK},
	))

	rec := ts.doWithKey(http.MethodGet, "/health/startup", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleStartup_StoreDown(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "settings_store", Check: healthErr("connection refused")},
		HealthCheck{Name: "capture_dirs", Check: healthOK},
	))

	rec := ts.doWithKey(http.MethodGet, "/health/startup", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"failed_check":"settings_store"`)
}

func TestHandleLiveness(t *testing.T) {
	ts := newTestServer(t)
	ts.clock.Advance(90 * time.Second)

	rec := ts.doWithKey(http.MethodGet, "/health/live", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90}`, rec.Body.String())
}

func TestHandleReadiness_AllHealthy(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "settings_store", Check: healthOK},
		HealthCheck{Name: "capture_dirs", Check: healthOK},
	))

	rec := ts.doWithKey(http.MethodGet, "/health/ready", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleReadiness_ReportsFirstFailure(t *testing.T) {
	ts := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "settings_store", Check: healthOK},
		HealthCheck{Name: "capture_dirs", Check: healthErr("recordings is not writable")},
		HealthCheck{Name: "never_reached", Check: healthErr("unexpected")},
	))

	rec := ts.doWithKey(http.MethodGet, "/health/ready", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed_check":"capture_dirs"`)
	assert.Contains(t, rec.Body.String(), `"error":"recordings is not writable"`)
	assert.NotContains(t, rec.Body.String(), "never_reached")
}

func TestHandleVersion(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doWithKey(http.MethodGet, "/version", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"build_time"`)
	assert.Contains(t, body, `"go_version"`)
}
