// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/genstream/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0", "default")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "default", resp.FeatureID)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_LivenessIgnoresComponents(t *testing.T) {
	m := NewManager("v1.0.0", "default")
	m.RegisterChecker(&mockChecker{name: "eventlog", status: StatusUnhealthy})

	assert.Equal(t, StatusHealthy, m.Health(context.Background(), false).Status)

	verbose := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, verbose.Status)
	assert.Len(t, verbose.Checks, 1)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{"no checkers", nil, true, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0", "default")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestManager_CheckTimeout(t *testing.T) {
	m := NewManager("v1.0.0", "default")
	m.timeout = 20 * time.Millisecond
	m.RegisterChecker(NewFuncChecker("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}))

	start := time.Now()
	resp := m.Ready(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, resp.Ready)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["slow"].Error)
}

func TestManager_ServeHealth(t *testing.T) {
	m := NewManager("v1.0.0", "checkout")
	m.RegisterChecker(&mockChecker{name: "test", status: StatusHealthy})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	m.ServeHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "checkout", resp.FeatureID)
	assert.Nil(t, resp.Checks)

	req = httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	w = httptest.NewRecorder()
	m.ServeHealth(w, req)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Checks, 1)
}

func TestManager_ServeComponents(t *testing.T) {
	m := NewManager("v1.0.0", "default")
	m.RegisterChecker(&mockChecker{name: "taskqueue", status: StatusDegraded})

	w := httptest.NewRecorder()
	m.ServeComponents(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Contains(t, resp.Checks, "taskqueue")
}

func TestManager_ServeReady(t *testing.T) {
	tests := []struct {
		name           string
		status         Status
		expectedStatus int
		expectedReady  bool
	}{
		{"healthy", StatusHealthy, http.StatusOK, true},
		{"degraded", StatusDegraded, http.StatusOK, true},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0", "default")
			m.RegisterChecker(&mockChecker{name: "test", status: tt.status})

			w := httptest.NewRecorder()
			m.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.expectedReady, resp.Ready)
		})
	}
}

func TestManager_ServeEncodingError(t *testing.T) {
	m := NewManager("v1.0.0", "default")
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	// Should not panic even if encoding fails
	m.ServeHealth(&brokenWriter{header: make(http.Header)}, req)
	m.ServeReady(&brokenWriter{header: make(http.Header)}, req)
}

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("eventlog", pingFunc(func(context.Context) error { return nil }))
	assert.Equal(t, "eventlog", ok.Name())
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	down := NewPingChecker("taskqueue", pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") }))
	res := down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "connection refused")
}

func TestStaticChecker(t *testing.T) {
	c := NewStaticChecker("eventlog", CheckResult{Status: StatusHealthy, Message: "in-process"})
	assert.Equal(t, "eventlog", c.Name())
	assert.Equal(t, "in-process", c.Check(context.Background()).Message)
}

func TestBreakerChecker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("eventlog_redis", 1, time.Minute)
	c := NewBreakerChecker(cb)
	assert.Equal(t, "breaker_eventlog_redis", c.Name())
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	_ = cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	half := NewBreakerChecker(fixedBreaker(resilience.StateHalfOpen))
	assert.Equal(t, StatusDegraded, half.Check(context.Background()).Status)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixedBreaker resilience.State

func (fixedBreaker) Name() string              { return "fixed" }
func (b fixedBreaker) State() resilience.State { return resilience.State(b) }

// Mock checker for testing
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

// brokenWriter is a mock ResponseWriter that always fails to write
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, assert.AnError // Always fail
}

func (w *brokenWriter) WriteHeader(int) {}
