package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.ObserveAnalyze(OutcomeSuccess)
	m.ObserveAnalyze(OutcomeQuotaExceeded)
	m.ObserveAnalyze(OutcomeQuotaExceeded)
	m.ObserveExtraction(time.Second, "ok")
	m.ObserveExtraction(time.Second, "timeout")
	m.ObserveRateLimited()
	m.ObserveLogin("success")

	body := scrape(t, m)
	assert.Contains(t, body, `test_analyze_requests_total{outcome="success"} 1`)
	assert.Contains(t, body, "test_quota_rejections_total 2")
	assert.Contains(t, body, `test_extractor_failures_total{reason="timeout"} 1`)
	assert.Contains(t, body, "test_http_rate_limited_total 1")
	assert.Contains(t, body, `test_auth_login_attempts_total{result="success"} 1`)
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.ObserveHTTP("/api/me", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.SessionCreated()

	body := scrape(t, m)
	assert.Contains(t, body, `test_http_requests_total{method="GET",route="/api/me",status="200"} 1`)
	assert.Contains(t, body, "test_session_created_minus_destroyed 1")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveHTTP("/", "GET", 200, time.Millisecond)
		m.ObserveAnalyze(OutcomeSuccess)
		m.ObserveExtraction(time.Second, "exit")
		m.ObserveRateLimited()
		m.ObserveLogin("failure")
		m.SessionCreated()
		m.SessionDestroyed()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
