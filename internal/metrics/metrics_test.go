package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordsAndExposes(t *testing.T) {
	m := New()
	m.ObserveRecompute(ScopeInterview, "ok", 5*time.Millisecond)
	m.ObserveRecompute(ScopeInterview, "ok", 5*time.Millisecond)
	m.ObserveRecompute(ScopeGlobal, "stale", time.Millisecond)
	m.StoreRetry()
	m.SetStateCounts(map[string]int{"dirty": 2, "clean": 5})
	m.ObserveHTTP("/api/status", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `interviewstats_recomputes_total{result="ok",scope="interview"} 2`)
	assert.Contains(t, string(body), "interviewstats_store_retries_total 1")
	assert.Contains(t, string(body), `interviewstats_interviews{state="clean"} 5`)
	assert.Contains(t, string(body), `interviewstats_http_requests_total{code="200",route="/api/status"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRecompute(ScopeGlobal, "ok", time.Second)
	m.StoreRetry()
	m.PublishError("amqp")
	m.GlobalUpdated(time.Now())
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}
