package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux_ReadyFollowsProbe(t *testing.T) {
	var ready atomic.Bool
	mux := newMux(NewRegistry(), ready.Load)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.Store(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMux_MetricsExposeRecordedValues(t *testing.T) {
	r := NewRegistry()
	r.RecordEvent("orders", "map", 3*time.Millisecond)
	r.RecordRetryNotification("orders")
	r.RecordConnectionAttempt("success", "")
	r.SetPaused("orders", true)

	rec := httptest.NewRecorder()
	newMux(r, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`mqsource_events_total{kind="map",queue="orders"} 1`,
		`mqsource_retry_notifications_total{queue="orders"} 1`,
		`mqsource_connections_open 1`,
		`mqsource_paused{queue="orders"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}
