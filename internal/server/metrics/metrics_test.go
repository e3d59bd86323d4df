package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetConnections("websocket", 3)
	m.EventDelivered("issues")
	m.EventDropped()
	m.Request("subscribe", 200)
	m.Webhook("issues", "ok")
	m.ObserveSync(1, nil)
	m.SetCachedIssues(1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectors(t *testing.T) {
	m := New()
	m.SetConnections("websocket", 2)
	m.EventDelivered("issues")
	m.EventDelivered("issues")
	m.EventDropped()
	m.ObserveSync(0.2, errors.New("boom"))
	m.SetCachedIssues(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues("websocket")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsDelivered.WithLabelValues("issues")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncErrors))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.cachedIssues))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Request("synchronize", http.StatusTooManyRequests)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `livesync_socket_requests_total{action="synchronize",code="Too Many Requests"} 1`)
	assert.Contains(t, string(body), "livesync_cached_issues")
}
