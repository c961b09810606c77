package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/protocol"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Connection(ConnAccepted)
	m.Connection(ConnAccepted)
	m.Connection(ConnRejectedAddress)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(CloseIdle)
	m.Frame(protocol.TokenAccess)
	m.Frame(protocol.TokenAccess)
	m.Frame(protocol.TokenUnknownKey)
	m.AlertResult("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections.WithLabelValues(ConnAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues(ConnRejectedAddress)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connections.WithLabelValues(ConnRejectedGlobal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionCloses.WithLabelValues(CloseIdle)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("authaccess")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("notkey")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("sent")))

	assert.Equal(t, len(protocol.Tokens), testutil.CollectAndCount(m.frames))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Connection(ConnAccepted)
		m.SessionOpened()
		m.SessionClosed(ClosePeer)
		m.Frame(protocol.TokenAccess)
		m.AlertResult("sent")
		_ = m.Registry()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Frame(protocol.TokenExpired)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `keygate_frames_total{token="exptime"} 1`)
	assert.Contains(t, string(body), "keygate_active_sessions")
}

func TestMetrics_WatchAddresses(t *testing.T) {
	m := New()
	connected, windowed := 3, 7
	m.WatchAddresses(func() int { return connected }, func() int { return windowed })

	assert.Equal(t, 3.0, testutil.ToFloat64(m.connectedAddrs))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.windowAddrs))

	connected = 0
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectedAddrs))

	var nilMetrics *Metrics
	nilMetrics.WatchAddresses(func() int { return 1 }, func() int { return 1 })
}
