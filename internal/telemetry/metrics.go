package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keygate/internal/constants"
	"keygate/internal/protocol"
)

// Connection results.
const (
	ConnAccepted        = "accepted"
	ConnRejectedGlobal  = "rejected_global"
	ConnRejectedAddress = "rejected_address"
)

// Session close reasons.
const (
	CloseIdle     = "idle"
	ClosePeer     = "peer"
	CloseError    = "error"
	CloseShutdown = "shutdown"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide. All methods are safe on a nil receiver.
type Metrics struct {
	registry       *prometheus.Registry
	connections    *prometheus.CounterVec
	activeSessions prometheus.Gauge
	frames         *prometheus.CounterVec
	sessionCloses  *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	connectedAddrs prometheus.GaugeFunc
	windowAddrs    prometheus.GaugeFunc
}

func New() *Metrics {
	ns := constants.AppName
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_total",
			Help:      "Accepted connections by admission result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_sessions",
			Help:      "Sessions currently open.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_total",
			Help:      "Frames answered, by response token.",
		}, []string{"token"}),
		sessionCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "session_closes_total",
			Help:      "Closed sessions by reason.",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "alerts_total",
			Help:      "Alert events by delivery result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.connections,
		m.activeSessions,
		m.frames,
		m.sessionCloses,
		m.alerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, tok := range protocol.Tokens {
		m.frames.WithLabelValues(tok.String())
	}
	for _, r := range []string{ConnAccepted, ConnRejectedGlobal, ConnRejectedAddress} {
		m.connections.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Connection(result string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionCloses.WithLabelValues(reason).Inc()
}

func (m *Metrics) Frame(tok protocol.Token) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(tok.String()).Inc()
}

// WatchAddresses exports the number of addresses holding a session and
// the number tracked by the request window. Call it once per Metrics.
func (m *Metrics) WatchAddresses(connected, windowed func() int) {
	if m == nil {
		return
	}
	m.connectedAddrs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: constants.AppName,
		Name:      "connected_addresses",
		Help:      "Addresses with at least one open session.",
	}, func() float64 { return float64(connected()) })
	m.windowAddrs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: constants.AppName,
		Name:      "rate_window_addresses",
		Help:      "Addresses with frames inside the rate window.",
	}, func() float64 { return float64(windowed()) })
	m.registry.MustRegister(m.connectedAddrs, m.windowAddrs)
}

// AlertResult matches alert.WithResultHook once converted to a string.
func (m *Metrics) AlertResult(result string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(result).Inc()
}
