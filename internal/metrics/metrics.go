package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tripsync"

// Metrics holds every collector the client exports.
type Metrics struct {
	connectionStatus  *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec
	connects          *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesInvalid     prometheus.Counter
	handlerPanics     *prometheus.CounterVec
	conflicts         prometheus.Counter
	evictions         prometheus.Counter
	registryEntries   prometheus.Gauge
	resyncRuns        *prometheus.CounterVec
}

// statuses lists every value the connection_status gauge is set for, so
// switching status zeroes the previous one.
var statuses = []string{"disconnected", "connecting", "connected", "error", "duplicate_connection"}

// New creates the collectors and registers them with reg. A nil reg
// skips registration (tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the current status of each trip connection.",
		}, []string{"trip", "status"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled per trip.",
		}, []string{"trip"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Manager connect calls by result.",
		}, []string{"result"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid inbound frames by event type.",
		}, []string{"type"}),
		framesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_invalid_total",
			Help:      "Inbound frames rejected by validation.",
		}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered panics in event handlers.",
		}, []string{"type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordination_conflicts_total",
			Help:      "Connect calls refused because another owner holds the trip.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_evictions_total",
			Help:      "Connections closed after the server reported a duplicate.",
		}),
		registryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Connection registry entries owned by this instance.",
		}),
		resyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_runs_total",
			Help:      "Trip resyncs by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectionStatus,
			m.reconnectAttempts,
			m.connects,
			m.framesReceived,
			m.framesInvalid,
			m.handlerPanics,
			m.conflicts,
			m.evictions,
			m.registryEntries,
			m.resyncRuns,
		)
	}
	return m
}

// SetConnectionStatus marks status as current for trip.
func (m *Metrics) SetConnectionStatus(trip, status string) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.connectionStatus.WithLabelValues(trip, s).Set(v)
	}
}

// ForgetTrip drops the per-trip series.
func (m *Metrics) ForgetTrip(trip string) {
	if m == nil {
		return
	}
	m.connectionStatus.DeletePartialMatch(prometheus.Labels{"trip": trip})
	m.reconnectAttempts.DeleteLabelValues(trip)
}

func (m *Metrics) ReconnectAttempt(trip string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(trip).Inc()
}

// Connect records a manager connect result: "ok", "conflict" or "error".
func (m *Metrics) Connect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
	if result == "conflict" {
		m.conflicts.Inc()
	}
}

func (m *Metrics) FrameReceived(eventType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) FrameInvalid() {
	if m == nil {
		return
	}
	m.framesInvalid.Inc()
}

func (m *Metrics) HandlerPanic(eventType string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) SetRegistryEntries(n int) {
	if m == nil {
		return
	}
	m.registryEntries.Set(float64(n))
}

// Resync records a resync result: "ok" or "error".
func (m *Metrics) Resync(result string) {
	if m == nil {
		return
	}
	m.resyncRuns.WithLabelValues(result).Inc()
}
