// Package metrics exposes Prometheus instrumentation for device connections.
//
// A nil *Metrics is valid and records nothing, so the connection code can call
// it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "tuyalocal"

// Metrics holds the collectors for one registry.
type Metrics struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	handshakes       *prometheus.CounterVec
	pings            *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	readyConnections prometheus.Gauge
	droppedEvents    prometheus.Counter
}

// New registers the collectors with reg. Use a fresh prometheus.NewRegistry()
// per test; registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to devices by command",
		}, []string{"command"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from devices by command",
		}, []string{"command"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames rejected by error type",
		}, []string{"error_type"}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handshakes_total",
			Help:      "Session key negotiations by result",
		}, []string{"result"}),

		pings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat ticks by outcome (ok, failed, skipped)",
		}, []string{"result"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Round trip time of requests awaiting a response",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),

		readyConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ready_connections",
			Help:      "Connections currently in the ready state",
		}),

		droppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dropped_events_total",
			Help:      "Packets dropped because a subscriber was not keeping up",
		}),
	}
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(command string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(command).Inc()
}

// FrameReceived counts a decoded inbound frame.
func (m *Metrics) FrameReceived(command string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(command).Inc()
}

// DecodeError counts a rejected inbound frame.
func (m *Metrics) DecodeError(errorType string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(errorType).Inc()
}

// Handshake counts a session key negotiation outcome.
func (m *Metrics) Handshake(ok bool) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result(ok)).Inc()
}

// Heartbeat counts a heartbeat tick. outcome is "ok", "failed" or "skipped".
func (m *Metrics) Heartbeat(outcome string) {
	if m == nil {
		return
	}
	m.pings.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the duration of a request.
func (m *Metrics) ObserveRequest(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ConnectionReady adjusts the ready connection gauge.
func (m *Metrics) ConnectionReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.readyConnections.Inc()
	} else {
		m.readyConnections.Dec()
	}
}

// EventDropped counts a packet a slow subscriber missed.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
