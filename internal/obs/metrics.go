package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Meter receives the server's connection and request measurements.
// Implementations must be safe for concurrent use.
type Meter interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestServed(status int, d time.Duration)
	ProtocolError(reason string)
	ResponderFailed()
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) ConnectionOpened() {}
func (NopMeter) ConnectionClosed() {}
func (NopMeter) RequestServed(int, time.Duration) {}
func (NopMeter) ProtocolError(string) {}
func (NopMeter) ResponderFailed() {}

// PrometheusMeter records measurements as Prometheus metrics.
type PrometheusMeter struct {
	accepted        prometheus.Counter
	active          prometheus.Gauge
	requests        *prometheus.CounterVec
	duration        prometheus.Histogram
	protocolErrors  *prometheus.CounterVec
	responderErrors prometheus.Counter
}

// NewPrometheusMeter creates the server metrics under namespace and registers
// them with reg. If reg is nil, a private registry is used.
func NewPrometheusMeter(reg prometheus.Registerer, namespace string) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "website"
	}
	m := &PrometheusMeter{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listening endpoint.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections with a live pipeline.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Responses written, by status code.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from decoded request to response ready.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections torn down by a protocol error, by reason.",
		}, []string{"reason"}),
		responderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_errors_total",
			Help:      "Requests whose responder failed and got a generated error response.",
		}),
	}
	reg.MustRegister(m.accepted, m.active, m.requests, m.duration, m.protocolErrors, m.responderErrors)
	return m
}

func (m *PrometheusMeter) ConnectionOpened() {
	m.accepted.Inc()
	m.active.Inc()
}

func (m *PrometheusMeter) ConnectionClosed() { m.active.Dec() }

func (m *PrometheusMeter) RequestServed(status int, d time.Duration) {
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *PrometheusMeter) ProtocolError(reason string) {
	m.protocolErrors.WithLabelValues(reason).Inc()
}

func (m *PrometheusMeter) ResponderFailed() { m.responderErrors.Inc() }
