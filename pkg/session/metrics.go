package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus session metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tether").
	Namespace string

	// Subsystem is the metrics subsystem (default: "session").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus session metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus counters for one session. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	framesReceived      prometheus.Counter
	framesSent          prometheus.Counter
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
	decodeErrors        prometheus.Counter
	reconnects          prometheus.Counter
	correlationTimeouts prometheus.Counter
	heartbeats          prometheus.Counter
}

// NewMetrics creates and registers the session metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "tether",
		Subsystem: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Metrics{
		framesReceived:      counter("frames_received_total", "Inbound frames read from the transport."),
		framesSent:          counter("frames_sent_total", "Outbound frames written to the transport."),
		bytesReceived:       counter("bytes_received_total", "Inbound bytes read from the transport."),
		bytesSent:           counter("bytes_sent_total", "Outbound bytes written to the transport."),
		decodeErrors:        counter("decode_errors_total", "Inbound frames dropped because they failed to decode."),
		reconnects:          counter("reconnects_total", "Reconnect attempts scheduled after unexpected closure."),
		correlationTimeouts: counter("correlation_timeouts_total", "Correlated sends that saw no echo within the timeout."),
		heartbeats:          counter("heartbeats_total", "Heartbeat pings sent."),
	}
}

func (m *Metrics) frameReceived(n int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) frameSent(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) correlationTimeout() {
	if m == nil {
		return
	}
	m.correlationTimeouts.Inc()
}

func (m *Metrics) heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}
