package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the platform-level metrics shared by every component.
// Detector metrics are registered by the beat processor itself.
type Metrics struct {
	ComponentStatus   *prometheus.GaugeVec
	HealthStatus      *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "corazonn",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "corazonn",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health status (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "corazonn",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "corazonn",
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages sent by output components",
			},
			[]string{"component", "destination"},
		),

		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "corazonn",
				Subsystem: "messages",
				Name:      "publish_duration_seconds",
				Help:      "Time spent delivering one message to an output",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "corazonn",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "corazonn",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "corazonn",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "corazonn",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}
}

// RecordComponentStatus updates a component's lifecycle state
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordHealth updates a component's health gauge
func (c *Metrics) RecordHealth(component string, healthy, degraded bool) {
	value := 0.0
	switch {
	case healthy:
		value = 2
	case degraded:
		value = 1
	}
	c.HealthStatus.WithLabelValues(component).Set(value)
}

// RecordError increments the error counter for a component and error kind
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordPublished counts one delivered message and its latency
func (c *Metrics) RecordPublished(component, destination string, duration time.Duration) {
	c.MessagesPublished.WithLabelValues(component, destination).Inc()
	c.PublishDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
