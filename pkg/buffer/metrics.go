package buffer

import (
	"github.com/c360/corazonn/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// queueMetrics mirrors queue statistics into Prometheus.
type queueMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &queueMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "corazonn",
			Subsystem:   "queue",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of items written to the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "corazonn",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Total number of items dropped by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "corazonn",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of queued items",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "corazonn",
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Queue utilization (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
