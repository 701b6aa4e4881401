package beat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// processorMetrics holds Prometheus metrics for the beat processor.
type processorMetrics struct {
	samples     *prometheus.CounterVec // By channel and outcome (accepted/out_of_order)
	gaps        *prometheus.CounterVec // By channel
	transitions *prometheus.CounterVec // By channel and target phase
	beats       *prometheus.CounterVec // By channel
	discarded   *prometheus.CounterVec // By channel and reason (implausible_ibi/first_beat)
	dropped     *prometheus.CounterVec // By channel, bundles lost to a full queue

	phase *prometheus.GaugeVec // By channel
	bpm   *prometheus.GaugeVec // By channel
	noise *prometheus.GaugeVec // By channel
}

// newProcessorMetrics creates and registers processor metrics with the provided registry.
func newProcessorMetrics(registry *metric.MetricsRegistry) (*processorMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &processorMetrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "samples_total",
			Help:      "Samples seen per channel by outcome",
		}, []string{"channel", "outcome"}),

		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "gaps_total",
			Help:      "Timestamp gaps that reset a channel",
		}, []string{"channel"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "phase_transitions_total",
			Help:      "Channel phase transitions by target phase",
		}, []string{"channel", "to"}),

		beats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "beats_total",
			Help:      "Beat events emitted",
		}, []string{"channel"}),

		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "discarded_beats_total",
			Help:      "Detected beats that produced no event",
		}, []string{"channel", "reason"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "dropped_bundles_total",
			Help:      "Bundles dropped because the channel queue was full",
		}, []string{"channel"}),

		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "channel_phase",
			Help:      "Channel phase (0=warmup, 1=active, 2=paused)",
		}, []string{"channel"}),

		bpm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "bpm",
			Help:      "Last emitted smoothed rate",
		}, []string{"channel"}),

		noise: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corazonn",
			Subsystem: "beat",
			Name:      "noise_estimate",
			Help:      "Current noise metric of the channel window",
		}, []string{"channel"}),
	}

	counters := map[string]*prometheus.CounterVec{
		"samples_total":           m.samples,
		"gaps_total":              m.gaps,
		"phase_transitions_total": m.transitions,
		"beats_total":             m.beats,
		"discarded_beats_total":   m.discarded,
		"dropped_bundles_total":   m.dropped,
	}
	for name, vec := range counters {
		if err := registry.RegisterCounterVec("beat", name, vec); err != nil {
			return nil, err
		}
	}
	gauges := map[string]*prometheus.GaugeVec{
		"channel_phase":  m.phase,
		"bpm":            m.bpm,
		"noise_estimate": m.noise,
	}
	for name, vec := range gauges {
		if err := registry.RegisterGaugeVec("beat", name, vec); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func channelLabel(id int) string { return strconv.Itoa(id) }

func (m *processorMetrics) recordSample(channel int, outcome string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(channelLabel(channel), outcome).Inc()
}

func (m *processorMetrics) recordGap(channel int) {
	if m == nil {
		return
	}
	m.gaps.WithLabelValues(channelLabel(channel)).Inc()
}

func (m *processorMetrics) initChannel(channel int) {
	if m == nil {
		return
	}
	m.phase.WithLabelValues(channelLabel(channel)).Set(float64(ppg.PhaseWarmup))
}

func (m *processorMetrics) recordPhase(channel int, p ppg.Phase) {
	if m == nil {
		return
	}
	label := channelLabel(channel)
	m.transitions.WithLabelValues(label, p.String()).Inc()
	m.phase.WithLabelValues(label).Set(float64(p))
}

func (m *processorMetrics) recordBeat(channel int, bpm float64) {
	if m == nil {
		return
	}
	label := channelLabel(channel)
	m.beats.WithLabelValues(label).Inc()
	m.bpm.WithLabelValues(label).Set(bpm)
}

func (m *processorMetrics) recordDiscarded(channel int, reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(channelLabel(channel), reason).Inc()
}

func (m *processorMetrics) recordDropped(channel int) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channelLabel(channel)).Inc()
}

func (m *processorMetrics) recordNoise(channel int, v float64) {
	if m == nil {
		return
	}
	m.noise.WithLabelValues(channelLabel(channel)).Set(v)
}
