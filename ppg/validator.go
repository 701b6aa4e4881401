package ppg

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
)

// ValidatorConfig bounds what the Validator accepts
type ValidatorConfig struct {
	ChannelCount     int
	ADCMax           int
	SampleIntervalMs int64
}

// DefaultValidatorConfig returns four channels of 12-bit samples at 50 Hz
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		ChannelCount:     MaxChannels,
		ADCMax:           DefaultADCMax,
		SampleIntervalMs: 20,
	}
}

// rejection kinds the validator counts, in ErrorKind label form
var rejectionKinds = []string{
	"malformed_bundle",
	"out_of_range_sample",
	"unknown_channel",
	"negative_timestamp",
}

// Validator checks decoded bundles and expands them into timestamped samples.
// Validate never mutates channel state; its only side effect is the
// invalid-message counters. Safe for concurrent use.
type Validator struct {
	cfg ValidatorConfig
	now func() time.Time

	validated atomic.Int64
	rejected  map[string]*atomic.Int64

	invalidTotal *prometheus.CounterVec
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithClock overrides the clock used to stamp ReceivedAt
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithMetrics exports rejection counters to the registry
func WithMetrics(registry *metric.MetricsRegistry) ValidatorOption {
	return func(v *Validator) {
		if registry == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn",
			Subsystem: "validator",
			Name:      "invalid_bundles_total",
			Help:      "Bundles rejected before reaching a channel, by kind",
		}, []string{"kind"})
		if err := registry.RegisterCounterVec("validator", "invalid_bundles", vec); err == nil {
			v.invalidTotal = vec
		}
	}
}

// NewValidator creates a validator. Zero config fields take defaults.
func NewValidator(cfg ValidatorConfig, opts ...ValidatorOption) *Validator {
	def := DefaultValidatorConfig()
	if cfg.ChannelCount <= 0 {
		cfg.ChannelCount = def.ChannelCount
	}
	if cfg.ADCMax <= 0 {
		cfg.ADCMax = def.ADCMax
	}
	if cfg.SampleIntervalMs <= 0 {
		cfg.SampleIntervalMs = def.SampleIntervalMs
	}

	v := &Validator{
		cfg:      cfg,
		now:      time.Now,
		rejected: make(map[string]*atomic.Int64, len(rejectionKinds)),
	}
	for _, kind := range rejectionKinds {
		v.rejected[kind] = &atomic.Int64{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks arity, channel range, timestamp sign and sample range, in that
// order, and on success synthesizes sample timestamps
// bundle_timestamp_ms + i*sample_interval_ms.
func (v *Validator) Validate(b SampleBundle) (ValidatedBundle, error) {
	if err := v.check(b); err != nil {
		v.Reject(err)
		return ValidatedBundle{}, err
	}

	out := ValidatedBundle{
		ChannelID:  b.ChannelID,
		ReceivedAt: v.now(),
	}
	for i, value := range b.Samples {
		out.Samples[i] = Sample{
			TimestampMs: b.TimestampMs + int64(i)*v.cfg.SampleIntervalMs,
			Value:       value,
		}
	}
	v.validated.Add(1)
	return out, nil
}

func (v *Validator) check(b SampleBundle) error {
	if len(b.Samples) != SamplesPerBundle {
		return errors.Invalidf(errors.ErrMalformedBundle, "Validator", "Validate",
			"expected %d samples, got %d", SamplesPerBundle, len(b.Samples))
	}
	if b.ChannelID < 0 || b.ChannelID >= v.cfg.ChannelCount {
		return errors.Invalidf(errors.ErrUnknownChannel, "Validator", "Validate",
			"channel %d outside [0, %d)", b.ChannelID, v.cfg.ChannelCount)
	}
	if b.TimestampMs < 0 {
		return errors.Invalidf(errors.ErrNegativeTimestamp, "Validator", "Validate",
			"timestamp %d", b.TimestampMs)
	}
	if limit := math.MaxInt64 - (SamplesPerBundle-1)*v.cfg.SampleIntervalMs; b.TimestampMs > limit {
		return errors.Invalidf(errors.ErrMalformedBundle, "Validator", "Validate",
			"timestamp %d leaves no room for %d samples", b.TimestampMs, SamplesPerBundle)
	}
	for i, value := range b.Samples {
		if value < 0 || value > v.cfg.ADCMax {
			return errors.Invalidf(errors.ErrOutOfRangeSample, "Validator", "Validate",
				"sample %d = %d outside [0, %d]", i, value, v.cfg.ADCMax)
		}
	}
	return nil
}

// Reject counts a rejection that happened before or during validation, such as
// a decode failure in a transport. Errors of other kinds count as malformed.
func (v *Validator) Reject(err error) {
	kind := errors.ErrorKind(err)
	counter, ok := v.rejected[kind]
	if !ok {
		kind = "malformed_bundle"
		counter = v.rejected[kind]
	}
	counter.Add(1)
	if v.invalidTotal != nil {
		v.invalidTotal.WithLabelValues(kind).Inc()
	}
}

// ValidatorStats is a snapshot of validator counters
type ValidatorStats struct {
	Validated int64            `json:"validated"`
	Rejected  map[string]int64 `json:"rejected"`
}

// TotalRejected sums rejections across kinds
func (s ValidatorStats) TotalRejected() int64 {
	var total int64
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// Stats returns a snapshot of the counters
func (v *Validator) Stats() ValidatorStats {
	s := ValidatorStats{
		Validated: v.validated.Load(),
		Rejected:  make(map[string]int64, len(v.rejected)),
	}
	for kind, n := range v.rejected {
		s.Rejected[kind] = n.Load()
	}
	return s
}

// Config returns the effective configuration
func (v *Validator) Config() ValidatorConfig {
	return v.cfg
}
