package beat

import (
	"math"
	"time"
)

// Beat is a confirmed local maximum above the adaptive threshold
type Beat struct {
	At        time.Time // wall-clock processing time of the confirming sample
	Peak      float64   // raw value at the peak
	Amplitude float64   // peak minus baseline
}

// Detector finds beats with an adaptive threshold:
//
//	baseline  EWMA of the signal
//	amplitude envelope of |x - baseline| with slow decay
//	threshold baseline + k*amplitude
//
// An upward crossing arms a candidate if the refractory period since the last
// beat has passed; the first falling sample after that confirms the peak.
type Detector struct {
	k, alpha, decay float64
	refractory      time.Duration

	baseline  float64
	amplitude float64
	prev      float64
	hasPrev   bool

	armed    bool
	peak     float64
	lastBeat time.Time
}

// NewDetector creates a detector from the channel config
func NewDetector(cfg Config) *Detector {
	return &Detector{
		k:          cfg.ThresholdK,
		alpha:      cfg.BaselineAlpha,
		decay:      cfg.AmplitudeDecay,
		refractory: time.Duration(cfg.MinIBIMs) * time.Millisecond,
	}
}

// Prime (re)initializes baseline and amplitude from window statistics.
// The refractory clock is kept.
func (d *Detector) Prime(mean, lo, hi float64) {
	d.baseline = mean
	d.amplitude = (hi - lo) / 2
	d.hasPrev = false
	d.armed = false
}

// Reset clears all state, including the last beat time
func (d *Detector) Reset() {
	*d = Detector{k: d.k, alpha: d.alpha, decay: d.decay, refractory: d.refractory}
}

// Threshold returns the current detection threshold
func (d *Detector) Threshold() float64 {
	return d.baseline + d.k*d.amplitude
}

// Baseline returns the current baseline estimate
func (d *Detector) Baseline() float64 { return d.baseline }

// LastBeat returns the time of the last confirmed beat, zero if none
func (d *Detector) LastBeat() time.Time { return d.lastBeat }

// Observe feeds one sample processed at now and reports a confirmed beat
func (d *Detector) Observe(value float64, now time.Time) (Beat, bool) {
	threshold := d.Threshold()
	var (
		beat      Beat
		confirmed bool
	)

	switch {
	case d.armed && value < d.prev:
		beat = Beat{At: now, Peak: d.peak, Amplitude: d.peak - d.baseline}
		confirmed = true
		d.armed = false
		d.lastBeat = now
	case d.armed:
		d.peak = math.Max(d.peak, value)
	case d.hasPrev && d.prev <= threshold && value > threshold && d.refractoryElapsed(now):
		d.armed = true
		d.peak = value
	}

	d.baseline += d.alpha * (value - d.baseline)
	d.amplitude = math.Max(math.Abs(value-d.baseline), d.amplitude*d.decay)
	d.prev = value
	d.hasPrev = true

	return beat, confirmed
}

func (d *Detector) refractoryElapsed(now time.Time) bool {
	return d.lastBeat.IsZero() || now.Sub(d.lastBeat) >= d.refractory
}
