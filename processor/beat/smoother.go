package beat

import (
	stderrors "errors"
	"time"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/pkg/buffer"
)

// ErrFirstBeatSuppressed is returned for the first beat of an epoch under the
// suppress policy. It is not a failure.
var ErrFirstBeatSuppressed = stderrors.New("first beat of epoch suppressed")

// Estimate is the smoother's output for one accepted beat
type Estimate struct {
	BPM   float64
	IBIMs float64 // 0 for the first beat of an epoch
	First bool
}

// Smoother turns beat times into a smoothed rate. Only plausible IBIs enter
// the history; every beat, plausible or not, moves the reference time.
type Smoother struct {
	minIBI, maxIBI float64
	alpha          float64
	emitFirst      bool
	initialBPM     float64

	lastBeat time.Time
	history  *buffer.Ring[float64]
}

// NewSmoother creates a smoother from the channel config
func NewSmoother(cfg Config) *Smoother {
	return &Smoother{
		minIBI:     float64(cfg.MinIBIMs),
		maxIBI:     float64(cfg.IBIMaxMs),
		alpha:      cfg.SmoothingAlpha,
		emitFirst:  cfg.FirstBeat == FirstBeatEmit,
		initialBPM: cfg.InitialBPM,
		history:    buffer.NewRing[float64](cfg.IBIHistory),
	}
}

// Observe records a beat at the given time
func (s *Smoother) Observe(at time.Time) (Estimate, error) {
	if s.lastBeat.IsZero() {
		s.lastBeat = at
		if !s.emitFirst {
			return Estimate{}, ErrFirstBeatSuppressed
		}
		return Estimate{BPM: s.initialBPM, First: true}, nil
	}

	ibi := float64(at.Sub(s.lastBeat)) / float64(time.Millisecond)
	s.lastBeat = at

	if ibi < s.minIBI || ibi > s.maxIBI {
		return Estimate{}, errors.Invalidf(errors.ErrImplausibleIBI, "Smoother", "Observe",
			"ibi %.0fms outside [%.0f, %.0f]", ibi, s.minIBI, s.maxIBI)
	}

	s.history.Push(ibi)
	return Estimate{BPM: 60000 / s.averageIBI(), IBIMs: ibi}, nil
}

// averageIBI is an EWMA over the history, oldest first
func (s *Smoother) averageIBI() float64 {
	avg, started := 0.0, false
	s.history.Do(func(ibi float64) {
		if !started {
			avg, started = ibi, true
			return
		}
		avg = s.alpha*ibi + (1-s.alpha)*avg
	})
	return avg
}

// History returns the plausible IBIs currently held, oldest first
func (s *Smoother) History() []float64 { return s.history.Values() }

// Reset starts a new epoch
func (s *Smoother) Reset() {
	s.lastBeat = time.Time{}
	s.history.Clear()
}

// intensity normalizes a peak into the window's value range, clamped to [0, 1]
func intensity(peak, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	v := (peak - lo) / (hi - lo)
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
