package beat

import (
	"math"

	"github.com/c360/corazonn/pkg/buffer"
	"github.com/c360/corazonn/ppg"
)

// window is the rolling sample buffer of one channel with the statistics the
// state machine and detector need.
type window struct {
	ring *buffer.Ring[ppg.Sample]
}

func newWindow(size int) *window {
	return &window{ring: buffer.NewRing[ppg.Sample](size)}
}

func (w *window) push(s ppg.Sample) { w.ring.Push(s) }
func (w *window) len() int         { return w.ring.Len() }
func (w *window) clear()           { w.ring.Clear() }

// mean of all values; 0 when empty
func (w *window) mean() float64 {
	n := w.ring.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	w.ring.Do(func(s ppg.Sample) { sum += float64(s.Value) })
	return sum / float64(n)
}

// minMax of all values; zeros when empty
func (w *window) minMax() (lo, hi float64) {
	if w.ring.Len() == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	w.ring.Do(func(s ppg.Sample) {
		v := float64(s.Value)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	})
	return lo, hi
}

// noise is the RMS of successive differences over the newest n samples.
// It tracks high-frequency dispersion while ignoring the slow pulse shape.
func (w *window) noise(n int) float64 {
	recent := w.ring.Tail(n)
	if len(recent) < 2 {
		return 0
	}
	var sumSq float64
	for i := 1; i < len(recent); i++ {
		d := float64(recent[i].Value - recent[i-1].Value)
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(recent)-1))
}

// railFraction is the share of the newest n samples within margin of 0 or adcMax
func (w *window) railFraction(n, margin, adcMax int) float64 {
	recent := w.ring.Tail(n)
	if len(recent) == 0 {
		return 0
	}
	railed := 0
	for _, s := range recent {
		if s.Value <= margin || s.Value >= adcMax-margin {
			railed++
		}
	}
	return float64(railed) / float64(len(recent))
}
