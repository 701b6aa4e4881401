package beat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	atMs  int
	value float64
}

func runDetector(d *Detector, steps []step) []Beat {
	var beats []Beat
	for _, s := range steps {
		if b, ok := d.Observe(s.value, epoch.Add(time.Duration(s.atMs)*time.Millisecond)); ok {
			beats = append(beats, b)
		}
	}
	return beats
}

func TestDetector_ConfirmsOnFirstDecrease(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)
	assert.InDelta(t, 50.0, d.Threshold(), 1e-9)

	beats := runDetector(d, []step{{0, 0}, {20, 100}, {40, 80}})
	require.Len(t, beats, 1)
	assert.Equal(t, epoch.Add(40*time.Millisecond), beats[0].At)
	assert.Equal(t, 100.0, beats[0].Peak)
	assert.InDelta(t, 98.0, beats[0].Amplitude, 1e-9)
	assert.Equal(t, beats[0].At, d.LastBeat())
}

func TestDetector_TracksRisingPeak(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)

	beats := runDetector(d, []step{{0, 0}, {20, 60}, {40, 90}, {60, 120}, {80, 120}, {100, 110}})
	require.Len(t, beats, 1)
	assert.Equal(t, 120.0, beats[0].Peak)
	assert.Equal(t, epoch.Add(100*time.Millisecond), beats[0].At)
}

func TestDetector_NoBeatWithoutDecrease(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)

	beats := runDetector(d, []step{{0, 0}, {20, 100}, {40, 100}, {60, 100}})
	assert.Empty(t, beats)
}

func TestDetector_RefractoryPeriod(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)

	beats := runDetector(d, []step{
		{0, 0}, {20, 100}, {40, 80},
		{60, 0}, {80, 100}, {100, 80}, // 60ms after the first beat
		{120, 0}, {400, 0}, {420, 100}, {440, 80},
	})
	require.Len(t, beats, 2)
	assert.Equal(t, epoch.Add(40*time.Millisecond), beats[0].At)
	assert.Equal(t, epoch.Add(440*time.Millisecond), beats[1].At)
	assert.GreaterOrEqual(t, beats[1].At.Sub(beats[0].At), 300*time.Millisecond)
}

func TestDetector_NeedsPreviousSample(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)

	// The first sample after priming can never be a crossing
	beats := runDetector(d, []step{{0, 100}, {20, 80}})
	assert.Empty(t, beats)
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)
	runDetector(d, []step{{0, 0}, {20, 100}, {40, 80}})
	require.False(t, d.LastBeat().IsZero())

	d.Reset()
	assert.True(t, d.LastBeat().IsZero())
	assert.Equal(t, 0.0, d.Baseline())
	assert.Equal(t, 0.0, d.Threshold())
}

func TestDetector_PrimeKeepsLastBeat(t *testing.T) {
	d := NewDetector(testConfig())
	d.Prime(0, -100, 100)
	runDetector(d, []step{{0, 0}, {20, 100}, {40, 80}})
	last := d.LastBeat()

	d.Prime(2000, 1000, 3000)
	assert.Equal(t, last, d.LastBeat())
	assert.InDelta(t, 2500.0, d.Threshold(), 1e-9)
}
