package beat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/pkg/timestamp"
	"github.com/c360/corazonn/ppg"
)

func newTestChannel(cfg Config) (*Channel, *recorder) {
	rec := &recorder{}
	return NewChannel(0, cfg, rec, nil), rec
}

func TestChannel_WarmupThenBeats(t *testing.T) {
	ch, rec := newTestChannel(testConfig())
	d := &driver{ch: ch}

	d.feed(249, pulse)
	assert.Equal(t, ppg.PhaseWarmup, ch.Phase())
	assert.Equal(t, 249, ch.State().AcceptedCount)

	d.feed(1, pulse)
	assert.Equal(t, ppg.PhaseActive, ch.Phase())
	assert.Zero(t, rec.count(), "no beat may be emitted during warmup")

	d.feed(350, pulse)
	events := rec.all()
	require.GreaterOrEqual(t, len(events), 5)

	for i, ev := range events {
		assert.Equal(t, 0, ev.ChannelID)
		assert.GreaterOrEqual(t, ev.Intensity, 0.0)
		assert.LessOrEqual(t, ev.Intensity, 1.0)
		if i > 0 {
			gap := ev.DetectionUnixTime - events[i-1].DetectionUnixTime
			assert.GreaterOrEqual(t, gap, 0.3-1e-6, "beats closer than the refractory period")
		}
	}
	assert.InEpsilon(t, 60.0, events[4].BPM, 0.15)

	// The first beat of the epoch is suppressed; the first event is the
	// second beat, one period later
	first := events[0].DetectedAt()
	assert.True(t, first.After(epoch.Add(250*20*time.Millisecond)))
	assert.Equal(t, int64(1), ch.Counters().Suppressed)
	assert.Equal(t, int64(len(events)), ch.Counters().Beats)
}

func TestChannel_DetectionTimeIsProcessingTime(t *testing.T) {
	ch, rec := newTestChannel(testConfig())
	d := &driver{ch: ch}
	d.feed(600, pulse)

	events := rec.all()
	require.NotEmpty(t, events)
	// Processing times are epoch + sample timestamp, a whole number of sample intervals
	offset := timestamp.ToUnixMs(events[0].DetectedAt()) - timestamp.ToUnixMs(epoch)
	assert.Zero(t, offset%20)
	assert.InDelta(t, timestamp.ToUnixSeconds(epoch)+float64(offset)/1000, events[0].DetectionUnixTime, 1e-3)
}

func TestChannel_EmitFirstBeat(t *testing.T) {
	cfg := testConfig()
	cfg.FirstBeat = FirstBeatEmit
	ch, rec := newTestChannel(cfg)
	d := &driver{ch: ch}

	d.feed(250, pulse)
	assert.Zero(t, rec.count())

	d.feed(50, pulse)
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, cfg.InitialBPM, events[0].BPM)
}

// sampleIndex recovers the driver's sample index from a detection time
func sampleIndex(ev ppg.BeatEvent) int {
	return int(ev.DetectedAt().Sub(epoch) / (20 * time.Millisecond))
}

func TestChannel_FirstEventSampleByPolicy(t *testing.T) {
	firstIndexes := func(policy string) []int {
		cfg := testConfig()
		cfg.FirstBeat = policy
		ch, rec := newTestChannel(cfg)
		d := &driver{ch: ch}
		d.feed(400, pulse)

		var idx []int
		for _, ev := range rec.all() {
			idx = append(idx, sampleIndex(ev))
		}
		require.GreaterOrEqual(t, len(idx), 2)
		return idx
	}

	emit := firstIndexes(FirstBeatEmit)
	suppress := firstIndexes(FirstBeatSuppress)

	// Emit: the first beat after warmup, within one second of activation
	assert.GreaterOrEqual(t, emit[0], 250)
	assert.Less(t, emit[0], 300)

	// Suppress: the first event is the second detected beat, one period
	// (50 samples at 60 BPM) later, so it lands past sample 300
	assert.Equal(t, emit[1], suppress[0])
	assert.InDelta(t, 50, suppress[0]-emit[0], 1)
	assert.Greater(t, suppress[0], 300)
}

func TestChannel_Rates(t *testing.T) {
	tests := []struct {
		name   string
		period int
		bpm    float64
	}{
		{"75 bpm", 40, 75},
		{"60 bpm", 50, 60},
		{"40 bpm", 75, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, rec := newTestChannel(testConfig())
			d := &driver{ch: ch}
			d.feed(1200, ppgWave(tt.period))

			events := rec.all()
			require.GreaterOrEqual(t, len(events), 5)
			for _, ev := range events[4:] {
				assert.InEpsilon(t, tt.bpm, ev.BPM, 0.05)
			}
		})
	}
}

func TestChannel_OutOfOrderSampleDropped(t *testing.T) {
	ch, _ := newTestChannel(testConfig())

	require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: 1000, Value: 2048}, epoch))
	require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: 2000, Value: 2048}, epoch))
	before := ch.State()

	err := ch.ProcessSample(ppg.Sample{TimestampMs: 1500, Value: 2048}, epoch)
	assert.ErrorIs(t, err, errors.ErrOutOfOrderSample)
	err = ch.ProcessSample(ppg.Sample{TimestampMs: 2000, Value: 2048}, epoch)
	assert.ErrorIs(t, err, errors.ErrOutOfOrderSample)

	assert.Equal(t, before, ch.State())
	assert.Equal(t, int64(2), ch.Counters().OutOfOrder)
	assert.Equal(t, int64(2), ch.Counters().Accepted)
}

func TestChannel_GapResetsToWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupSampleCount = 5
	ch, _ := newTestChannel(cfg)

	for ts := int64(0); ts <= 900; ts += 100 {
		require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: ts, Value: 2048}, epoch))
	}
	require.Equal(t, ppg.PhaseActive, ch.Phase())

	err := ch.ProcessSample(ppg.Sample{TimestampMs: 2900, Value: 2048}, epoch)
	assert.ErrorIs(t, err, errors.ErrGapDetected)

	state := ch.State()
	assert.Equal(t, ppg.PhaseWarmup, state.Phase)
	assert.Equal(t, 1, state.AcceptedCount)
	assert.Equal(t, 1, state.BufferLen)
	assert.Equal(t, int64(2900), state.LastAcceptedTimestamp)
	assert.True(t, state.LastBeat.IsZero())
	assert.Equal(t, int64(1), ch.Counters().Gaps)

	for ts := int64(3000); ts <= 3300; ts += 100 {
		require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: ts, Value: 2048}, epoch))
	}
	assert.Equal(t, ppg.PhaseActive, ch.Phase())
}

func TestChannel_GapAtThresholdIsNotAGap(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupSampleCount = 2
	ch, _ := newTestChannel(cfg)

	require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: 1000, Value: 2048}, epoch))
	require.NoError(t, ch.ProcessSample(ppg.Sample{TimestampMs: 2000, Value: 2048}, epoch))
	assert.Equal(t, ppg.PhaseActive, ch.Phase())
	assert.Zero(t, ch.Counters().Gaps)
}

func TestChannel_GapDuringWarmup(t *testing.T) {
	ch, _ := newTestChannel(testConfig())
	d := &driver{ch: ch}
	d.feed(100, pulse)

	err := ch.ProcessSample(ppg.Sample{TimestampMs: 100_000, Value: 2048}, epoch)
	assert.ErrorIs(t, err, errors.ErrGapDetected)
	assert.Equal(t, ppg.PhaseWarmup, ch.Phase())
	assert.Equal(t, 1, ch.State().AcceptedCount)
}

func TestChannel_PauseOnNoiseAndResume(t *testing.T) {
	tests := []struct {
		name  string
		noisy func(int) int
	}{
		{"high dispersion", noise},
		{"saturated", func(int) int { return 4095 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			ch, rec := newTestChannel(cfg)
			d := &driver{ch: ch}

			d.feed(400, pulse)
			require.Equal(t, ppg.PhaseActive, ch.Phase())
			emitted := rec.count()
			require.Positive(t, emitted)

			d.feed(60, tt.noisy)
			assert.Equal(t, ppg.PhasePaused, ch.Phase())
			assert.Equal(t, int64(1), ch.Counters().Pauses)

			clean := 0
			for ch.Phase() == ppg.PhasePaused && clean < 1000 {
				d.feed(1, pulse)
				clean++
				assert.Equal(t, emitted, rec.count(), "no beat while paused")
			}
			require.Equal(t, ppg.PhaseActive, ch.Phase())
			assert.GreaterOrEqual(t, clean, cfg.ResumeCleanCount)

			d.feed(300, pulse)
			assert.Greater(t, rec.count(), emitted)
		})
	}
}

func TestChannel_PausedStaysPausedWhileNoisy(t *testing.T) {
	ch, _ := newTestChannel(testConfig())
	d := &driver{ch: ch}

	d.feed(300, pulse)
	d.feed(500, noise)

	assert.Equal(t, ppg.PhasePaused, ch.Phase())
	assert.Zero(t, ch.State().CleanStreak)
}

func TestChannel_IndependentChannels(t *testing.T) {
	cfg := testConfig()
	rec := &recorder{}
	a := NewChannel(0, cfg, rec, nil)
	b := NewChannel(1, cfg, rec, nil)
	da, db := &driver{ch: a}, &driver{ch: b}

	for i := 0; i < 12; i++ {
		da.feed(50, pulse)
		db.feed(50, noise)
	}

	assert.Equal(t, ppg.PhaseActive, a.Phase())
	assert.Equal(t, ppg.PhasePaused, b.Phase())
	assert.NotEmpty(t, rec.forChannel(0))
	assert.Empty(t, rec.forChannel(1))
}

func TestChannel_ProcessStampsWithClock(t *testing.T) {
	ch, rec := newTestChannel(testConfig())
	clock := &stepClock{now: epoch, step: 20 * time.Millisecond}
	ch.now = clock.Now

	for k := 0; k < 120; k++ {
		samples := [ppg.SamplesPerBundle]ppg.Sample{}
		for i := range samples {
			n := k*ppg.SamplesPerBundle + i
			samples[i] = ppg.Sample{TimestampMs: int64(n) * 20, Value: pulse(n)}
		}
		ch.Process(ppg.ValidatedBundle{ChannelID: 0, Samples: samples})
	}

	assert.Equal(t, int64(120), ch.Counters().Bundles)
	events := rec.all()
	require.GreaterOrEqual(t, len(events), 5)
	assert.InEpsilon(t, 60.0, events[len(events)-1].BPM, 0.05)
}
