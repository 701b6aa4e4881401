package beat

import (
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/pkg/timestamp"
	"github.com/c360/corazonn/ppg"
	"github.com/c360/corazonn/sink"
)

// ChannelState is a snapshot of one channel's detector state
type ChannelState struct {
	ChannelID             int       `json:"channel_id"`
	Phase                 ppg.Phase `json:"-"`
	PhaseName             string    `json:"phase"`
	AcceptedCount         int       `json:"accepted_count"`
	CleanStreak           int       `json:"clean_streak"`
	LastAcceptedTimestamp int64     `json:"last_accepted_timestamp_ms"`
	HasTimestamp          bool      `json:"has_timestamp"`
	BufferLen             int       `json:"buffer_len"`
	Baseline              float64   `json:"baseline"`
	NoiseEstimate         float64   `json:"noise_estimate"`
	LastBeat              time.Time `json:"last_beat,omitempty"`
	IBIHistory            []float64 `json:"ibi_history"`
}

// ChannelCounters are monotonically increasing per-channel totals
type ChannelCounters struct {
	Bundles        int64 `json:"bundles"`
	Accepted       int64 `json:"accepted"`
	OutOfOrder     int64 `json:"out_of_order"`
	Gaps           int64 `json:"gaps"`
	Pauses         int64 `json:"pauses"`
	Beats          int64 `json:"beats"`
	ImplausibleIBI int64 `json:"implausible_ibi"`
	Suppressed     int64 `json:"suppressed"`
	Dropped        int64 `json:"dropped"`
}

type channelCounters struct {
	bundles, accepted, outOfOrder, gaps, pauses atomic.Int64
	beats, implausible, suppressed, dropped     atomic.Int64
}

func (c *channelCounters) snapshot() ChannelCounters {
	return ChannelCounters{
		Bundles:        c.bundles.Load(),
		Accepted:       c.accepted.Load(),
		OutOfOrder:     c.outOfOrder.Load(),
		Gaps:           c.gaps.Load(),
		Pauses:         c.pauses.Load(),
		Beats:          c.beats.Load(),
		ImplausibleIBI: c.implausible.Load(),
		Suppressed:     c.suppressed.Load(),
		Dropped:        c.dropped.Load(),
	}
}

// Channel is the per-channel state machine:
//
//	Warmup --accepted >= warmup--> Active
//	Active --noisy sample--> Paused
//	Paused --resume_clean_count clean samples--> Active
//	any    --gap > gap_threshold--> Warmup
//
// Channel is not safe for concurrent use; the Registry serializes access per
// channel. Phase and Counters may be read from any goroutine.
type Channel struct {
	id  int
	cfg Config

	phase         ppg.Phase
	acceptedCount int
	cleanStreak   int
	lastTs        int64
	hasTs         bool
	noise         float64

	window   *window
	detector *Detector
	smoother *Smoother

	sink    sink.EventSink
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time
	metrics *processorMetrics

	phaseMirror atomic.Int32
	counters    channelCounters
}

// NewChannel creates a channel in Warmup
func NewChannel(id int, cfg Config, out sink.EventSink, logger *slog.Logger) *Channel {
	if out == nil {
		out = sink.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		id:       id,
		cfg:      cfg,
		window:   newWindow(cfg.WindowSize),
		detector: NewDetector(cfg),
		smoother: NewSmoother(cfg),
		sink:     out,
		logger:   logger.With("channel", id),
		limiter:  rate.NewLimiter(rate.Limit(cfg.LogRate), max(cfg.LogBurst, 1)),
		now:      time.Now,
	}
}

// ID returns the channel id
func (c *Channel) ID() int { return c.id }

// Phase returns the current phase
func (c *Channel) Phase() ppg.Phase { return ppg.Phase(c.phaseMirror.Load()) }

// Counters returns a snapshot of the channel's totals
func (c *Channel) Counters() ChannelCounters { return c.counters.snapshot() }

// Process feeds every sample of a validated bundle, stamping each with the
// wall-clock time at which it is processed.
func (c *Channel) Process(vb ppg.ValidatedBundle) {
	c.counters.bundles.Add(1)
	for _, s := range vb.Samples {
		_ = c.ProcessSample(s, c.now())
	}
}

// ProcessSample advances the state machine by one sample processed at now.
// It returns ErrOutOfOrderSample when the sample was dropped and
// ErrGapDetected when the channel was reset before accepting it.
func (c *Channel) ProcessSample(s ppg.Sample, now time.Time) error {
	if c.hasTs && s.TimestampMs <= c.lastTs {
		c.counters.outOfOrder.Add(1)
		c.metrics.recordSample(c.id, "out_of_order")
		err := errors.Invalidf(errors.ErrOutOfOrderSample, "Channel", "ProcessSample",
			"timestamp %d not after %d", s.TimestampMs, c.lastTs)
		c.throttled("Dropped out-of-order sample", "error", err)
		return err
	}

	var result error
	if c.hasTs && s.TimestampMs-c.lastTs > c.cfg.GapThresholdMs {
		result = errors.Invalidf(errors.ErrGapDetected, "Channel", "ProcessSample",
			"gap of %dms after %d", s.TimestampMs-c.lastTs, c.lastTs)
		c.counters.gaps.Add(1)
		c.metrics.recordGap(c.id)
		c.throttled("Sample gap, restarting warmup", "gap_ms", s.TimestampMs-c.lastTs)
		c.reset()
	}

	c.lastTs = s.TimestampMs
	c.hasTs = true
	c.window.push(s)
	c.acceptedCount++
	c.counters.accepted.Add(1)
	c.metrics.recordSample(c.id, "accepted")

	switch c.phase {
	case ppg.PhaseWarmup:
		if c.acceptedCount >= c.cfg.WarmupSampleCount {
			c.noise = c.window.noise(c.cfg.NoiseWindow)
			c.prime()
			c.setPhase(ppg.PhaseActive)
		}
	case ppg.PhaseActive:
		if c.noisy() {
			c.cleanStreak = 0
			c.counters.pauses.Add(1)
			c.setPhase(ppg.PhasePaused)
			return result
		}
		c.detect(s, now)
	case ppg.PhasePaused:
		if c.noisy() {
			c.cleanStreak = 0
			return result
		}
		c.cleanStreak++
		if c.cleanStreak >= c.cfg.ResumeCleanCount {
			c.prime()
			c.setPhase(ppg.PhaseActive)
		}
	}
	return result
}

// State returns a snapshot of the channel. It must be called from the
// goroutine that processes the channel.
func (c *Channel) State() ChannelState {
	return ChannelState{
		ChannelID:             c.id,
		Phase:                 c.phase,
		PhaseName:             c.phase.String(),
		AcceptedCount:         c.acceptedCount,
		CleanStreak:           c.cleanStreak,
		LastAcceptedTimestamp: c.lastTs,
		HasTimestamp:          c.hasTs,
		BufferLen:             c.window.len(),
		Baseline:              c.detector.Baseline(),
		NoiseEstimate:         c.noise,
		LastBeat:              c.detector.LastBeat(),
		IBIHistory:            c.smoother.History(),
	}
}

func (c *Channel) noisy() bool {
	c.noise = c.window.noise(c.cfg.NoiseWindow)
	c.metrics.recordNoise(c.id, c.noise)
	if c.noise > c.cfg.NoiseThreshold {
		return true
	}
	return c.window.railFraction(c.cfg.NoiseWindow, c.cfg.RailMargin, c.cfg.ADCMax) > c.cfg.SaturationFraction
}

func (c *Channel) prime() {
	lo, hi := c.window.minMax()
	c.detector.Prime(c.window.mean(), lo, hi)
}

func (c *Channel) detect(s ppg.Sample, now time.Time) {
	b, ok := c.detector.Observe(float64(s.Value), now)
	if !ok {
		return
	}

	est, err := c.smoother.Observe(b.At)
	switch {
	case stderrors.Is(err, ErrFirstBeatSuppressed):
		c.counters.suppressed.Add(1)
		c.metrics.recordDiscarded(c.id, "first_beat")
		return
	case err != nil:
		c.counters.implausible.Add(1)
		c.metrics.recordDiscarded(c.id, errors.ErrorKind(err))
		c.throttled("Discarded beat", "error", err)
		return
	}

	lo, hi := c.window.minMax()
	ev := ppg.BeatEvent{
		ChannelID:         c.id,
		DetectionUnixTime: timestamp.ToUnixSeconds(b.At),
		BPM:               est.BPM,
		Intensity:         intensity(b.Peak, lo, hi),
	}
	c.counters.beats.Add(1)
	c.metrics.recordBeat(c.id, est.BPM)
	c.logger.Debug("Beat detected", "bpm", ev.BPM, "intensity", ev.Intensity, "ibi_ms", est.IBIMs)
	c.sink.Accept(ev)
}

// reset starts a new epoch: everything except lastTs is cleared
func (c *Channel) reset() {
	c.window.clear()
	c.acceptedCount = 0
	c.cleanStreak = 0
	c.noise = 0
	c.detector.Reset()
	c.smoother.Reset()
	c.setPhase(ppg.PhaseWarmup)
}

func (c *Channel) setPhase(p ppg.Phase) {
	if c.phase == p {
		return
	}
	c.logger.Info("Channel phase changed", "from", c.phase.String(), "to", p.String())
	c.phase = p
	c.phaseMirror.Store(int32(p))
	c.metrics.recordPhase(c.id, p)
}

func (c *Channel) throttled(msg string, args ...any) {
	if c.limiter.Allow() {
		c.logger.Warn(msg, args...)
	}
}
