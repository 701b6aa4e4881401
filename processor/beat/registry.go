package beat

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/pkg/worker"
	"github.com/c360/corazonn/ppg"
	"github.com/c360/corazonn/sink"
)

// ComponentName is the name the registry reports in Meta and logs
const ComponentName = "beat-processor"

// Deps are the collaborators of a Registry. Clock stamps bundle receipt and
// sample processing; it defaults to time.Now.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Sink            sink.EventSink
	Clock           func() time.Time
}

// Registry owns one Channel per configured channel id and routes validated
// bundles to them. Each channel has a single-worker pool, so bundles of one
// channel are processed in arrival order while channels run in parallel.
type Registry struct {
	name      string
	cfg       Config
	logger    *slog.Logger
	validator *ppg.Validator
	channels  []*Channel
	pools     []*worker.Pool[ppg.ValidatedBundle]
	metrics   *processorMetrics

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	submitted    atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

// NewRegistry builds the channels, their pools and the ingestion validator
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", ComponentName)

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	metrics, err := newProcessorMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize beat processor metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	r := &Registry{
		name:    ComponentName,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		validator: ppg.NewValidator(ppg.ValidatorConfig{
			ChannelCount:     cfg.ChannelCount,
			ADCMax:           cfg.ADCMax,
			SampleIntervalMs: cfg.Interval(),
		}, ppg.WithClock(now), ppg.WithMetrics(deps.MetricsRegistry)),
	}

	for id := 0; id < cfg.ChannelCount; id++ {
		ch := NewChannel(id, cfg, deps.Sink, logger)
		ch.now = now
		ch.metrics = metrics
		metrics.initChannel(id)
		r.channels = append(r.channels, ch)

		opts := []worker.Option[ppg.ValidatedBundle]{
			worker.WithErrorHandler(r.handlePoolError),
		}
		if deps.MetricsRegistry != nil {
			opts = append(opts, worker.WithMetricsRegistry[ppg.ValidatedBundle](
				deps.MetricsRegistry, fmt.Sprintf("channel_%d", id)))
		}
		r.pools = append(r.pools, worker.NewPool(1, cfg.QueueSize, r.process, opts...))
	}

	return r, nil
}

// Validator returns the ingestion validator shared by all transports
func (r *Registry) Validator() *ppg.Validator { return r.validator }

// Channel returns the channel with the given id
func (r *Registry) Channel(id int) (*Channel, bool) {
	if id < 0 || id >= len(r.channels) {
		return nil, false
	}
	return r.channels[id], true
}

// Ingest validates a decoded bundle and queues it for its channel. Validation
// failures are counted and returned; nothing reaches a channel.
func (r *Registry) Ingest(b ppg.SampleBundle) error {
	vb, err := r.validator.Validate(b)
	if err != nil {
		return err
	}
	return r.Submit(vb)
}

// Reject counts a bundle a transport could not decode
func (r *Registry) Reject(err error) {
	r.validator.Reject(err)
}

// Submit queues a validated bundle without blocking. A full channel queue
// drops the bundle and returns an error matching errors.ErrQueueFull.
func (r *Registry) Submit(vb ppg.ValidatedBundle) error {
	if vb.ChannelID < 0 || vb.ChannelID >= len(r.pools) {
		return errors.Invalidf(errors.ErrUnknownChannel, "Registry", "Submit",
			"channel %d outside [0, %d)", vb.ChannelID, len(r.pools))
	}

	err := r.pools[vb.ChannelID].Submit(vb)
	switch {
	case err == nil:
		r.submitted.Add(1)
		r.lastActivity.Store(time.Now().UnixNano())
		return nil
	case stderrors.Is(err, errors.ErrQueueFull):
		ch := r.channels[vb.ChannelID]
		ch.counters.dropped.Add(1)
		r.metrics.recordDropped(vb.ChannelID)
		ch.throttled("Channel queue full, bundle dropped", "queue_size", r.cfg.QueueSize)
		return errors.WrapTransient(err, "Registry", "Submit", "enqueue bundle")
	default:
		return errors.WrapTransient(err, "Registry", "Submit", "enqueue bundle")
	}
}

func (r *Registry) process(_ context.Context, vb ppg.ValidatedBundle) error {
	r.channels[vb.ChannelID].Process(vb)
	return nil
}

func (r *Registry) handlePoolError(vb ppg.ValidatedBundle, err error) {
	r.errorCount.Add(1)
	r.lastError.Store(err.Error())
	r.logger.Error("Channel processing failed", "channel", vb.ChannelID, "error", err)
}

// Initialize prepares the processor (no-op; channels are built by NewRegistry)
func (r *Registry) Initialize() error {
	return nil
}

// Start launches the channel workers and the stats reporter. Workers are not
// bound to ctx so that Stop can drain queued bundles.
func (r *Registry) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Registry", "Start", "check running state")
	}

	workCtx := context.WithoutCancel(ctx)
	for id, pool := range r.pools {
		if err := pool.Start(workCtx); err != nil {
			for _, started := range r.pools[:id] {
				_ = started.Stop(time.Second)
			}
			return errors.WrapFatal(err, "Registry", "Start", fmt.Sprintf("start channel %d", id))
		}
	}

	statsCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.cfg.StatsInterval > 0 {
		r.wg.Add(1)
		go r.reportStats(statsCtx)
	}

	r.running = true
	r.startTime = time.Now()

	r.logger.Info("Beat processor started",
		"channels", len(r.channels),
		"warmup_samples", r.cfg.WarmupSampleCount,
		"queue_size", r.cfg.QueueSize)
	return nil
}

// Stop drains every channel queue, then stops the stats reporter
func (r *Registry) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.running {
		return nil
	}

	deadline := time.Now().Add(timeout)
	var failed []string
	for id, pool := range r.pools {
		if err := pool.Stop(time.Until(deadline)); err != nil {
			failed = append(failed, fmt.Sprintf("channel %d: %v", id, err))
		}
	}

	r.cancel()
	r.wg.Wait()
	r.running = false
	r.logSummary("Beat processor stopped")

	if len(failed) > 0 {
		return errors.WrapTransient(
			fmt.Errorf("drain incomplete: %s", strings.Join(failed, "; ")),
			"Registry", "Stop", "graceful shutdown")
	}
	return nil
}

func (r *Registry) reportStats(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logSummary("Beat processor stats")
		}
	}
}

func (r *Registry) logSummary(msg string) {
	vs := r.validator.Stats()
	args := []any{"validated", vs.Validated, "rejected", vs.TotalRejected()}
	for _, ch := range r.channels {
		c := ch.Counters()
		args = append(args, fmt.Sprintf("channel_%d", ch.id), fmt.Sprintf(
			"phase=%s accepted=%d beats=%d out_of_order=%d gaps=%d implausible=%d dropped=%d",
			ch.Phase(), c.Accepted, c.Beats, c.OutOfOrder, c.Gaps, c.ImplausibleIBI, c.Dropped))
	}
	r.logger.Info(msg, args...)
}

// ChannelStatus is the externally visible summary of one channel
type ChannelStatus struct {
	ChannelID int             `json:"channel_id"`
	Phase     string          `json:"phase"`
	Counters  ChannelCounters `json:"counters"`
	Queued    int             `json:"queued"`
}

// ChannelStatuses returns the phase and counters of every channel
func (r *Registry) ChannelStatuses() []ChannelStatus {
	out := make([]ChannelStatus, len(r.channels))
	for i, ch := range r.channels {
		out[i] = ChannelStatus{
			ChannelID: ch.id,
			Phase:     ch.Phase().String(),
			Counters:  ch.Counters(),
			Queued:    r.pools[i].Stats().QueueDepth,
		}
	}
	return out
}

// Meta returns component metadata
func (r *Registry) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "processor",
		Description: "Per-channel PPG beat detection",
		Version:     "1.0.0",
	}
}

// Health reports unhealthy when stopped and degraded while any channel is
// not Active.
func (r *Registry) Health() component.HealthStatus {
	r.lifecycleMu.Lock()
	running, started := r.running, r.startTime
	r.lifecycleMu.Unlock()

	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(r.errorCount.Load()),
	}
	if msg, ok := r.lastError.Load().(string); ok {
		status.LastError = msg
	}
	if running {
		status.Uptime = time.Since(started)
	}

	var notActive []string
	for _, ch := range r.channels {
		if p := ch.Phase(); p != ppg.PhaseActive {
			notActive = append(notActive, fmt.Sprintf("channel %d %s", ch.id, p))
		}
	}
	if running && len(notActive) > 0 {
		status.Degraded = true
		status.Details = strings.Join(notActive, ", ")
	}
	return status
}

// DataFlow reports bundle throughput since start
func (r *Registry) DataFlow() component.FlowMetrics {
	r.lifecycleMu.Lock()
	started := r.startTime
	r.lifecycleMu.Unlock()

	var flow component.FlowMetrics
	if nanos := r.lastActivity.Load(); nanos > 0 {
		flow.LastActivity = time.Unix(0, nanos)
	}
	if started.IsZero() {
		return flow
	}

	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return flow
	}
	submitted := float64(r.submitted.Load())
	flow.MessagesPerSecond = submitted / elapsed

	var dropped int64
	for _, ch := range r.channels {
		dropped += ch.Counters().Dropped
	}
	rejected := float64(r.validator.Stats().TotalRejected() + dropped)
	if total := submitted + rejected; total > 0 {
		flow.ErrorRate = rejected / total
	}
	return flow
}
