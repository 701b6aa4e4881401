package sink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/pkg/buffer"
	"github.com/c360/corazonn/ppg"
)

// Config controls the async dispatch queue
type Config struct {
	BufferSize     int           `json:"buffer_size" yaml:"buffer_size"`
	BatchSize      int           `json:"batch_size" yaml:"batch_size"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	Overflow       string        `json:"overflow" yaml:"overflow"` // drop_oldest or drop_newest
}

// DefaultConfig returns a 256-event drop-oldest queue
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		BatchSize:      16,
		PublishTimeout: 500 * time.Millisecond,
		Overflow:       "drop_oldest",
	}
}

// Validate checks the queue settings
func (c Config) Validate() error {
	switch {
	case c.BufferSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Async", "Validate", "buffer_size must be at least 1")
	case c.BatchSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Async", "Validate", "batch_size must be at least 1")
	case c.PublishTimeout <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Async", "Validate", "publish_timeout must be positive")
	case c.Overflow != "drop_oldest" && c.Overflow != "drop_newest":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Async", "Validate",
			fmt.Sprintf("overflow %q must be drop_oldest or drop_newest", c.Overflow))
	}
	return nil
}

// Deps are the collaborators of an Async sink
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Async is an EventSink that queues events and hands them to publishers from
// a single dispatcher goroutine. Events reach every publisher in Accept order.
type Async struct {
	name       string
	cfg        Config
	publishers []Publisher
	queue      buffer.Queue[ppg.BeatEvent]
	notify     chan struct{}

	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *metric.Metrics

	lifecycleMu sync.Mutex
	running     bool
	startTime   time.Time
	stop        chan struct{}
	done        chan struct{}

	accepted     atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	failStreak   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

// NewAsync creates an async sink in front of the given publishers
func NewAsync(cfg Config, publishers []Publisher, deps Deps) (*Async, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Async{
		name:       "event-sink",
		cfg:        cfg,
		publishers: publishers,
		notify:     make(chan struct{}, 1),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 5),
	}
	a.logger = logger.With("component", a.name)
	if deps.MetricsRegistry != nil {
		a.metrics = deps.MetricsRegistry.CoreMetrics()
	}

	queue, err := buffer.NewCircularQueue(cfg.BufferSize,
		buffer.WithOverflowPolicy[ppg.BeatEvent](buffer.ParseOverflowPolicy(cfg.Overflow)),
		buffer.WithMetrics[ppg.BeatEvent](deps.MetricsRegistry, a.name),
		buffer.WithDropCallback[ppg.BeatEvent](a.onDrop),
	)
	if err != nil {
		return nil, errors.WrapFatal(err, "Async", "NewAsync", "create queue")
	}
	a.queue = queue
	return a, nil
}

// Accept queues ev without blocking. When the queue is full the overflow
// policy discards an event.
func (a *Async) Accept(ev ppg.BeatEvent) {
	if err := a.queue.Write(ev); err != nil {
		if !stderrors.Is(err, buffer.ErrItemDropped) {
			a.dropped.Add(1)
		}
		return
	}
	a.accepted.Add(1)
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *Async) onDrop(ev ppg.BeatEvent) {
	a.dropped.Add(1)
	if a.metrics != nil {
		a.metrics.RecordError(a.name, "dropped")
	}
	if a.limiter.Allow() {
		a.logger.Warn("Sink queue full, beat event dropped", "channel", ev.ChannelID)
	}
}

// Initialize is a no-op; the queue is built by NewAsync
func (a *Async) Initialize() error {
	return nil
}

// Start launches the dispatcher
func (a *Async) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Async", "Start", "check running state")
	}

	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.running = true
	a.startTime = time.Now()

	go a.run(context.WithoutCancel(ctx))

	names := make([]string, len(a.publishers))
	for i, p := range a.publishers {
		names[i] = p.Name()
	}
	a.logger.Info("Event sink started", "publishers", names, "buffer_size", a.cfg.BufferSize)
	return nil
}

// Stop delivers what is still queued, up to timeout, and rejects new events
func (a *Async) Stop(timeout time.Duration) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	close(a.stop)

	select {
	case <-a.done:
	case <-time.After(timeout):
		_ = a.queue.Close()
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v with %d events queued", timeout, a.queue.Size()),
			"Async", "Stop", "drain queue")
	}

	_ = a.queue.Close()
	a.logger.Info("Event sink stopped",
		"accepted", a.accepted.Load(),
		"delivered", a.delivered.Load(),
		"failed", a.failed.Load(),
		"dropped", a.dropped.Load())
	return nil
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-a.notify:
			a.drain(ctx)
		case <-a.stop:
			a.drain(ctx)
			return
		}
	}
}

func (a *Async) drain(ctx context.Context) {
	for {
		batch := a.queue.ReadBatch(a.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			a.deliver(ctx, ev)
		}
	}
}

func (a *Async) deliver(ctx context.Context, ev ppg.BeatEvent) {
	for _, p := range a.publishers {
		pctx, cancel := context.WithTimeout(ctx, a.cfg.PublishTimeout)
		start := time.Now()
		err := p.Publish(pctx, ev)
		cancel()

		if err != nil {
			a.failed.Add(1)
			a.failStreak.Add(1)
			a.lastError.Store(err.Error())
			if a.metrics != nil {
				a.metrics.RecordError(p.Name(), errors.Classify(err).String())
			}
			if a.limiter.Allow() {
				a.logger.Warn("Publish failed", "publisher", p.Name(), "channel", ev.ChannelID, "error", err)
			}
			continue
		}

		a.delivered.Add(1)
		a.failStreak.Store(0)
		a.lastActivity.Store(time.Now().UnixNano())
		if a.metrics != nil {
			a.metrics.RecordPublished(a.name, p.Name(), time.Since(start))
		}
	}
}

// Stats is a snapshot of sink counters
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// Stats returns the current counters
func (a *Async) Stats() Stats {
	return Stats{
		Accepted:  a.accepted.Load(),
		Delivered: a.delivered.Load(),
		Failed:    a.failed.Load(),
		Dropped:   a.dropped.Load(),
		Queued:    a.queue.Size(),
	}
}

// Meta returns component metadata
func (a *Async) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "output",
		Description: "Queued beat event dispatch to output transports",
		Version:     "1.0.0",
	}
}

// Health is degraded while the most recent publishes keep failing
func (a *Async) Health() component.HealthStatus {
	a.lifecycleMu.Lock()
	running, started := a.running, a.startTime
	a.lifecycleMu.Unlock()

	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(a.failed.Load()),
	}
	if running {
		status.Uptime = time.Since(started)
	}
	if msg, ok := a.lastError.Load().(string); ok {
		status.LastError = msg
	}
	if streak := a.failStreak.Load(); streak > 0 {
		status.Degraded = true
		status.Details = fmt.Sprintf("%d consecutive publish failures", streak)
	}
	return status
}

// DataFlow reports delivery throughput since start
func (a *Async) DataFlow() component.FlowMetrics {
	a.lifecycleMu.Lock()
	started := a.startTime
	a.lifecycleMu.Unlock()

	var flow component.FlowMetrics
	if nanos := a.lastActivity.Load(); nanos > 0 {
		flow.LastActivity = time.Unix(0, nanos)
	}
	if started.IsZero() {
		return flow
	}
	if elapsed := time.Since(started).Seconds(); elapsed > 0 {
		flow.MessagesPerSecond = float64(a.delivered.Load()) / elapsed
	}
	if total := a.delivered.Load() + a.failed.Load(); total > 0 {
		flow.ErrorRate = float64(a.failed.Load()) / float64(total)
	}
	return flow
}
