// Package worker provides a generic worker pool for concurrent task processing
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/corazonn/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Pool processes work items of type T on a fixed number of goroutines fed by a
// bounded queue. With a single worker, items are processed in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup
	done     chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	closed      bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime prometheus.Histogram
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics labelled with the given pool name
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithErrorHandler sets a callback for items whose processing failed or panicked
func WithErrorHandler[T any](fn func(item T, err error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a new generic worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	labels := prometheus.Labels{"pool": p.metricsPrefix}

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corazonn", Subsystem: "worker", Name: "queue_depth",
			Help: "Current worker pool queue depth", ConstLabels: labels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "worker", Name: "submitted_total",
			Help: "Total work items submitted", ConstLabels: labels,
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "worker", Name: "failed_total",
			Help: "Total work items that failed processing", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "worker", Name: "dropped_total",
			Help: "Total work items dropped due to full queue", ConstLabels: labels,
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corazonn", Subsystem: "worker", Name: "processing_duration_seconds",
			Help:        "Time spent processing one work item",
			Buckets:     []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			ConstLabels: labels,
		}),
	}

	// A registration conflict leaves the pool without metrics rather than failing it
	service := "worker_" + p.metricsPrefix
	if p.metricsRegistry.RegisterGauge(service, "queue_depth", m.queueDepth) != nil ||
		p.metricsRegistry.RegisterCounter(service, "submitted", m.submitted) != nil ||
		p.metricsRegistry.RegisterCounter(service, "failed", m.failed) != nil ||
		p.metricsRegistry.RegisterCounter(service, "dropped", m.dropped) != nil ||
		p.metricsRegistry.RegisterHistogram(service, "processing_duration", m.processingTime) != nil {
		return
	}
	p.metrics = m
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx stops them without draining;
// use Stop for an orderly drain.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued items to be processed.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return nil
	}
	if !p.closed {
		p.closed = true
		close(p.workChan)
	}
	p.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}

		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
			if p.onError != nil {
				p.onError(work, err)
			}
		}
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
			p.metrics.processingTime.Observe(time.Since(start).Seconds())
			if err != nil {
				p.metrics.failed.Inc()
			}
		}
	}()

	err = p.processor(ctx, work)
}
