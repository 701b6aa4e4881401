// Package httppost forwards beat events to an HTTP webhook as JSON POST
// requests.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/pkg/retry"
	"github.com/c360/corazonn/ppg"
)

// Config holds the webhook settings
type Config struct {
	URL         string            `json:"url" yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ContentType string            `json:"content_type" yaml:"content_type"`
	Timeout     time.Duration     `json:"timeout" yaml:"timeout"`
	RetryCount  int               `json:"retry_count" yaml:"retry_count"`

	// BreakerThreshold consecutive failed deliveries open the breaker for
	// BreakerTimeout; 0 disables the breaker
	BreakerThreshold uint32        `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// DefaultConfig returns defaults without a URL
func DefaultConfig() Config {
	return Config{
		ContentType:      "application/json",
		Timeout:          2 * time.Second,
		RetryCount:       2,
		BreakerThreshold: 5,
		BreakerTimeout:   10 * time.Second,
	}
}

// Validate checks the webhook settings
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("url scheme must be http or https, got %q", u.Scheme))
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout must be positive")
	}
	if c.RetryCount < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "retry_count cannot be negative")
	}
	if c.BreakerThreshold > 0 && c.BreakerTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "breaker_timeout must be positive")
	}
	return nil
}

// Deps holds runtime dependencies
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Client          *http.Client // optional
}

// Output POSTs each beat to the webhook. It implements sink.Publisher.
type Output struct {
	name    string
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   retry.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	sent         atomic.Int64
	retried      atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates a webhook output
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "webhook-output"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: deps.Config.Timeout}
	}

	h := &Output{
		name:      name,
		cfg:       deps.Config,
		client:    client,
		logger:    logger.With("component", name),
		startTime: time.Now(),
	}
	if deps.MetricsRegistry != nil {
		h.metrics = deps.MetricsRegistry.CoreMetrics()
	}

	h.retry = retry.DefaultConfig()
	h.retry.MaxAttempts = deps.Config.RetryCount + 1
	h.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		h.retried.Add(1)
		h.logger.Debug("Retrying webhook delivery", "attempt", attempt, "delay", delay, "error", err)
	}

	if deps.Config.BreakerThreshold > 0 {
		threshold := deps.Config.BreakerThreshold
		h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     deps.Config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				h.logger.Warn("Webhook breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return h, nil
}

// Name identifies the output as a publisher
func (h *Output) Name() string { return h.name }

// Initialize is a no-op; configuration is checked by NewOutput
func (h *Output) Initialize() error {
	return nil
}

// Start begins accepting beats
func (h *Output) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true
	h.startTime = time.Now()
	h.logger.Info("Webhook output ready", "url", h.cfg.URL)
	return nil
}

// Stop stops accepting beats and releases idle connections
func (h *Output) Stop(_ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false
	h.client.CloseIdleConnections()
	h.logger.Info("Webhook output stopped", "sent", h.sent.Load(), "retried", h.retried.Load(), "errors", h.errorCount.Load())
	return nil
}

// Publish POSTs ev as JSON, retrying transient failures
func (h *Output) Publish(ctx context.Context, ev ppg.BeatEvent) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Publish", "check running state")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return h.fail(errors.WrapInvalid(err, "Output", "Publish", "marshal beat"))
	}

	start := time.Now()
	deliver := func() error {
		return retry.Do(ctx, h.retry, func() error { return h.post(ctx, body) })
	}
	if h.breaker != nil {
		_, err = h.breaker.Execute(func() (any, error) { return nil, deliver() })
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = errors.WrapTransient(err, "Output", "Publish", "webhook breaker")
		}
	} else {
		err = deliver()
	}
	if err != nil {
		return h.fail(err)
	}

	h.sent.Add(1)
	h.lastActivity.Store(time.Now().UnixNano())
	if h.metrics != nil {
		h.metrics.RecordPublished(h.name, "webhook", time.Since(start))
	}
	return nil
}

// post sends one request. Client errors (4xx) are not retried.
func (h *Output) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Output", "post", "build request"))
	}
	req.Header.Set("Content-Type", h.cfg.ContentType)
	for key, value := range h.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Output", "post", "send request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("HTTP %d", resp.StatusCode), "Output", "post", "webhook rejected beat"))
	default:
		return errors.WrapTransient(fmt.Errorf("HTTP %d", resp.StatusCode), "Output", "post", "webhook unavailable")
	}
}

func (h *Output) fail(err error) error {
	h.errorCount.Add(1)
	h.lastError.Store(err.Error())
	if h.metrics != nil {
		h.metrics.RecordError(h.name, errors.ErrorKind(err))
	}
	return err
}

// Meta returns component metadata
func (h *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        h.name,
		Type:        "output",
		Description: fmt.Sprintf("Beat webhook POST to %s", h.cfg.URL),
		Version:     "1.0.0",
	}
}

// Health reports degraded while the breaker is open
func (h *Output) Health() component.HealthStatus {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	lastError, _ := h.lastError.Load().(string)
	status := component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(h.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(h.startTime),
	}
	if h.breaker != nil {
		state := h.breaker.State()
		status.Degraded = running && state != gobreaker.StateClosed
		status.Details = "breaker " + state.String()
	}
	return status
}

// DataFlow returns current data flow metrics
func (h *Output) DataFlow() component.FlowMetrics {
	sent := h.sent.Load()
	errs := h.errorCount.Load()
	var perSecond, errorRate float64
	if uptime := time.Since(h.startTime).Seconds(); uptime > 0 {
		perSecond = float64(sent) / uptime
	}
	if total := sent + errs; total > 0 {
		errorRate = float64(errs) / float64(total)
	}
	var last time.Time
	if ns := h.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{MessagesPerSecond: perSecond, ErrorRate: errorRate, LastActivity: last}
}
