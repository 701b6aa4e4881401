// Package natssub receives JSON sample bundles from NATS and feeds them to the
// beat processor. It lets a bridge or a replay tool inject sensor data without
// speaking OSC.
package natssub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// DefaultSubject matches corazonn.ppg.{channel}
const DefaultSubject = "corazonn.ppg.>"

// Subscriber is the part of natsclient.Client the input uses
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Target receives decoded bundles. *beat.Registry implements it.
type Target interface {
	Ingest(b ppg.SampleBundle) error
	Reject(err error)
}

// Config selects the subject to subscribe to
type Config struct {
	Subject string `json:"subject" yaml:"subject"`
}

// DefaultConfig subscribes to every channel
func DefaultConfig() Config {
	return Config{Subject: DefaultSubject}
}

// Validate checks the subject
func (c Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject is required")
	}
	return nil
}

// Deps holds runtime dependencies
type Deps struct {
	Name            string
	Config          Config
	Client          Subscriber
	Target          Target
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input subscribes to the bundle subject. Messages arriving while the input is
// stopped are ignored; the subscription itself ends when the client closes.
type Input struct {
	name    string
	cfg     Config
	client  Subscriber
	target  Target
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *metric.Metrics

	mu         sync.Mutex
	subscribed bool
	running    atomic.Bool
	startTime  time.Time

	received     atomic.Int64
	bytes        atomic.Int64
	decodeErrors atomic.Int64
	ingestErrors atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a NATS bundle input
func NewInput(deps Deps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil || deps.Target == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natssub", "NewInput", "client and target are required")
	}

	name := deps.Name
	if name == "" {
		name = "nats-input"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	in := &Input{
		name:      name,
		cfg:       deps.Config,
		client:    deps.Client,
		target:    deps.Target,
		logger:    logger.With("component", name, "subject", deps.Config.Subject),
		limiter:   rate.NewLimiter(rate.Every(time.Second), 5),
		startTime: time.Now(),
	}
	if deps.MetricsRegistry != nil {
		in.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return in, nil
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "input",
		Description: fmt.Sprintf("JSON sample bundles from NATS subject %s", in.cfg.Subject),
		Version:     "1.0.0",
	}
}

// Health reports healthy while subscribed and running
func (in *Input) Health() component.HealthStatus {
	in.mu.Lock()
	subscribed := in.subscribed
	in.mu.Unlock()

	lastError, _ := in.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    subscribed && in.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.decodeErrors.Load()),
		LastError:  lastError,
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (in *Input) DataFlow() component.FlowMetrics {
	received := in.received.Load()
	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
		bytesPerSecond = float64(in.bytes.Load()) / uptime
	}
	if received > 0 {
		errorRate = float64(in.decodeErrors.Load()) / float64(received)
	}
	var last time.Time
	if ns := in.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize is a no-op; configuration is checked by NewInput
func (in *Input) Initialize() error {
	return nil
}

// Start subscribes on first use and resumes delivery after a Stop
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}
	if !in.subscribed {
		if err := in.client.Subscribe(context.WithoutCancel(ctx), in.cfg.Subject, in.handleMessage); err != nil {
			return errors.WrapTransient(err, "natssub", "Start", fmt.Sprintf("subscribe to %s", in.cfg.Subject))
		}
		in.subscribed = true
	}
	in.running.Store(true)
	in.startTime = time.Now()
	in.logger.Info("NATS input subscribed")
	return nil
}

// Stop stops handing messages to the target
func (in *Input) Stop(_ time.Duration) error {
	if !in.running.Swap(false) {
		return nil
	}
	in.logger.Info("NATS input stopped",
		"received", in.received.Load(),
		"decode_errors", in.decodeErrors.Load(),
		"ingest_errors", in.ingestErrors.Load())
	return nil
}

// handleMessage decodes one JSON bundle. A body that is not a bundle is
// counted as malformed by the target's validator.
func (in *Input) handleMessage(_ context.Context, data []byte) {
	if !in.running.Load() {
		return
	}
	in.received.Add(1)
	in.bytes.Add(int64(len(data)))
	in.lastActivity.Store(time.Now().UnixNano())

	var b ppg.SampleBundle
	if err := json.Unmarshal(data, &b); err != nil {
		err = errors.Invalidf(errors.ErrMalformedBundle, "natssub", "handleMessage", "decode json: %v", err)
		in.decodeErrors.Add(1)
		in.lastError.Store(err.Error())
		in.record("malformed_bundle")
		in.target.Reject(err)
		if in.limiter.Allow() {
			in.logger.Warn("Undecodable bundle", "bytes", len(data), "error", err)
		}
		return
	}

	if err := in.target.Ingest(b); err != nil {
		in.ingestErrors.Add(1)
		in.record(errors.ErrorKind(err))
		if in.limiter.Allow() {
			in.logger.Warn("Bundle refused", "channel", b.ChannelID, "error", err)
		}
	}
}

func (in *Input) record(kind string) {
	if in.metrics != nil {
		in.metrics.RecordError(in.name, kind)
	}
}
