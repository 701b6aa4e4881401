// Package natspub publishes beat events to NATS as JSON, one subject per
// channel, and optionally keeps the latest beat of each channel in a
// JetStream key-value bucket for late joiners.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// DefaultSubjectPrefix yields corazonn.beat.{channel}
const DefaultSubjectPrefix = "corazonn.beat"

// Client is the part of natsclient.Client the output uses
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

// Config selects subjects and the optional latest-beat bucket
type Config struct {
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	LatestBucket  string        `json:"latest_bucket" yaml:"latest_bucket"` // empty disables the bucket
	LatestTTL     time.Duration `json:"latest_ttl" yaml:"latest_ttl"`
}

// DefaultConfig publishes on corazonn.beat.{channel} without a bucket
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: DefaultSubjectPrefix,
		LatestTTL:     time.Minute,
	}
}

// Validate checks the subject prefix
func (c Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "subject_prefix is required")
	}
	if c.LatestTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "latest_ttl cannot be negative")
	}
	return nil
}

// Subject returns the subject a channel's beats are published on
func (c Config) Subject(channel int) string {
	return fmt.Sprintf("%s.%d", c.SubjectPrefix, channel)
}

// LatestKey returns the bucket key holding a channel's latest beat
func LatestKey(channel int) string {
	return fmt.Sprintf("channel.%d", channel)
}

// Deps holds runtime dependencies
type Deps struct {
	Name            string
	Config          Config
	Client          Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output implements sink.Publisher over NATS
type Output struct {
	name    string
	cfg     Config
	client  Client
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	latest    jetstream.KeyValue
	running   bool
	startTime time.Time

	published    atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates a NATS beat output
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natspub", "NewOutput", "NATS client is required")
	}
	name := deps.Name
	if name == "" {
		name = "nats-output"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Output{
		name:      name,
		cfg:       deps.Config,
		client:    deps.Client,
		logger:    logger.With("component", name),
		startTime: time.Now(),
	}
	if deps.MetricsRegistry != nil {
		o.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	return o, nil
}

// Name identifies the output as a publisher
func (o *Output) Name() string { return o.name }

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	desc := fmt.Sprintf("JSON beat events on %s.{channel}", o.cfg.SubjectPrefix)
	if o.cfg.LatestBucket != "" {
		desc += fmt.Sprintf(", latest beat in bucket %s", o.cfg.LatestBucket)
	}
	return component.Metadata{Name: o.name, Type: "output", Description: desc, Version: "1.0.0"}
}

// Health reports healthy while running
func (o *Output) Health() component.HealthStatus {
	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()

	lastError, _ := o.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	published := o.published.Load()
	var perSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 {
		perSecond = float64(published) / uptime
	}
	if total := published + o.errorCount.Load(); total > 0 {
		errorRate = float64(o.errorCount.Load()) / float64(total)
	}
	var last time.Time
	if ns := o.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{MessagesPerSecond: perSecond, ErrorRate: errorRate, LastActivity: last}
}

// Initialize is a no-op; configuration is checked by NewOutput
func (o *Output) Initialize() error {
	return nil
}

// Start opens the latest-beat bucket when one is configured
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	if o.cfg.LatestBucket != "" {
		kv, err := o.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      o.cfg.LatestBucket,
			Description: "latest beat per channel",
			History:     1,
			TTL:         o.cfg.LatestTTL,
		})
		if err != nil {
			return errors.Wrap(err, "Output", "Start", fmt.Sprintf("open bucket %s", o.cfg.LatestBucket))
		}
		o.latest = kv
	}
	o.running = true
	o.startTime = time.Now()
	o.logger.Info("NATS output ready", "subject_prefix", o.cfg.SubjectPrefix, "bucket", o.cfg.LatestBucket)
	return nil
}

// Stop stops accepting beats; the connection belongs to the caller
func (o *Output) Stop(_ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false
	o.latest = nil
	o.logger.Info("NATS output stopped", "published", o.published.Load(), "errors", o.errorCount.Load())
	return nil
}

// Publish sends ev on its channel subject and records it as the channel's
// latest beat
func (o *Output) Publish(ctx context.Context, ev ppg.BeatEvent) error {
	o.mu.RLock()
	running, latest := o.running, o.latest
	o.mu.RUnlock()

	if !running {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Publish", "check running state")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return o.fail("marshal", errors.WrapInvalid(err, "Output", "Publish", "marshal beat"))
	}

	start := time.Now()
	subject := o.cfg.Subject(ev.ChannelID)
	if err := o.client.Publish(ctx, subject, data); err != nil {
		return o.fail("publish", errors.WrapTransient(err, "Output", "Publish", fmt.Sprintf("publish to %s", subject)))
	}
	if latest != nil {
		if _, err := latest.Put(ctx, LatestKey(ev.ChannelID), data); err != nil {
			return o.fail("kv_put", errors.WrapTransient(err, "Output", "Publish", "store latest beat"))
		}
	}

	o.published.Add(1)
	o.lastActivity.Store(time.Now().UnixNano())
	if o.metrics != nil {
		o.metrics.RecordPublished(o.name, subject, time.Since(start))
	}
	return nil
}

func (o *Output) fail(kind string, err error) error {
	o.errorCount.Add(1)
	o.lastError.Store(err.Error())
	if o.metrics != nil {
		o.metrics.RecordError(o.name, kind)
	}
	return err
}
