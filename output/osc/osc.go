// Package osc sends beat events as OSC /beat/{channel} messages over UDP to
// the actuators: the audio engine and the lighting controller by default.
package osc

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	oscwire "github.com/c360/corazonn/codec/osc"
	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// Destination is one actuator endpoint
type Destination struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
}

// Config lists the actuator endpoints
type Config struct {
	Destinations []Destination `json:"destinations" yaml:"destinations"`
}

// DefaultConfig targets the audio engine on :8001 and lighting on :8002
func DefaultConfig() Config {
	return Config{
		Destinations: []Destination{
			{Name: "audio", Address: "127.0.0.1:8001"},
			{Name: "lighting", Address: "127.0.0.1:8002"},
		},
	}
}

// Validate checks every destination address
func (c Config) Validate() error {
	if len(c.Destinations) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one destination is required")
	}
	seen := make(map[string]bool, len(c.Destinations))
	for _, d := range c.Destinations {
		if d.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("destination %s has no name", d.Address))
		}
		if seen[d.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("duplicate destination %q", d.Name))
		}
		seen[d.Name] = true
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("destination %q address", d.Name))
		}
	}
	return nil
}

// Deps holds runtime dependencies
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

type endpoint struct {
	Destination
	conn   *net.UDPConn
	sent   atomic.Int64
	failed atomic.Int64
}

// Output writes each beat to every destination. It implements sink.Publisher.
type Output struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.RWMutex
	endpoints []*endpoint
	running   bool
	startTime time.Time

	published    atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates an OSC output
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "osc-output"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Output{
		name:      name,
		cfg:       deps.Config,
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
	addrs := make([]string, len(o.cfg.Destinations))
	for i, d := range o.cfg.Destinations {
		addrs[i] = d.Name + "=" + d.Address
	}
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("OSC /beat messages over UDP to %v", addrs),
		Version:     "1.0.0",
	}
}

// Health reports healthy while the sockets are open
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
	if published > 0 {
		errorRate = float64(o.errorCount.Load()) / float64(published)
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

// Start opens one UDP socket per destination
func (o *Output) Start(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	endpoints := make([]*endpoint, 0, len(o.cfg.Destinations))
	for _, d := range o.cfg.Destinations {
		addr, err := net.ResolveUDPAddr("udp", d.Address)
		if err == nil {
			var conn *net.UDPConn
			if conn, err = net.DialUDP("udp", nil, addr); err == nil {
				endpoints = append(endpoints, &endpoint{Destination: d, conn: conn})
				continue
			}
		}
		for _, ep := range endpoints {
			_ = ep.conn.Close()
		}
		return errors.WrapTransient(err, "Output", "Start", fmt.Sprintf("open destination %s", d.Name))
	}

	o.endpoints = endpoints
	o.running = true
	o.startTime = time.Now()
	o.logger.Info("OSC output ready", "destinations", len(endpoints))
	return nil
}

// Stop closes the sockets
func (o *Output) Stop(_ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.running = false

	var errs []error
	for _, ep := range o.endpoints {
		if err := ep.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		o.logger.Info("OSC destination closed", "destination", ep.Name, "sent", ep.sent.Load(), "failed", ep.failed.Load())
	}
	o.endpoints = nil
	return stderrors.Join(errs...)
}

// Publish sends one /beat/{channel} message to every destination. A failing
// destination does not keep the others from receiving the beat.
func (o *Output) Publish(_ context.Context, ev ppg.BeatEvent) error {
	data, err := oscwire.Encode(oscwire.BeatMessage(ev))
	if err != nil {
		return err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.running {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Publish", "check running state")
	}

	var errs []error
	for _, ep := range o.endpoints {
		start := time.Now()
		if _, err := ep.conn.Write(data); err != nil {
			ep.failed.Add(1)
			errs = append(errs, fmt.Errorf("%s: %w", ep.Name, err))
			if o.metrics != nil {
				o.metrics.RecordError(o.name, ep.Name)
			}
			continue
		}
		ep.sent.Add(1)
		if o.metrics != nil {
			o.metrics.RecordPublished(o.name, ep.Name, time.Since(start))
		}
	}

	o.published.Add(1)
	o.lastActivity.Store(time.Now().UnixNano())
	if len(errs) > 0 {
		err := errors.WrapTransient(stderrors.Join(errs...), "Output", "Publish", "send beat")
		o.errorCount.Add(1)
		o.lastError.Store(err.Error())
		return err
	}
	return nil
}
