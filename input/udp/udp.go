// Package udp provides the UDP input component that receives OSC sample
// bundles from the sensors and feeds them to the beat processor.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/corazonn/codec/osc"
	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/pkg/buffer"
	"github.com/c360/corazonn/pkg/retry"
	"github.com/c360/corazonn/ppg"
)

// Target receives decoded bundles. *beat.Registry implements it.
type Target interface {
	Ingest(b ppg.SampleBundle) error
	Reject(err error)
}

// Metrics holds Prometheus metrics for the UDP input
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  prometheus.Counter
	decodeErrors    prometheus.Counter
	ingestErrors    prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers UDP input metrics
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "corazonn",
			Subsystem:   "udp",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"port": strconv.Itoa(port)},
		})
	}

	m := &Metrics{
		packetsReceived: counter("packets_received_total", "Total UDP packets received"),
		bytesReceived:   counter("bytes_received_total", "Total bytes received from UDP"),
		packetsDropped:  counter("packets_dropped_total", "Packets dropped due to a full packet buffer"),
		decodeErrors:    counter("decode_errors_total", "Packets that were not valid /ppg OSC bundles"),
		ingestErrors:    counter("ingest_errors_total", "Decoded bundles refused by the processor"),
		socketErrors:    counter("socket_errors_total", "Socket read errors encountered"),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "corazonn",
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received packet",
			ConstLabels: prometheus.Labels{"port": strconv.Itoa(port)},
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	registry.RegisterCounter(serviceName, "packets_received", m.packetsReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "packets_dropped", m.packetsDropped)
	registry.RegisterCounter(serviceName, "decode_errors", m.decodeErrors)
	registry.RegisterCounter(serviceName, "ingest_errors", m.ingestErrors)
	registry.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	registry.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}

// InputConfig holds configuration for the UDP input
type InputConfig struct {
	Bind        string        `json:"bind" yaml:"bind"`
	Port        int           `json:"port" yaml:"port"`
	BufferSize  int           `json:"buffer_size" yaml:"buffer_size"`
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`
}

// DefaultConfig listens on 0.0.0.0:8000, where the sensors send /ppg/{n}
func DefaultConfig() InputConfig {
	return InputConfig{
		Bind:        "0.0.0.0",
		Port:        8000,
		BufferSize:  1024,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Validate checks the listener settings. Port 0 lets the OS pick a port.
func (c InputConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"InputConfig", "Validate", "port validation")
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil {
		return errors.WrapInvalid(fmt.Errorf("invalid bind address %q", c.Bind),
			"InputConfig", "Validate", "bind validation")
	}
	if c.BufferSize < 1 {
		return errors.WrapInvalid(fmt.Errorf("buffer_size %d must be at least 1", c.BufferSize),
			"InputConfig", "Validate", "buffer validation")
	}
	if c.ReadTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("read_timeout must be positive"),
			"InputConfig", "Validate", "timeout validation")
	}
	return nil
}

// InputDeps holds runtime dependencies for the UDP input
type InputDeps struct {
	Name            string
	Config          InputConfig
	Target          Target
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input listens for OSC packets, buffers them with a drop-oldest policy and
// decodes them into the target from a separate goroutine, so a slow decode
// never stalls the socket.
type Input struct {
	name   string
	cfg    InputConfig
	target Target
	logger *slog.Logger

	packets buffer.Queue[[]byte]
	notify  chan struct{}
	limiter *rate.Limiter

	retryConfig retry.Config

	shutdown  chan struct{}
	readDone  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	conn      *net.UDPConn

	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	decodeErrors     atomic.Int64
	ingestErrors     atomic.Int64
	socketErrors     atomic.Int64
	lastError        atomic.Value // string
	lastActivity     atomic.Value // time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a UDP input
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Target == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil target"), "udp-input", "NewInput", "target validation")
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("udp-input-%d", deps.Config.Port)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := &Input{
		name:        name,
		cfg:         deps.Config,
		target:      deps.Target,
		logger:      logger.With("component", name, "port", deps.Config.Port),
		notify:      make(chan struct{}, 1),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 5),
		retryConfig: retry.Quick(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, deps.Config.Port),
	}
	u.lastActivity.Store(time.Time{})

	packets, err := buffer.NewCircularQueue(deps.Config.BufferSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithMetrics[[]byte](deps.MetricsRegistry, name),
		buffer.WithDropCallback[[]byte](u.onDrop),
	)
	if err != nil {
		return nil, errors.WrapFatal(err, "udp-input", "NewInput", "create packet buffer")
	}
	u.packets = packets
	return u, nil
}

// Meta returns the component metadata
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        u.name,
		Type:        "input",
		Description: fmt.Sprintf("OSC sample bundles over UDP on %s", u.listenAddr()),
		Version:     "1.0.0",
	}
}

// Addr returns the bound socket address, or nil before Start
func (u *Input) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *Input) listenAddr() string {
	return net.JoinHostPort(u.cfg.Bind, strconv.Itoa(u.cfg.Port))
}

// Health reports healthy while the socket is bound
func (u *Input) Health() component.HealthStatus {
	u.mu.RLock()
	connected := u.conn != nil
	u.mu.RUnlock()

	lastError, _ := u.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    u.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(u.decodeErrors.Load() + u.socketErrors.Load()),
		LastError:  lastError,
		Uptime:     time.Since(u.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (u *Input) DataFlow() component.FlowMetrics {
	messages := u.messagesReceived.Load()
	bytes := u.bytesReceived.Load()
	errorCount := u.decodeErrors.Load() + u.socketErrors.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(u.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(messages) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		errorRate = float64(errorCount) / float64(messages)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Stats are cumulative packet counters
type Stats struct {
	Packets      int64
	Bytes        int64
	Dropped      int64
	DecodeErrors int64
	IngestErrors int64
	SocketErrors int64
}

// Stats returns a snapshot of the packet counters
func (u *Input) Stats() Stats {
	return Stats{
		Packets:      u.messagesReceived.Load(),
		Bytes:        u.bytesReceived.Load(),
		Dropped:      u.packets.Stats().Drops(),
		DecodeErrors: u.decodeErrors.Load(),
		IngestErrors: u.ingestErrors.Load(),
		SocketErrors: u.socketErrors.Load(),
	}
}

// Initialize is a no-op; configuration is checked by NewInput
func (u *Input) Initialize() error {
	return nil
}

// Start binds the socket, retrying briefly if the port is busy, and starts
// the read and decode loops.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, u.retryConfig, u.bindSocket); err != nil {
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.shutdown = make(chan struct{})
	u.readDone = make(chan struct{})
	u.done = make(chan struct{})
	u.running.Store(true)
	u.startTime = time.Now()

	go func() {
		defer close(u.readDone)
		u.readLoop(u.conn)
	}()
	go func() {
		defer close(u.done)
		u.decodeLoop()
	}()

	u.logger.Info("UDP input listening", "addr", u.conn.LocalAddr().String())
	return nil
}

// bindSocket creates and binds the UDP socket
func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", u.listenAddr())
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("failed to resolve UDP address %s: %w", u.listenAddr(), err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", u.listenAddr(), err)
	}

	const socketBufferSize = 1 << 20
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		u.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}

	u.conn = conn
	return nil
}

// Stop closes the socket, decodes what is still buffered and waits for both
// loops up to timeout.
func (u *Input) Stop(timeout time.Duration) error {
	u.mu.Lock()
	if !u.running.Load() {
		u.mu.Unlock()
		return nil
	}
	u.running.Store(false)
	close(u.shutdown)
	if u.conn != nil {
		_ = u.conn.Close()
	}
	done := u.done
	u.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}

	u.mu.Lock()
	u.conn = nil
	u.mu.Unlock()

	s := u.Stats()
	u.logger.Info("UDP input stopped",
		"packets", s.Packets, "dropped", s.Dropped, "decode_errors", s.DecodeErrors)
	return nil
}

// readLoop reads datagrams into the packet buffer until the socket closes
func (u *Input) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 65536)

	for {
		select {
		case <-u.shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-u.shutdown:
				return
			default:
			}

			u.socketErrors.Add(1)
			u.lastError.Store(err.Error())
			if u.metrics != nil {
				u.metrics.socketErrors.Inc()
			}
			if !errors.IsTransient(err) {
				u.logger.Error("UDP read failed, stopping read loop", "error", err)
				return
			}
			continue
		}

		u.messagesReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		now := time.Now()
		u.lastActivity.Store(now)
		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := u.packets.Write(data); err != nil {
			continue
		}
		select {
		case u.notify <- struct{}{}:
		default:
		}
	}
}

// decodeLoop hands buffered packets to the target. After the read loop ends
// it drains the buffer once more and returns.
func (u *Input) decodeLoop() {
	for {
		select {
		case <-u.notify:
			u.drain()
		case <-u.readDone:
			u.drain()
			return
		}
	}
}

func (u *Input) drain() {
	const maxBatchSize = 100
	for {
		packets := u.packets.ReadBatch(maxBatchSize)
		if len(packets) == 0 {
			return
		}
		for _, data := range packets {
			u.handle(data)
		}
	}
}

// handle decodes one packet. Undecodable packets are counted by the target's
// validator; refused bundles were already counted by it.
func (u *Input) handle(data []byte) {
	msg, err := osc.Decode(data)
	if err == nil {
		var b ppg.SampleBundle
		if b, err = osc.DecodeBundle(msg); err == nil {
			if err := u.target.Ingest(b); err != nil {
				u.ingestErrors.Add(1)
				if u.metrics != nil {
					u.metrics.ingestErrors.Inc()
				}
				u.logThrottled("Bundle refused", "channel", b.ChannelID, "kind", errors.ErrorKind(err), "error", err)
			}
			return
		}
	}

	u.decodeErrors.Add(1)
	u.lastError.Store(err.Error())
	if u.metrics != nil {
		u.metrics.decodeErrors.Inc()
	}
	u.target.Reject(err)
	u.logThrottled("Undecodable packet", "bytes", len(data), "error", err)
}

func (u *Input) onDrop(_ []byte) {
	if u.metrics != nil {
		u.metrics.packetsDropped.Inc()
	}
	u.logThrottled("Packet buffer full, oldest packet dropped")
}

func (u *Input) logThrottled(msg string, args ...any) {
	if u.limiter.Allow() {
		u.logger.Warn(msg, args...)
	}
}
