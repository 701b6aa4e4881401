// Package websocket provides the WebSocket output that streams beat events to
// connected browsers and visualizers.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/ppg"
)

// Envelope types
const (
	TypeHello = "hello"
	TypeBeat  = "beat"
)

// Config holds configuration for the WebSocket output
type Config struct {
	Bind         string        `json:"bind" yaml:"bind"`
	Port         int           `json:"port" yaml:"port"`
	Path         string        `json:"path" yaml:"path"`
	ClientBuffer int           `json:"client_buffer" yaml:"client_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
}

// DefaultConfig serves ws://0.0.0.0:8081/ws
func DefaultConfig() Config {
	return Config{
		Bind:         "0.0.0.0",
		Port:         8081,
		Path:         "/ws",
		ClientBuffer: 64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the server settings. Port 0 lets the OS pick a port.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid port %d", c.Port))
	case c.Path == "" || c.Path[0] != '/':
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("path %q must start with /", c.Path))
	case c.ClientBuffer < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "client_buffer must be at least 1")
	case c.WriteTimeout <= 0 || c.PingInterval <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeouts must be positive")
	}
	return nil
}

// Envelope wraps every message sent to a client
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	messagesSent       prometheus.Counter
	messagesDropped    prometheus.Counter
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers WebSocket metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "messages_sent_total", Help: "Beat envelopes written to clients",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "messages_dropped_total", Help: "Beat envelopes dropped for slow clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "bytes_sent_total", Help: "Total bytes sent to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "clients_connected", Help: "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "client_connections_total", Help: "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "client_disconnections_total", Help: "Total client disconnections",
		}, []string{"disconnect_reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corazonn", Subsystem: "websocket",
			Name: "errors_total", Help: "WebSocket server errors",
		}, []string{"error_type"}),
	}

	registry.RegisterCounter(name, "messages_sent", m.messagesSent)
	registry.RegisterCounter(name, "messages_dropped", m.messagesDropped)
	registry.RegisterCounter(name, "bytes_sent", m.bytesSent)
	registry.RegisterGauge(name, "clients_connected", m.clientsConnected)
	registry.RegisterCounter(name, "client_connections", m.connectionTotal)
	registry.RegisterCounterVec(name, "client_disconnections", m.disconnectionTotal)
	registry.RegisterCounterVec(name, "errors", m.errorsTotal)
	return m
}

// Deps holds runtime dependencies
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// client is one connected peer. Only its writer goroutine writes to conn.
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	send        chan []byte
	closed      atomic.Bool
	closeOnce   sync.Once
	sent        atomic.Int64
	dropped     atomic.Int64
}

// enqueue hands data to the writer without blocking. It reports false when
// the client is closed or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Output is a WebSocket server that broadcasts beat events. It implements
// sink.Publisher; Publish never waits on a client.
type Output struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	metrics  *Metrics

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client

	lifecycleMu sync.Mutex
	running     atomic.Bool
	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errorCount   atomic.Int64
	lastError    atomic.Value // string
	lastActivity atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates a WebSocket output
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("websocket-output-%d", deps.Config.Port)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Output{
		name:   name,
		cfg:    deps.Config,
		logger: logger.With("component", name),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics:   newMetrics(deps.MetricsRegistry, name),
		clients:   make(map[*websocket.Conn]*client),
		startTime: time.Now(),
	}, nil
}

// Name identifies the output as a publisher
func (w *Output) Name() string { return w.name }

// Meta returns the component metadata
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket beat stream on %s%s", w.listenAddr(), w.cfg.Path),
		Version:     "1.0.0",
	}
}

func (w *Output) listenAddr() string {
	return net.JoinHostPort(w.cfg.Bind, strconv.Itoa(w.cfg.Port))
}

// Addr returns the bound listener address, or nil before Start
func (w *Output) Addr() net.Addr {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// ClientCount returns the number of connected clients
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Health reports healthy while the server is running
func (w *Output) Health() component.HealthStatus {
	lastError, _ := w.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    w.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(w.errorCount.Load()),
		LastError:  lastError,
		Uptime:     time.Since(w.startTime),
		Details:    fmt.Sprintf("%d clients", w.ClientCount()),
	}
}

// DataFlow returns the current data flow metrics
func (w *Output) DataFlow() component.FlowMetrics {
	messages := w.messagesSent.Load()
	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(w.startTime).Seconds(); uptime > 0 {
		perSecond = float64(messages) / uptime
		bytesPerSecond = float64(w.bytesSent.Load()) / uptime
	}
	if messages > 0 {
		errorRate = float64(w.errorCount.Load()) / float64(messages)
	}
	var last time.Time
	if ns := w.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize is a no-op; configuration is checked by NewOutput
func (w *Output) Initialize() error {
	return nil
}

// Start binds the listener and serves the WebSocket endpoint
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled")
	}

	ln, err := net.Listen("tcp", w.listenAddr())
	if err != nil {
		return errors.WrapTransient(err, "Output", "Start", fmt.Sprintf("listen on %s", w.listenAddr()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	w.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	w.listener = ln
	w.shutdown = make(chan struct{})
	w.startTime = time.Now()
	w.running.Store(true)

	w.wg.Add(2)
	go w.runServer(w.server, ln)
	go w.maintainClients(w.shutdown)

	w.logger.Info("WebSocket output listening", "addr", ln.Addr().String(), "path", w.cfg.Path)
	return nil
}

// Stop shuts the server down and disconnects every client
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Swap(false) {
		return nil
	}
	close(w.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.server.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("HTTP server shutdown error", "error", err)
	}
	w.closeAllClients("shutdown")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("goroutines still running after %v", timeout),
			"Output", "Stop", "wait for clients")
	}

	w.server = nil
	w.listener = nil
	w.logger.Info("WebSocket output stopped", "messages_sent", w.messagesSent.Load())
	return err
}

func (w *Output) runServer(server *http.Server, ln net.Listener) {
	defer w.wg.Done()
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		w.recordError("serve", err)
		w.logger.Error("HTTP server failed", "error", err)
	}
}

// Publish broadcasts ev to every connected client. Clients whose buffer is
// full miss the event; the call itself never blocks on the network.
func (w *Output) Publish(_ context.Context, ev ppg.BeatEvent) error {
	if !w.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Publish", "check running state")
	}

	data, err := newEnvelope(TypeBeat, uuid.NewString(), ev)
	if err != nil {
		return errors.WrapInvalid(err, "Output", "Publish", "marshal beat envelope")
	}

	w.clientsMu.RLock()
	for _, c := range w.clients {
		if !c.enqueue(data) && w.metrics != nil {
			w.metrics.messagesDropped.Inc()
		}
	}
	w.clientsMu.RUnlock()

	w.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func newEnvelope(kind, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
}

// handleWebSocket upgrades a connection, greets it with its client id and
// starts its reader and writer.
func (w *Output) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.recordError("connection_upgrade", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
		send:        make(chan []byte, w.cfg.ClientBuffer),
	}

	hello, err := newEnvelope(TypeHello, c.id, map[string]string{"client_id": c.id})
	if err == nil {
		c.send <- hello
	}

	w.clientsMu.Lock()
	w.clients[conn] = c
	count := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("Client connected", "client_id", c.id, "remote", r.RemoteAddr)

	w.wg.Add(2)
	go w.writeLoop(c)
	go w.readLoop(c)

	if !w.running.Load() {
		w.removeClient(c, "shutdown")
	}
}

// readLoop consumes client frames so pongs and close frames are processed.
// Clients have nothing to say; payloads are ignored.
func (w *Output) readLoop(c *client) {
	defer w.wg.Done()
	defer w.removeClient(c, "normal")

	readTimeout := 2 * w.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer of c.conn
func (w *Output) writeLoop(c *client) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.recordError("write", err)
				w.removeClient(c, "write_error")
				return
			}
			c.sent.Add(1)
			w.messagesSent.Add(1)
			w.bytesSent.Add(int64(len(data)))
			if w.metrics != nil {
				w.metrics.messagesSent.Inc()
				w.metrics.bytesSent.Add(float64(len(data)))
			}
		case <-ticker.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.removeClient(c, "ping_failed")
				return
			}
		}
	}
}

// maintainClients periodically updates the connected-clients gauge
func (w *Output) maintainClients(shutdown <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			if w.metrics != nil {
				w.metrics.clientsConnected.Set(float64(w.ClientCount()))
			}
		}
	}
}

// removeClient disconnects c once. Closing send ends its writer.
func (w *Output) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients, c.conn)
		count := len(w.clients)
		close(c.send)
		w.clientsMu.Unlock()

		_ = c.conn.Close()
		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}
		w.logger.Debug("Client disconnected",
			"client_id", c.id, "reason", reason, "sent", c.sent.Load(), "dropped", c.dropped.Load())
	})
}

func (w *Output) closeAllClients(reason string) {
	w.clientsMu.RLock()
	clients := make([]*client, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range clients {
		w.removeClient(c, reason)
	}
}

func (w *Output) recordError(kind string, err error) {
	w.errorCount.Add(1)
	w.lastError.Store(err.Error())
	if w.metrics != nil {
		w.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}
