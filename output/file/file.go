// Package file records beat events to a JSON Lines file for later analysis
// of a session.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/corazonn/component"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/ppg"
)

// Config holds configuration for the beat recorder
type Config struct {
	Directory     string        `json:"directory" yaml:"directory"`
	FilePrefix    string        `json:"file_prefix" yaml:"file_prefix"`
	Append        bool          `json:"append" yaml:"append"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "file_prefix is required")
	}
	if c.BufferSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffer_size must be at least 1")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "flush_interval must be positive")
	}
	return nil
}

// DefaultConfig appends to /tmp/corazonn/beats.jsonl
func DefaultConfig() Config {
	return Config{
		Directory:     "/tmp/corazonn",
		FilePrefix:    "beats",
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Deps holds runtime dependencies
type Deps struct {
	Name   string
	Config Config
	Logger *slog.Logger
}

// Output buffers beat events and writes them as one JSON object per line. It
// implements sink.Publisher.
type Output struct {
	name   string
	cfg    Config
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errorCount      atomic.Int64
	lastActivity    atomic.Int64 // unix nanos
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates a beat recorder
func NewOutput(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "file-output"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		name:   name,
		cfg:    deps.Config,
		logger: logger.With("component", name),
		buffer: make([][]byte, 0, deps.Config.BufferSize),
	}, nil
}

// Name identifies the output as a publisher
func (f *Output) Name() string { return f.name }

// Path returns the file beats are written to
func (f *Output) Path() string {
	return filepath.Join(f.cfg.Directory, f.cfg.FilePrefix+".jsonl")
}

// Initialize creates the output directory
func (f *Output) Initialize() error {
	if err := os.MkdirAll(f.cfg.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Output", "Initialize", "create output directory")
	}
	return nil
}

// Start opens the file and starts the periodic flush
func (f *Output) Start(_ context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.Path(), flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Start", "open output file")
	}

	f.fileMu.Lock()
	f.file = file
	f.fileMu.Unlock()

	f.shutdown = make(chan struct{})
	f.wg.Add(1)
	go f.flushLoop(f.shutdown)

	f.mu.Lock()
	f.running = true
	f.startTime = time.Now()
	f.mu.Unlock()

	f.logger.Info("Beat recorder started", "path", f.Path(), "append", f.cfg.Append)
	return nil
}

// Stop flushes what is buffered and closes the file
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running {
		return nil
	}

	close(f.shutdown)
	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.flush()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			f.logger.Warn("Failed to close output file", "error", err, "path", f.Path())
		}
		f.file = nil
	}
	f.logger.Info("Beat recorder stopped", "written", f.messagesWritten.Load(), "errors", f.errorCount.Load())
	return nil
}

// Publish buffers ev and flushes when the buffer is full
func (f *Output) Publish(_ context.Context, ev ppg.BeatEvent) error {
	f.mu.RLock()
	running := f.running
	f.mu.RUnlock()
	if !running {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Publish", "check running state")
	}

	line, err := json.Marshal(ev)
	if err != nil {
		f.errorCount.Add(1)
		return errors.WrapInvalid(err, "Output", "Publish", "marshal beat")
	}

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, append(line, '\n'))
	shouldFlush := len(f.buffer) >= f.cfg.BufferSize
	f.bufferMu.Unlock()

	if shouldFlush {
		f.flush()
	}
	f.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func (f *Output) flushLoop(shutdown <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered lines to the file
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	lines := f.buffer
	f.buffer = make([][]byte, 0, f.cfg.BufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		f.errorCount.Add(int64(len(lines)))
		f.logger.Error("File handle is nil during flush", "lines_lost", len(lines))
		return
	}

	for _, line := range lines {
		n, err := f.file.Write(line)
		if err != nil {
			f.errorCount.Add(1)
			f.logger.Error("Failed to write beat", "error", err)
			continue
		}
		f.messagesWritten.Add(1)
		f.bytesWritten.Add(int64(n))
	}
}

// Meta returns component metadata
func (f *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Type:        "output",
		Description: fmt.Sprintf("Beat recorder writing JSON lines to %s", f.Path()),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (f *Output) Health() component.HealthStatus {
	f.mu.RLock()
	running, started := f.running, f.startTime
	f.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errorCount.Load()),
		Uptime:     time.Since(started),
	}
}

// DataFlow returns current data flow metrics
func (f *Output) DataFlow() component.FlowMetrics {
	f.mu.RLock()
	started := f.startTime
	f.mu.RUnlock()

	written := f.messagesWritten.Load()
	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(started).Seconds(); uptime > 0 && !started.IsZero() {
		perSecond = float64(written) / uptime
		bytesPerSecond = float64(f.bytesWritten.Load()) / uptime
	}
	if written > 0 {
		errorRate = float64(f.errorCount.Load()) / float64(written)
	}
	var last time.Time
	if ns := f.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}
