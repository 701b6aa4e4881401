package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/corazonn/config"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/health"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/output/osc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *CLIConfig)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.Empty(t, cfg.ConfigPaths)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "json", cfg.LogFormat)
				assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
			},
		},
		{
			name: "layered config files",
			args: []string{"-config", "base.yaml", "-c", "venue.yaml"},
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.Equal(t, []string{"base.yaml", "venue.yaml"}, cfg.ConfigPaths)
			},
		},
		{
			name: "debug forces debug level",
			args: []string{"-debug", "-log-level", "warn"},
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name: "modes",
			args: []string{"-validate", "-print-config", "-v", "-shutdown-timeout", "3s"},
			check: func(t *testing.T, cfg *CLIConfig) {
				assert.True(t, cfg.Validate)
				assert.True(t, cfg.PrintConfig)
				assert.True(t, cfg.ShowVersion)
				assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet(appName, flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			cfg, err := parseFlags(fs, tt.args)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("CORAZONN_CONFIG", "/etc/corazonn.yaml")
	t.Setenv("CORAZONN_LOG_FORMAT", "text")

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg, err := parseFlags(fs, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/corazonn.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "text", cfg.LogFormat)

	fs = flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg, err = parseFlags(fs, []string{"-config", "other.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"other.yaml"}, cfg.ConfigPaths)
}

func TestParseFlags_Unknown(t *testing.T) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := parseFlags(fs, []string{"-nope"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "corazonn.yaml")
	require.NoError(t, os.WriteFile(existing, []byte("version: \"1\"\n"), 0o600))

	valid := func() *CLIConfig {
		return &CLIConfig{
			ConfigPaths:     []string{existing},
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *CLIConfig)
		wantErr string
	}{
		{"valid", func(*CLIConfig) {}, ""},
		{"missing file", func(c *CLIConfig) { c.ConfigPaths = append(c.ConfigPaths, "/nonexistent.yaml") }, "config file not found"},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }, "invalid log format"},
		{"bad timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }, "invalid shutdown timeout"},
		{"version skips checks", func(c *CLIConfig) { c.LogLevel = "trace"; c.ShowVersion = true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))

	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "channel", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"service":"corazonn"`)
	assert.Contains(t, out, `"channel":2`)

	buf.Reset()
	setupLogger(&buf, "info", "text").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
processor:
  channel_count: 2
outputs:
  osc:
    enabled: true
    destinations:
      - name: audio
        address: 127.0.0.1:9001
`), 0o600))

	cfg, err := loadConfig([]string{path})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Processor.ChannelCount)
	require.Len(t, cfg.Outputs.OSC.Destinations, 1)
	assert.Equal(t, "127.0.0.1:9001", cfg.Outputs.OSC.Destinations[0].Address)

	_, err = loadConfig([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Inputs.UDP.Port = 0
	cfg.Outputs.OSC.Config = osc.Config{Destinations: []osc.Destination{
		{Name: "audio", Address: "127.0.0.1:9"},
	}}
	cfg.Metrics.Enabled = false
	return cfg
}

func TestBuildPipeline_Defaults(t *testing.T) {
	p, err := buildPipeline(testConfig(t), pipelineDeps{
		MetricsRegistry: metric.NewMetricsRegistry(),
		Logger:          discardLogger(),
	})
	require.NoError(t, err)

	var names []string
	for _, comp := range p.manager.Components() {
		names = append(names, comp.Meta().Name)
	}
	assert.Equal(t, []string{"osc-output", "event-sink", "beat-processor", "udp-input-0"}, names)
	assert.Len(t, p.outputs, 1)
	assert.Len(t, p.inputs, 1)
}

func TestBuildPipeline_EveryOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outputs.WebSocket.Enabled = true
	cfg.Outputs.WebSocket.Port = 0
	cfg.Outputs.File.Enabled = true
	cfg.Outputs.File.Directory = t.TempDir()
	cfg.Outputs.Webhook.Enabled = true
	cfg.Outputs.Webhook.URL = "http://127.0.0.1:9/beats"

	p, err := buildPipeline(cfg, pipelineDeps{
		MetricsRegistry: metric.NewMetricsRegistry(),
		Logger:          discardLogger(),
	})
	require.NoError(t, err)

	names := make([]string, len(p.outputs))
	for i, out := range p.outputs {
		names[i] = out.Name()
	}
	assert.Equal(t, []string{"osc-output", "websocket-output-0", "file-output", "webhook-output"}, names)
}

func TestBuildPipeline_RequiresNATSClient(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inputs.NATS.Enabled = true
	cfg.NATS.URLs = []string{"nats://127.0.0.1:4222"}

	_, err := buildPipeline(cfg, pipelineDeps{Logger: discardLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestPipeline_StartStop(t *testing.T) {
	p, err := buildPipeline(testConfig(t), pipelineDeps{
		MetricsRegistry: metric.NewMetricsRegistry(),
		Logger:          discardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, p.manager.Start(context.Background()))
	defer func() { assert.NoError(t, p.manager.Stop(2*time.Second)) }()

	report, healthy := p.healthReport()
	assert.True(t, healthy, "channels warming up are degraded, not unhealthy")

	status, ok := report.(health.Status)
	require.True(t, ok)
	assert.Equal(t, appName, status.Component)
	assert.True(t, status.IsDegraded())

	channel, found := p.monitor.Get("channel-0")
	require.True(t, found)
	assert.True(t, channel.IsDegraded())
	assert.Equal(t, "warmup", channel.Message)
}

func TestNATSHealthReporter(t *testing.T) {
	monitor := health.NewMonitor(nil)
	report := natsHealthReporter(monitor)

	report(true)
	status, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "connected", status.Message)

	report(false)
	status, ok = monitor.Get("nats")
	require.True(t, ok)
	assert.False(t, status.IsHealthy())
	assert.Equal(t, "disconnected", status.Message)
}

func TestBuildPipeline_UsesSharedMonitor(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(registry)
	natsHealthReporter(monitor)(false)

	p, err := buildPipeline(testConfig(t), pipelineDeps{
		MetricsRegistry: registry,
		Monitor:         monitor,
		Logger:          discardLogger(),
	})
	require.NoError(t, err)
	assert.Same(t, monitor, p.monitor)

	_, healthy := p.healthReport()
	assert.False(t, healthy, "a disconnected NATS client makes the service unhealthy")
}
