// Package main runs corazonn: it receives PPG sample bundles from up to four
// sensors, detects heartbeats per channel and forwards beat events to the
// audio, lighting and monitoring outputs.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/corazonn/config"
	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/health"
	"github.com/c360/corazonn/metric"
	"github.com/c360/corazonn/natsclient"
	"github.com/c360/corazonn/pkg/retry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "corazonn"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stdout, fs)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}

	if cliCfg.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "layers", cliCfg.ConfigPaths)
		return nil
	}

	logger.Info("Starting corazonn",
		"version", Version,
		"build_time", BuildTime,
		"config", cliCfg.ConfigPaths,
		"channels", cfg.Processor.ChannelCount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

// loadConfig merges the built-in defaults, every file layer and the
// environment, then validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range paths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// serve runs the pipeline until ctx is cancelled or a supervised server
// fails, then shuts everything down in reverse start order
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(metricsRegistry)

	var natsClient *natsclient.Client
	if cfg.NeedsNATS() {
		var err error
		natsClient, err = connectNATS(ctx, cfg.NATS, metricsRegistry, monitor, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := natsClient.Close(closeCtx); err != nil {
				logger.Warn("Failed to close NATS connection", "error", err)
			}
		}()
	}

	p, err := buildPipeline(cfg, pipelineDeps{
		NATS:            natsClient,
		MetricsRegistry: metricsRegistry,
		Monitor:         monitor,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, p.healthReport)
		g.Go(server.Start)
		logger.Info("Metrics server listening", "address", server.Address())
	}
	g.Go(func() error {
		p.monitor.Run(gctx, cfg.Metrics.HealthInterval)
		return nil
	})

	if err := p.manager.Start(gctx); err != nil {
		cancel()
		stopServer(server, shutdownTimeout, logger)
		return stderrors.Join(err, g.Wait())
	}
	logger.Info("corazonn started", "inputs", len(p.inputs), "outputs", len(p.outputs))

	<-gctx.Done()
	logger.Info("Shutting down", "cause", context.Cause(gctx))

	stopErr := p.manager.Stop(shutdownTimeout)
	stopServer(server, shutdownTimeout, logger)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("supervised server failed: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", stopErr)
	}
	logger.Info("corazonn shutdown complete")
	return nil
}

func stopServer(server *metric.Server, timeout time.Duration, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("Failed to stop metrics server", "error", err)
	}
}

// connectNATS creates the shared NATS client and connects with backoff.
// Connection changes are reported to monitor under "nats".
func connectNATS(ctx context.Context, cfg config.NATSConfig, registry *metric.MetricsRegistry,
	monitor *health.Monitor, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithHealthChangeCallback(natsHealthReporter(monitor)),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(cfg.Timeout))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}
	if cfg.CircuitThreshold > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerThreshold(cfg.CircuitThreshold))
	}
	if cfg.CircuitTimeout > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerTimeout(cfg.CircuitTimeout))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "main", "connectNATS", "create NATS client")
	}

	policy := retry.Persistent()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connection failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, func() error { return client.Connect(ctx) }); err != nil {
		return nil, errors.Wrap(err, "main", "connectNATS", "connect to NATS")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "main", "connectNATS", "wait for NATS connection")
	}
	return client, nil
}

// natsHealthReporter turns client health changes into monitor updates
func natsHealthReporter(monitor *health.Monitor) func(healthy bool) {
	return func(healthy bool) {
		if healthy {
			monitor.Update("nats", health.NewHealthy("nats", "connected"))
			return
		}
		monitor.Update("nats", health.NewUnhealthy("nats", "disconnected"))
	}
}
