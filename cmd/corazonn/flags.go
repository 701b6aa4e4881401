package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

// configLayers collects repeated -config flags
type configLayers []string

func (c *configLayers) String() string { return fmt.Sprint(*c) }

func (c *configLayers) Set(v string) error {
	*c = append(*c, v)
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	var layers configLayers
	fs.Var(&layers, "config",
		"Configuration file, JSON or YAML; repeat to layer files (env: CORAZONN_CONFIG)")
	fs.Var(&layers, "c", "Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CORAZONN_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CORAZONN_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CORAZONN_LOG_FORMAT", "json"),
		"Log format: json, text (env: CORAZONN_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("CORAZONN_DEBUG", false),
		"Enable debug logging (env: CORAZONN_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CORAZONN_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: CORAZONN_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the merged configuration, secrets redacted, and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPaths = layers
	if len(cfg.ConfigPaths) == 0 {
		if path := os.Getenv("CORAZONN_CONFIG"); path != "" {
			cfg.ConfigPaths = []string{path}
		}
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - real-time heartbeat detection for PPG sensors

Usage: %s [options]

Options:
`, appName, fs.Name())
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with built-in defaults: sensors on udp :8000, beats to :8001 and :8002
  %[1]s

  # Layer a venue file over the base configuration
  %[1]s -config configs/corazonn.yaml -config configs/venue.yaml

  # Run with debug logging
  %[1]s --log-level=debug --log-format=text

  # Check a configuration without starting
  %[1]s -config configs/corazonn.yaml --validate

Environment overrides (applied after config files):
  CORAZONN_NATS_URLS, CORAZONN_NATS_USERNAME, CORAZONN_NATS_PASSWORD,
  CORAZONN_NATS_TOKEN, CORAZONN_UDP_PORT, CORAZONN_WEBSOCKET_PORT,
  CORAZONN_METRICS_PORT, CORAZONN_CHANNEL_COUNT

Version: %[2]s
Build: %[3]s
`, fs.Name(), Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
