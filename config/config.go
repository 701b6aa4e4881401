package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/corazonn/errors"
	"github.com/c360/corazonn/input/natssub"
	"github.com/c360/corazonn/input/udp"
	"github.com/c360/corazonn/output/file"
	"github.com/c360/corazonn/output/httppost"
	"github.com/c360/corazonn/output/natspub"
	"github.com/c360/corazonn/output/osc"
	"github.com/c360/corazonn/output/websocket"
	"github.com/c360/corazonn/processor/beat"
	"github.com/c360/corazonn/sink"
)

// Config represents the complete service configuration
type Config struct {
	Version   string        `json:"version,omitempty" yaml:"version,omitempty"`
	Processor beat.Config   `json:"processor" yaml:"processor"`
	Inputs    InputsConfig  `json:"inputs" yaml:"inputs"`
	Outputs   OutputsConfig `json:"outputs" yaml:"outputs"`
	Sink      sink.Config   `json:"sink" yaml:"sink"`
	NATS      NATSConfig    `json:"nats" yaml:"nats"`
	Metrics   MetricsConfig `json:"metrics" yaml:"metrics"`
}

// InputsConfig selects where sample bundles come from
type InputsConfig struct {
	UDP  UDPInputConfig  `json:"udp" yaml:"udp"`
	NATS NATSInputConfig `json:"nats" yaml:"nats"`
}

// UDPInputConfig enables the OSC-over-UDP sensor listener
type UDPInputConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	udp.InputConfig `yaml:",inline"`
}

// NATSInputConfig enables the JSON bundle subscription
type NATSInputConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	natssub.Config `yaml:",inline"`
}

// OutputsConfig selects where beat events go
type OutputsConfig struct {
	OSC       OSCOutputConfig       `json:"osc" yaml:"osc"`
	NATS      NATSOutputConfig      `json:"nats" yaml:"nats"`
	WebSocket WebSocketOutputConfig `json:"websocket" yaml:"websocket"`
	File      FileOutputConfig      `json:"file" yaml:"file"`
	Webhook   WebhookOutputConfig   `json:"webhook" yaml:"webhook"`
}

// OSCOutputConfig enables /beat messages to the actuators
type OSCOutputConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	osc.Config `yaml:",inline"`
}

// NATSOutputConfig enables JSON beat publishing on NATS
type NATSOutputConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	natspub.Config `yaml:",inline"`
}

// WebSocketOutputConfig enables the live beat feed
type WebSocketOutputConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	websocket.Config `yaml:",inline"`
}

// FileOutputConfig enables the JSON Lines session recorder
type FileOutputConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	file.Config `yaml:",inline"`
}

// WebhookOutputConfig enables beat delivery to an HTTP endpoint
type WebhookOutputConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	httppost.Config `yaml:",inline"`
}

// NATSConfig defines NATS connection settings. The connection is only made
// when a NATS input or output is enabled.
type NATSConfig struct {
	URLs             []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	Name             string        `json:"name,omitempty" yaml:"name,omitempty"`
	Username         string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token            string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects    int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait    time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	DrainTimeout     time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	CircuitThreshold int           `json:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `json:"circuit_timeout" yaml:"circuit_timeout"`
}

// MetricsConfig controls the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Port           int           `json:"port" yaml:"port"`
	Path           string        `json:"path" yaml:"path"`
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval"`
}

// Default returns the configuration used when no file sets a value: UDP in,
// OSC out to the audio engine and lighting controller, metrics on :9090.
func Default() *Config {
	return &Config{
		Processor: beat.DefaultConfig(),
		Inputs: InputsConfig{
			UDP:  UDPInputConfig{Enabled: true, InputConfig: udp.DefaultConfig()},
			NATS: NATSInputConfig{Config: natssub.DefaultConfig()},
		},
		Outputs: OutputsConfig{
			OSC:       OSCOutputConfig{Enabled: true, Config: osc.DefaultConfig()},
			NATS:      NATSOutputConfig{Config: natspub.DefaultConfig()},
			WebSocket: WebSocketOutputConfig{Config: websocket.DefaultConfig()},
			File:      FileOutputConfig{Config: file.DefaultConfig()},
			Webhook:   WebhookOutputConfig{Config: httppost.DefaultConfig()},
		},
		Sink: sink.DefaultConfig(),
		NATS: NATSConfig{
			URLs:             []string{"nats://localhost:4222"},
			Name:             "corazonn",
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			Timeout:          5 * time.Second,
			DrainTimeout:     5 * time.Second,
			CircuitThreshold: 5,
			CircuitTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Port:           9090,
			Path:           "/metrics",
			HealthInterval: 5 * time.Second,
		},
	}
}

// NeedsNATS reports whether any enabled component uses the NATS connection
func (c *Config) NeedsNATS() bool {
	return c.Inputs.NATS.Enabled || c.Outputs.NATS.Enabled
}

// Validate checks every enabled section and the constraints between them
func (c *Config) Validate() error {
	if err := c.Processor.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "processor")
	}
	if err := c.Sink.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "sink")
	}

	if !c.Inputs.UDP.Enabled && !c.Inputs.NATS.Enabled {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one input must be enabled")
	}

	sections := []struct {
		name    string
		enabled bool
		check   func() error
	}{
		{"inputs.udp", c.Inputs.UDP.Enabled, c.Inputs.UDP.InputConfig.Validate},
		{"inputs.nats", c.Inputs.NATS.Enabled, c.Inputs.NATS.Config.Validate},
		{"outputs.osc", c.Outputs.OSC.Enabled, c.Outputs.OSC.Config.Validate},
		{"outputs.nats", c.Outputs.NATS.Enabled, c.Outputs.NATS.Config.Validate},
		{"outputs.websocket", c.Outputs.WebSocket.Enabled, c.Outputs.WebSocket.Config.Validate},
		{"outputs.file", c.Outputs.File.Enabled, c.Outputs.File.Config.Validate},
		{"outputs.webhook", c.Outputs.Webhook.Enabled, c.Outputs.Webhook.Config.Validate},
	}
	for _, s := range sections {
		if !s.enabled {
			continue
		}
		if err := s.check(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", s.name)
		}
	}

	if c.NeedsNATS() {
		if len(c.NATS.URLs) == 0 {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.urls is required when a NATS input or output is enabled")
		}
		if c.NATS.Username != "" && c.NATS.Token != "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "nats: use either username/password or token, not both")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("metrics.port %d outside [1, 65535]", c.Metrics.Port))
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "metrics.path must start with /")
		}
		if c.Metrics.HealthInterval <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "metrics.health_interval must be positive")
		}
	}

	return c.checkPortConflicts()
}

// checkPortConflicts rejects TCP listeners sharing a port
func (c *Config) checkPortConflicts() error {
	owners := map[int]string{}
	claim := func(port int, owner string) error {
		if port == 0 {
			return nil
		}
		if other, taken := owners[port]; taken {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("%s and %s both use port %d", other, owner, port))
		}
		owners[port] = owner
		return nil
	}
	if c.Metrics.Enabled {
		if err := claim(c.Metrics.Port, "metrics"); err != nil {
			return err
		}
	}
	if c.Outputs.WebSocket.Enabled {
		if err := claim(c.Outputs.WebSocket.Port, "outputs.websocket"); err != nil {
			return err
		}
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration as JSON with credentials redacted
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	for k := range redacted.Outputs.Webhook.Headers {
		redacted.Outputs.Webhook.Headers[k] = "***"
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "marshal config")
	}
	if err := writeConfigFile(path, data); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "write config")
	}
	return nil
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
