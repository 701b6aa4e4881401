package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/corazonn/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "CORAZONN"

// durationKeys are the keys whose values may be written as duration strings
// ("500ms", "30s") in config files
var durationKeys = map[string]bool{
	"stats_interval":  true,
	"read_timeout":    true,
	"write_timeout":   true,
	"ping_interval":   true,
	"flush_interval":  true,
	"publish_timeout": true,
	"latest_ttl":      true,
	"timeout":         true,
	"breaker_timeout": true,
	"reconnect_wait":  true,
	"drain_timeout":   true,
	"circuit_timeout": true,
	"health_interval": true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading CORAZONN_* overrides from the environment
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation of the merged result
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every file layer and the environment, in that order
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		if err := validateSchema(raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("validate %s", path))
		}
		if err := parseDurations(raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("parse durations in %s", path))
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse YAML")
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse JSON")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := checkDepth(raw, 1); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for key, value := range data {
		switch v := value.(type) {
		case map[string]any:
			if err := parseDurations(v); err != nil {
				return err
			}
		case string:
			if !durationKeys[key] {
				continue
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			data[key] = d.Nanoseconds()
		}
	}
	return nil
}

// mergeFromMap overrides only the fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies CORAZONN_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		return val, true, nil
	}
	str := func(name string, dst *string) error {
		val, ok, err := get(name)
		if ok {
			*dst = val
		}
		return err
	}
	num := func(name string, dst *int) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+name)
		}
		*dst = n
		return nil
	}

	if val, ok, err := get("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	for _, apply := range []func() error{
		func() error { return str("NATS_USERNAME", &cfg.NATS.Username) },
		func() error { return str("NATS_PASSWORD", &cfg.NATS.Password) },
		func() error { return str("NATS_TOKEN", &cfg.NATS.Token) },
		func() error { return num("UDP_PORT", &cfg.Inputs.UDP.Port) },
		func() error { return num("WEBSOCKET_PORT", &cfg.Outputs.WebSocket.Port) },
		func() error { return num("METRICS_PORT", &cfg.Metrics.Port) },
		func() error { return num("CHANNEL_COUNT", &cfg.Processor.ChannelCount) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}
