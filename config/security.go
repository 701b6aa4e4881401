package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/corazonn/errors"
)

// Limits on untrusted configuration input
const (
	maxConfigSize = 1 << 20 // 1MB; a full venue config is a few KB
	maxDepth      = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

var configExtensions = []string{".json", ".yaml", ".yml"}

// checkConfigPath accepts JSON or YAML files whose relative paths stay below
// the working directory
func checkConfigPath(path string) error {
	switch {
	case path == "":
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "checkConfigPath", "empty path")
	case len(path) > maxPathLen:
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "checkConfigPath",
			"path longer than %d bytes", maxPathLen)
	case !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))):
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "checkConfigPath",
			"only JSON or YAML config files allowed: %s", path)
	}

	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) && (clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))) {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "checkConfigPath",
			"%s resolves outside the working directory", path)
	}
	return nil
}

// readConfigFile reads one layer, refusing anything but a small regular file
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "readConfigFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Invalidf(errors.ErrInvalidConfig, "config", "readConfigFile",
			"%s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, errors.Invalidf(errors.ErrInvalidConfig, "config", "readConfigFile",
			"%s is %d bytes, limit %d", path, info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "readConfigFile", "read "+path)
	}
	return data, nil
}

// writeConfigFile writes data readable by the owner only; it may carry NATS
// credentials
func writeConfigFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "writeConfigFile",
			"%d bytes exceeds limit %d", len(data), maxConfigSize)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "config", "writeConfigFile", "write "+path)
	}
	return nil
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s longer than %d bytes", key, maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in %s", key)
	}
	return nil
}

// checkDepth bounds the nesting of a decoded layer, JSON or YAML alike
func checkDepth(v any, depth int) error {
	if depth > maxDepth {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "checkDepth",
			"nesting deeper than %d levels", maxDepth)
	}
	switch node := v.(type) {
	case map[string]any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
