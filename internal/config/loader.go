package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configNames are tried in order inside a config directory.
var configNames = []string{"config.yaml", "config.yml", "config.toml", "config.json"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files and invalid values are.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskgraph/config.{yaml,yml,toml,json}
// Project: .taskgraph/config.{yaml,yml,toml,json} (relative to cwd)
func LoadDefault() (*Config, error) {
	global, project, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(global, project)
}

// DefaultPaths returns the global and project config files. When a directory
// holds no config file yet, its config.yaml is returned so that it can be
// saved there.
func DefaultPaths() (global, project string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return configOrDefault(filepath.Join(homeDir, DirName)), configOrDefault(DirName), nil
}

func configOrDefault(dir string) string {
	if path := findConfig(dir); path != "" {
		return path
	}
	return filepath.Join(dir, configNames[0])
}

// findConfig returns the first existing config file in dir, or "".
func findConfig(dir string) string {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// mergeConfigFile reads a config file and merges the settings it mentions
// into base. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded fileConfig
	if err := unmarshal(path, data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	loaded.mergeInto(base)
	return nil
}

// unmarshal decodes data in the format implied by the file extension.
func unmarshal(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	case ".toml":
		return toml.Unmarshal(data, v)
	case ".json", "":
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}
