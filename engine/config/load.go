package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file. The codec is chosen by extension: .toml, .yaml or .yml.
// A leading ~ is expanded to the user's home directory. Fields missing from the file keep
// their Default values and the result is validated.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - *Config: the validated configuration
//   - error: an error if the file cannot be read, decoded or validated
func Load(path string) (*Config, error) {
	full, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: expand %q: %w", path, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(full)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", filepath.Base(full), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in the format chosen by its extension, creating parent directories.
//
// Parameters:
//   - path: the destination, ~ is expanded
//   - cfg: the configuration to write
//
// Returns:
//   - error: an error if encoding or writing fails
func Save(path string, cfg *Config) error {
	full, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("config: expand %q: %w", path, err)
	}

	var data []byte
	switch ext := strings.ToLower(filepath.Ext(full)); ext {
	case ".toml":
		data, err = toml.Marshal(cfg)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("config: unsupported file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
