// Package config loads optional default settings for the introspect CLI
// from a YAML file, the way a complete repository around this engine would,
// even though the engine's own packages take every parameter explicitly
// and never consult it themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds CLI-level defaults that flags may override.
type Config struct {
	// PreferredLibc is parsed from the file but no subcommand reads it; the
	// call subcommand always takes the library path as an argument and there
	// is no built-in default libc path.
	PreferredLibc string `yaml:"preferred_libc"`
	// ColorMode is parsed from the file but not consulted; colorized output
	// is switched off only by the NO_COLOR / INTROSPECT_NO_COLOR environment
	// variables (see internal/uiformat).
	ColorMode string `yaml:"color_mode"`
	// Verbose enables debug-level logging by default.
	Verbose bool `yaml:"verbose"`
}

// fileNames are searched in order, first match wins, relative to cwd then
// the user's home directory.
var fileNames = []string{"introspect.yaml", ".introspectrc.yaml"}

// Load searches cwd and $HOME for a config file and parses it. A missing
// file is not an error: Load returns a zero-value Config.
func Load() (Config, error) {
	var cfg Config

	for _, name := range fileNames {
		if cfg, ok, err := tryLoad(name); err != nil {
			return Config{}, err
		} else if ok {
			return cfg, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range fileNames {
			path := filepath.Join(home, name)
			if cfg, ok, err := tryLoad(path); err != nil {
				return Config{}, err
			} else if ok {
				return cfg, nil
			}
		}
	}

	return cfg, nil
}

func tryLoad(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}
