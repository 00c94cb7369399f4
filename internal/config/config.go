// Package config loads the optional rove configuration file.
//
// Config file location:
//   - Unix: ~/.config/rove/config.yaml
//   - overridable with --config
//
// YAML format:
//
//	concurrency: 4
//	buffer_size: 32768
//	editor: nvim
//	show_hidden: false
//	log_file: /tmp/rove.log
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultConcurrency bounds simultaneous file transfers per job.
	DefaultConcurrency = 4

	// DefaultBufferSize is the copy chunk size for transfers.
	DefaultBufferSize = 32 * 1024
)

// Config holds the user-tunable settings. Zero values mean "use default";
// Normalize fills them in.
type Config struct {
	// Concurrency is the number of parallel transfer workers per job.
	Concurrency int `yaml:"concurrency"`

	// BufferSize is the per-transfer copy buffer in bytes.
	BufferSize int `yaml:"buffer_size"`

	// Editor overrides $VISUAL/$EDITOR for the edit round trip.
	Editor string `yaml:"editor"`

	// ShowHidden makes dot-prefixed names visible by default.
	ShowHidden bool `yaml:"show_hidden"`

	// LogFile receives log output while an interactive surface owns the
	// terminal. Empty means stderr.
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		BufferSize:  DefaultBufferSize,
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rove", "config.yaml"), nil
}

// Load reads the config file at path. A missing file is not an error;
// defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize replaces out-of-range values with defaults.
func (c *Config) Normalize() {
	if c.Concurrency <= 0 || c.Concurrency > 64 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
}

// ResolveEditor returns the editor command to run, checking the config
// override first, then $VISUAL and $EDITOR, falling back to vi.
func (c Config) ResolveEditor() string {
	if c.Editor != "" {
		return c.Editor
	}
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}
