// Package config persists app settings as JSON under the user config dir.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"pianoroll/sequence"
)

// Config is the saved application configuration. Zero-valued numeric fields
// are filled from defaults on load, so partial files stay valid.
type Config struct {
	OutputPort  string `json:"outputPort,omitempty"`  // substring match against available ports
	LookaheadMs int    `json:"lookaheadMs,omitempty"` // scheduler fill horizon
	DispatchMs  int    `json:"dispatchMs,omitempty"`  // scheduler fill period
	PPQ         int64  `json:"ppq,omitempty"`
	LogFile     string `json:"logFile,omitempty"` // empty means no file log
	Debug       bool   `json:"debug,omitempty"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		LookaheadMs: 50,
		DispatchMs:  25,
		PPQ:         sequence.DefaultPPQ,
	}
}

func (c *Config) normalize() {
	d := Default()
	if c.LookaheadMs <= 0 {
		c.LookaheadMs = d.LookaheadMs
	}
	if c.DispatchMs <= 0 {
		c.DispatchMs = d.DispatchMs
	}
	if c.PPQ <= 0 {
		c.PPQ = d.PPQ
	}
}

// Dir returns the config directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pianoroll"), nil
}

// Path returns the full path to config.json.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from its default location, or returns defaults when
// no file exists yet.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// Save writes the config to its default location.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating parent directories as needed.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
