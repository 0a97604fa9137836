// Package config loads and normalizes the runtime configuration shared by
// the server and CLI entry points.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes one LLM-backed responder.
type AgentConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Persona     string  `yaml:"persona"`
	Temperature float64 `yaml:"temperature"`
}

// Config captures every knob shared across the parley entry points.
// Durations are expressed in milliseconds so the YAML stays plain integers.
type Config struct {
	DataDir       string `yaml:"data_dir"`
	DatabasePath  string `yaml:"database_path"`
	TriggerDir    string `yaml:"trigger_dir"`
	TelemetryPath string `yaml:"telemetry_path"`
	RetrievalDir  string `yaml:"retrieval_dir"`
	ListenAddr    string `yaml:"listen_addr"`

	WindowSize           int `yaml:"window_size"`
	MaxValidationRetries int `yaml:"max_validation_retries"`
	DebounceMillis       int `yaml:"debounce_millis"`
	PollIntervalMillis   int `yaml:"poll_interval_millis"`
	ResponderTimeoutSecs int `yaml:"responder_timeout_secs"`

	AgentA AgentConfig `yaml:"agent_a"`
	AgentB AgentConfig `yaml:"agent_b"`
}

// DefaultConfig infers defaults rooted in the current working directory.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		DataDir:              filepath.Join(cwd, ".parley"),
		ListenAddr:           ":8080",
		WindowSize:           10,
		MaxValidationRetries: 2,
		DebounceMillis:       1000,
		PollIntervalMillis:   2000,
		ResponderTimeoutSecs: 120,
		AgentA: AgentConfig{
			Endpoint: "http://localhost:11434",
			Model:    "llama3",
			Persona:  "You argue from practical experience and favor concrete tradeoffs.",
		},
		AgentB: AgentConfig{
			Endpoint: "http://localhost:11434",
			Model:    "llama3",
			Persona:  "You challenge assumptions and probe for weaknesses in any proposal.",
		},
	}
}

// DefaultConfigPath is where Load looks when no --config flag is given.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, ".parley", "config.yaml")
}

// Load reads a YAML config file over the defaults. A missing file yields
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Normalize makes every path absolute and fills missing defaults so the
// rest of the program never re-checks the same invariants.
func (c *Config) Normalize() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory required")
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	c.DataDir = abs
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "parley.db")
	}
	if !filepath.IsAbs(c.DatabasePath) {
		c.DatabasePath = filepath.Join(c.DataDir, c.DatabasePath)
	}
	if c.TriggerDir == "" {
		c.TriggerDir = filepath.Join(c.DataDir, "triggers")
	}
	if !filepath.IsAbs(c.TriggerDir) {
		c.TriggerDir = filepath.Join(c.DataDir, c.TriggerDir)
	}
	if c.TelemetryPath == "" {
		c.TelemetryPath = filepath.Join(c.DataDir, "telemetry.ndjson")
	}
	if !filepath.IsAbs(c.TelemetryPath) {
		c.TelemetryPath = filepath.Join(c.DataDir, c.TelemetryPath)
	}
	if c.RetrievalDir != "" && !filepath.IsAbs(c.RetrievalDir) {
		c.RetrievalDir = filepath.Join(c.DataDir, c.RetrievalDir)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.MaxValidationRetries <= 0 {
		c.MaxValidationRetries = 2
	}
	if c.DebounceMillis <= 0 {
		c.DebounceMillis = 1000
	}
	if c.PollIntervalMillis <= 0 {
		c.PollIntervalMillis = 2000
	}
	if c.ResponderTimeoutSecs <= 0 {
		c.ResponderTimeoutSecs = 120
	}
	if c.AgentA.Endpoint == "" {
		c.AgentA.Endpoint = "http://localhost:11434"
	}
	if c.AgentB.Endpoint == "" {
		c.AgentB.Endpoint = "http://localhost:11434"
	}
	return nil
}

// Debounce returns the dispatcher debounce window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// PollInterval returns the dispatcher poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// ResponderTimeout bounds a single responder call.
func (c Config) ResponderTimeout() time.Duration {
	return time.Duration(c.ResponderTimeoutSecs) * time.Second
}
