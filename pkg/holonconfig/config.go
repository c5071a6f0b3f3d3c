// Package holonconfig loads the daemon configuration: AI transport,
// heartbeat cadence, storage location, API listener and logging.
package holonconfig

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"go.mau.fi/util/ptr"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root of the YAML configuration file.
type Config struct {
	AI        AIConfig        `yaml:"ai"`
	Heart     HeartConfig     `yaml:"heart"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AIConfig controls the completion backend used for heartbeats.
// An empty api_key falls back to the provider's environment variable
// (OPENAI_API_KEY / ANTHROPIC_API_KEY).
type AIConfig struct {
	Provider              string `yaml:"provider"` // openai | anthropic; empty → detect from model
	Model                 string `yaml:"model"`
	APIKey                string `yaml:"api_key"`
	BaseURL               string `yaml:"base_url"`
	MaxResponseTokens     int    `yaml:"max_response_tokens"`
	StructuredOutput      *bool  `yaml:"structured_output"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// RequestTimeout returns the per-call timeout as a duration.
func (c *AIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HeartConfig controls the heartbeat loop and standing token grants.
type HeartConfig struct {
	IntervalSecs float64 `yaml:"interval_secs"`
	// RootAllocation is granted to the root holon every beat.
	RootAllocation int64 `yaml:"root_allocation"`
	// Allocations grants tokens per beat to specific holons by id; these
	// only resolve against a restored tree.
	Allocations map[string]int64 `yaml:"allocations"`
}

// Interval returns the beat interval as a duration.
func (c *HeartConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs * float64(time.Second))
}

// StorageConfig points at the .hln file. An empty path runs in memory
// only; a passphrase encrypts the store.
type StorageConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// APIConfig controls the HTTP inspection surface.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig controls periodic telemetry snapshots. An empty cron
// expression disables them.
type TelemetryConfig struct {
	SnapshotCron string `yaml:"snapshot_cron"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses a config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults fills unset fields with working values.
func (c *Config) WithDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o"
	}
	if c.AI.MaxResponseTokens <= 0 {
		c.AI.MaxResponseTokens = 4096
	}
	if c.AI.StructuredOutput == nil {
		c.AI.StructuredOutput = ptr.Ptr(true)
	}
	if c.AI.RequestTimeoutSeconds <= 0 {
		c.AI.RequestTimeoutSeconds = 120
	}
	if c.Heart.IntervalSecs <= 0 {
		c.Heart.IntervalSecs = 1
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:5000"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}
