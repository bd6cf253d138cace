package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/pagewalker/internal/browser"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	fetchhttp "github.com/PentesterFlow/pagewalker/internal/http"
)

// Config holds all crawler configuration.
type Config struct {
	// Timeout of a single page fetch
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Pause between two fetches to the same host
	DelayBetweenPages time.Duration `json:"delay_between_pages" yaml:"delay_between_pages"`

	// Only follow links whose host equals the profile domain
	StrictDomainOnly bool `json:"strict_domain_only" yaml:"strict_domain_only"`

	// Report error-threshold-reached as a failed run instead of a stop reason
	ThresholdAsFailure bool `json:"threshold_as_failure" yaml:"threshold_as_failure"`

	// Pacing of same-URL retries after transient fetch errors
	RetryInitial time.Duration `json:"retry_initial" yaml:"retry_initial"`
	RetryMax     time.Duration `json:"retry_max" yaml:"retry_max"`

	// static or browser
	Renderer fetch.Kind `json:"renderer" yaml:"renderer"`

	// Static fetcher configuration
	HTTP fetchhttp.ClientConfig `json:"http" yaml:"http"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Defaults for profiles that do not set their own stop rules
	StopRules StopRules `json:"stop_rules" yaml:"stop_rules"`

	// Logging
	Log LogConfig `json:"log" yaml:"log"`

	// Output configuration
	Output OutputConfig `json:"output" yaml:"output"`

	// Path of the profile/job database
	StatePath string `json:"state_path" yaml:"state_path"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// OutputConfig defines output configuration.
type OutputConfig struct {
	Format   string `json:"format" yaml:"format"` // json or jsonl
	FilePath string `json:"file_path" yaml:"file_path"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:    15 * time.Second,
		DelayBetweenPages: 250 * time.Millisecond,
		StrictDomainOnly:  true,
		RetryInitial:      500 * time.Millisecond,
		RetryMax:          10 * time.Second,
		Renderer:          fetch.Static,
		HTTP:              fetchhttp.DefaultClientConfig(),
		Browser:           browser.DefaultConfig(),
		StopRules:         DefaultStopRules(),
		Log: LogConfig{
			Level:  "warn",
			Pretty: true,
		},
		Output: OutputConfig{
			Format: "json",
			Pretty: true,
		},
		StatePath: defaultStatePath(),
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "pagewalker.db"
	}
	return dir + string(os.PathSeparator) + "pagewalker" + string(os.PathSeparator) + "pagewalker.db"
}

// LoadFromFile loads configuration from a file (JSON or YAML).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.DelayBetweenPages < 0 {
		return fmt.Errorf("delay between pages cannot be negative")
	}

	switch c.Renderer {
	case fetch.Static, fetch.Rendered:
	default:
		return fmt.Errorf("renderer must be %q or %q, got %q", fetch.Static, fetch.Rendered, c.Renderer)
	}

	if c.Renderer == fetch.Rendered && c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser pool size must be at least 1")
	}

	if c.StopRules.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}

	if c.StopRules.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("max consecutive errors must be at least 1")
	}

	switch c.Output.Format {
	case "", "json", "jsonl":
	default:
		return fmt.Errorf("output format must be json or jsonl, got %q", c.Output.Format)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
