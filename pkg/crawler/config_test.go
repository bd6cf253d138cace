package crawler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/fetch"
)

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if config.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", config.RequestTimeout)
	}
	if config.DelayBetweenPages != 250*time.Millisecond {
		t.Errorf("DelayBetweenPages = %v, want 250ms", config.DelayBetweenPages)
	}
	if !config.StrictDomainOnly {
		t.Error("StrictDomainOnly should be true")
	}
	if config.ThresholdAsFailure {
		t.Error("ThresholdAsFailure should be false")
	}
	if config.Renderer != fetch.Static {
		t.Errorf("Renderer = %q, want static", config.Renderer)
	}
	if config.StopRules != DefaultStopRules() {
		t.Errorf("StopRules = %+v, want defaults", config.StopRules)
	}
	if config.Output.Format != "json" {
		t.Errorf("Output.Format = %q, want json", config.Output.Format)
	}
	if config.StatePath == "" {
		t.Error("StatePath should not be empty")
	}
}

func TestDefaultStopRules(t *testing.T) {
	rules := DefaultStopRules()

	if !rules.StopWhenNoNextButton || !rules.StopWhenURLVisited {
		t.Errorf("both stop flags should default to true: %+v", rules)
	}
	if rules.MaxPages != 100 {
		t.Errorf("MaxPages = %d, want 100", rules.MaxPages)
	}
	if rules.MaxConsecutiveErrors != 3 {
		t.Errorf("MaxConsecutiveErrors = %d, want 3", rules.MaxConsecutiveErrors)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"negative delay", func(c *Config) { c.DelayBetweenPages = -time.Second }, true},
		{"zero delay", func(c *Config) { c.DelayBetweenPages = 0 }, false},
		{"unknown renderer", func(c *Config) { c.Renderer = "webkit" }, true},
		{"browser without pool", func(c *Config) {
			c.Renderer = fetch.Rendered
			c.Browser.PoolSize = 0
		}, true},
		{"browser with pool", func(c *Config) { c.Renderer = fetch.Rendered }, false},
		{"zero max pages", func(c *Config) { c.StopRules.MaxPages = 0 }, true},
		{"zero error limit", func(c *Config) { c.StopRules.MaxConsecutiveErrors = 0 }, true},
		{"jsonl output", func(c *Config) { c.Output.Format = "jsonl" }, false},
		{"csv output", func(c *Config) { c.Output.Format = "csv" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// File round trip Tests
// =============================================================================

func TestConfig_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			config.RequestTimeout = 7 * time.Second
			config.ThresholdAsFailure = true
			config.Renderer = fetch.Rendered
			config.StopRules.MaxPages = 12
			config.HTTP.Headers = map[string]string{"X-Test": "1"}

			path := filepath.Join(dir, name)
			if err := config.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.RequestTimeout != 7*time.Second {
				t.Errorf("RequestTimeout = %v, want 7s", loaded.RequestTimeout)
			}
			if !loaded.ThresholdAsFailure {
				t.Error("ThresholdAsFailure should survive the round trip")
			}
			if loaded.Renderer != fetch.Rendered {
				t.Errorf("Renderer = %q", loaded.Renderer)
			}
			if loaded.StopRules.MaxPages != 12 {
				t.Errorf("MaxPages = %d, want 12", loaded.StopRules.MaxPages)
			}
			if loaded.HTTP.Headers["X-Test"] != "1" {
				t.Errorf("Headers = %v", loaded.HTTP.Headers)
			}
		})
	}
}

func TestLoadFromFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	content := "delay_between_pages: 2s\nstop_rules:\n  max_pages: 5\n  max_consecutive_errors: 2\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if config.DelayBetweenPages != 2*time.Second {
		t.Errorf("DelayBetweenPages = %v, want 2s", config.DelayBetweenPages)
	}
	if config.StopRules.MaxPages != 5 {
		t.Errorf("MaxPages = %d, want 5", config.StopRules.MaxPages)
	}
	if config.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want default 15s", config.RequestTimeout)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not yaml: [ nor json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Clone(t *testing.T) {
	config := DefaultConfig()
	config.HTTP.Headers = map[string]string{"A": "1"}

	clone := config.Clone()
	clone.HTTP.Headers["A"] = "2"
	clone.StopRules.MaxPages = 1

	if config.HTTP.Headers["A"] != "1" {
		t.Error("Clone shares the headers map")
	}
	if config.StopRules.MaxPages != 100 {
		t.Error("Clone shares stop rules")
	}
	if clone.RequestTimeout != config.RequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", clone.RequestTimeout, config.RequestTimeout)
	}
}
