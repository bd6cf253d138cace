package crawler

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/metrics"
	"github.com/PentesterFlow/pagewalker/internal/ratelimit"
)

func newOptionCrawler() *Crawler {
	return &Crawler{
		config: DefaultConfig(),
	}
}

// =============================================================================
// Timing Tests
// =============================================================================

func TestWithTimeout(t *testing.T) {
	c := newOptionCrawler()
	if err := WithTimeout(5 * time.Second)(c); err != nil {
		t.Fatalf("WithTimeout() error = %v", err)
	}
	if c.config.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", c.config.RequestTimeout)
	}

	if err := WithTimeout(0)(c); err == nil {
		t.Error("WithTimeout(0) should fail")
	}
}

func TestWithDelay(t *testing.T) {
	tests := []struct {
		name   string
		input  time.Duration
		expect time.Duration
	}{
		{"normal value", time.Second, time.Second},
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOptionCrawler()
			if err := WithDelay(tt.input)(c); err != nil {
				t.Fatalf("WithDelay() error = %v", err)
			}
			if c.config.DelayBetweenPages != tt.expect {
				t.Errorf("DelayBetweenPages = %v, want %v", c.config.DelayBetweenPages, tt.expect)
			}
		})
	}
}

func TestWithBackoff(t *testing.T) {
	c := newOptionCrawler()
	b := errors.Backoff{Initial: time.Millisecond, Max: time.Second, Multiplier: 3}
	if err := WithBackoff(b)(c); err != nil {
		t.Fatalf("WithBackoff() error = %v", err)
	}
	if c.backoff == nil || *c.backoff != b {
		t.Errorf("backoff = %+v, want %+v", c.backoff, b)
	}
}

// =============================================================================
// Behaviour Tests
// =============================================================================

func TestWithStrictDomainAndThreshold(t *testing.T) {
	c := newOptionCrawler()
	_ = WithStrictDomain(false)(c)
	_ = WithThresholdAsFailure(true)(c)

	if c.config.StrictDomainOnly {
		t.Error("StrictDomainOnly should be false")
	}
	if !c.config.ThresholdAsFailure {
		t.Error("ThresholdAsFailure should be true")
	}
}

func TestWithRenderer(t *testing.T) {
	c := newOptionCrawler()
	if err := WithRenderer(fetch.Rendered)(c); err != nil {
		t.Fatalf("WithRenderer() error = %v", err)
	}
	if c.config.Renderer != fetch.Rendered {
		t.Errorf("Renderer = %q", c.config.Renderer)
	}
	if err := WithRenderer("webkit")(c); err == nil {
		t.Error("unknown renderer should fail")
	}
}

func TestWithUserAgentAndHeaders(t *testing.T) {
	c := newOptionCrawler()
	_ = WithUserAgent("walker/2")(c)
	_ = WithCustomHeaders(map[string]string{"Accept-Language": "en"})(c)

	if c.config.HTTP.UserAgent != "walker/2" || c.config.Browser.UserAgent != "walker/2" {
		t.Errorf("user agent not applied to both fetchers")
	}
	if c.config.HTTP.Headers["Accept-Language"] != "en" {
		t.Errorf("Headers = %v", c.config.HTTP.Headers)
	}
}

func TestWithBrowserPool(t *testing.T) {
	tests := []struct {
		input  int
		expect int
	}{
		{4, 4},
		{0, 1},
		{-2, 1},
	}

	for _, tt := range tests {
		c := newOptionCrawler()
		_ = WithBrowserPool(tt.input)(c)
		if c.config.Browser.PoolSize != tt.expect {
			t.Errorf("WithBrowserPool(%d): PoolSize = %d, want %d", tt.input, c.config.Browser.PoolSize, tt.expect)
		}
	}

	c := newOptionCrawler()
	_ = WithHeadless(false)(c)
	if c.config.Browser.Headless {
		t.Error("Headless should be false")
	}
}

func TestWithConfig(t *testing.T) {
	config := DefaultConfig()
	config.StopRules.MaxPages = 9

	c := newOptionCrawler()
	if err := WithConfig(config)(c); err != nil {
		t.Fatalf("WithConfig() error = %v", err)
	}
	config.StopRules.MaxPages = 1
	if c.config.StopRules.MaxPages != 9 {
		t.Errorf("WithConfig should copy the config, MaxPages = %d", c.config.StopRules.MaxPages)
	}

	if err := WithConfig(nil)(c); err == nil {
		t.Error("WithConfig(nil) should fail")
	}
}

// =============================================================================
// Collaborator Tests
// =============================================================================

func TestWithFetcher_DoesNotCloseBorrowed(t *testing.T) {
	f := newFakeFetcher()

	c := newOptionCrawler()
	if err := WithFetcher(f)(c); err != nil {
		t.Fatalf("WithFetcher() error = %v", err)
	}
	got, err := c.source(context.Background())
	if err != nil {
		t.Fatalf("source error = %v", err)
	}
	_ = got.Close()
	if f.closed != 0 {
		t.Errorf("borrowed fetcher closed %d times", f.closed)
	}

	if err := WithFetcher(nil)(c); err == nil {
		t.Error("WithFetcher(nil) should fail")
	}
}

func TestWithLoggerAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Config{Level: logger.InfoLevel, Output: &buf})

	c := newOptionCrawler()
	_ = WithLogger(l)(c)
	if c.logger != l {
		t.Error("logger not set")
	}

	if err := WithLogLevel("debug")(c); err != nil {
		t.Errorf("WithLogLevel(debug) error = %v", err)
	}
	if c.config.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", c.config.Log.Level)
	}
	if err := WithLogLevel("chatty")(c); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestWithMetricsAndLimiter(t *testing.T) {
	m := metrics.New()
	l := ratelimit.NewLimiter(time.Second)

	c := newOptionCrawler()
	_ = WithMetrics(m)(c)
	_ = WithLimiter(l)(c)

	if c.metrics != m {
		t.Error("metrics not set")
	}
	if c.limiter != l {
		t.Error("limiter not set")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	c, err := New(WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if c.source == nil || c.limiter == nil || c.metrics == nil || c.backoff == nil {
		t.Error("New should fill every collaborator")
	}
	if c.backoff.Initial != 500*time.Millisecond {
		t.Errorf("backoff.Initial = %v, want 500ms", c.backoff.Initial)
	}
	if c.pool != nil {
		t.Error("static renderer should not create a browser pool")
	}

	if _, err := New(WithTimeout(-1)); err == nil {
		t.Error("New should surface option errors")
	}
}

func TestNew_RenderedCreatesPool(t *testing.T) {
	c, err := New(WithRenderer(fetch.Rendered), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.pool == nil {
		t.Error("rendered crawler should own a pool")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
