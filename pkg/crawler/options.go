package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/browser"
	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/metrics"
	"github.com/PentesterFlow/pagewalker/internal/ratelimit"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// FetcherSource opens the fetcher for one run. The run closes it on every
// exit path.
type FetcherSource func(ctx context.Context) (fetch.Fetcher, error)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		if config == nil {
			return fmt.Errorf("config is nil")
		}
		c.config = config.Clone()
		return nil
	}
}

// WithTimeout sets the per-page fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Crawler) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.config.RequestTimeout = timeout
		return nil
	}
}

// WithDelay sets the pause between two fetches to the same host.
func WithDelay(delay time.Duration) Option {
	return func(c *Crawler) error {
		if delay < 0 {
			delay = 0
		}
		c.config.DelayBetweenPages = delay
		return nil
	}
}

// WithStrictDomain enables or disables the domain guard.
func WithStrictDomain(strict bool) Option {
	return func(c *Crawler) error {
		c.config.StrictDomainOnly = strict
		return nil
	}
}

// WithThresholdAsFailure makes error-threshold-reached end the run as failed.
func WithThresholdAsFailure(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.ThresholdAsFailure = enabled
		return nil
	}
}

// WithRenderer selects the static or the browser fetcher.
func WithRenderer(kind fetch.Kind) Option {
	return func(c *Crawler) error {
		switch kind {
		case fetch.Static, fetch.Rendered:
		default:
			return fmt.Errorf("unknown renderer %q", kind)
		}
		c.config.Renderer = kind
		return nil
	}
}

// WithUserAgent sets the user agent of both fetchers.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) error {
		c.config.HTTP.UserAgent = ua
		c.config.Browser.UserAgent = ua
		return nil
	}
}

// WithCustomHeaders sets headers sent by the static fetcher.
func WithCustomHeaders(headers map[string]string) Option {
	return func(c *Crawler) error {
		if c.config.HTTP.Headers == nil {
			c.config.HTTP.Headers = make(map[string]string)
		}
		for k, v := range headers {
			c.config.HTTP.Headers[k] = v
		}
		return nil
	}
}

// WithHeadless sets headless mode for the browser fetcher.
func WithHeadless(headless bool) Option {
	return func(c *Crawler) error {
		c.config.Browser.Headless = headless
		return nil
	}
}

// WithBrowserPool sets how many browser sessions may run at once.
func WithBrowserPool(size int) Option {
	return func(c *Crawler) error {
		if size < 1 {
			size = 1
		}
		c.config.Browser.PoolSize = size
		return nil
	}
}

// WithPool makes browser runs take their sessions from pool. The caller
// keeps ownership of pool.
func WithPool(pool *browser.Pool) Option {
	return func(c *Crawler) error {
		c.config.Renderer = fetch.Rendered
		c.source = poolSource(pool)
		return nil
	}
}

// WithFetcher makes every run use f. The caller keeps ownership of f; runs
// do not close it.
func WithFetcher(f fetch.Fetcher) Option {
	return func(c *Crawler) error {
		if f == nil {
			return fmt.Errorf("fetcher is nil")
		}
		c.source = func(context.Context) (fetch.Fetcher, error) {
			return borrowed{f}, nil
		}
		return nil
	}
}

// WithFetcherSource sets how runs open their fetcher.
func WithFetcherSource(src FetcherSource) Option {
	return func(c *Crawler) error {
		c.source = src
		return nil
	}
}

// WithLimiter shares a pacing limiter between crawlers.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Crawler) error {
		c.limiter = l
		return nil
	}
}

// WithBackoff sets the pacing of same-URL retries.
func WithBackoff(b errors.Backoff) Option {
	return func(c *Crawler) error {
		c.backoff = &b
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithLogLevel sets the level of the default logger.
func WithLogLevel(level string) Option {
	return func(c *Crawler) error {
		if _, err := logger.ParseLevel(level); err != nil {
			return err
		}
		c.config.Log.Level = level
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// borrowed hides Close so a run does not close a caller-owned fetcher.
type borrowed struct {
	fetch.Fetcher
}

func (borrowed) Close() error { return nil }

func poolSource(pool *browser.Pool) FetcherSource {
	return func(ctx context.Context) (fetch.Fetcher, error) {
		s, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
