// Package browser fetches pages through headless Chrome via Rod.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
)

// Config defines browser configuration.
type Config struct {
	Bin               string        `yaml:"bin" json:"bin"`
	Headless          bool          `yaml:"headless" json:"headless"`
	NoSandbox         bool          `yaml:"no_sandbox" json:"no_sandbox"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	ViewportWidth     int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" json:"viewport_height"`
	IgnoreHTTPSErrors bool          `yaml:"ignore_https_errors" json:"ignore_https_errors"`
	IdleTime          time.Duration `yaml:"idle_time" json:"idle_time"`
	EvaluateInPage    bool          `yaml:"evaluate_in_page" json:"evaluate_in_page"`
	PoolSize          int           `yaml:"pool_size" json:"pool_size"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ViewportWidth:  1366,
		ViewportHeight: 900,
		IdleTime:       500 * time.Millisecond,
		PoolSize:       2,
	}
}

// Available reports whether a Chrome binary can be found for config.
func Available(config Config) bool {
	if config.Bin != "" {
		return true
	}
	_, ok := launcher.LookPath()
	return ok
}

// Session is one browser with one tab, owned by a single crawl run.
// It implements fetch.Fetcher.
type Session struct {
	config   Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
	tracker  *tracker

	closeOnce sync.Once
	onClose   func()
	closeErr  error
}

// Launch starts a browser and opens the tab the session will navigate.
// Any failure to start is reported as an errors.Unavailable error.
func Launch(config Config) (*Session, error) {
	bin := config.Bin
	if bin == "" {
		path, ok := launcher.LookPath()
		if !ok {
			return nil, errors.NewUnavailableError("launch", fmt.Errorf("no chrome or chromium binary found"))
		}
		bin = path
	}

	l := launcher.New().Bin(bin).Headless(config.Headless)
	if config.NoSandbox {
		l = l.NoSandbox(true)
	}
	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.NewUnavailableError("launch", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, errors.NewUnavailableError("connect", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, errors.NewUnavailableError("create_page", err)
	}

	if config.ViewportWidth > 0 && config.ViewportHeight > 0 {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  config.ViewportWidth,
			Height: config.ViewportHeight,
		})
	}

	if config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: config.UserAgent}.Call(page)
	}

	s := &Session{
		config:   config,
		launcher: l,
		browser:  b,
		page:     page,
		tracker:  newTracker(),
	}

	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		s.tracker.record(h.Request.Type(), h.Request.URL().String())
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err == nil {
		s.router = router
		go router.Run()
	}

	return s, nil
}

// Kind implements fetch.Fetcher.
func (s *Session) Kind() fetch.Kind {
	return fetch.Rendered
}

// Fetch navigates the session tab to url, waits for the network to go idle
// and returns the rendered DOM.
func (s *Session) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page := s.page.Context(ctx)
	s.tracker.reset()

	var status atomic.Int64
	waitStatus := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
			status.Store(int64(e.Response.Status))
			return true
		}
		return false
	})
	go waitStatus()

	idle := s.config.IdleTime
	if idle <= 0 {
		idle = DefaultConfig().IdleTime
	}
	waitIdle := page.WaitRequestIdle(idle, nil, nil, nil)

	if err := page.Navigate(url); err != nil {
		return nil, s.categorize(ctx, err, url)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, s.categorize(ctx, err, url)
	}
	waitIdle()
	if err := ctx.Err(); err != nil {
		return nil, s.categorize(ctx, err, url)
	}

	code := int(status.Load())
	if httpErr := errors.CategorizeHTTPStatus(code, url); httpErr != nil {
		return nil, httpErr
	}

	html, err := page.HTML()
	if err != nil {
		return nil, s.categorize(ctx, err, url)
	}

	finalURL := url
	if info, err := page.Info(); err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	styles, scripts := s.tracker.snapshot()
	result := &fetch.Page{
		URL:                 url,
		FinalURL:            finalURL,
		StatusCode:          code,
		HTML:                html,
		Duration:            time.Since(start),
		ObservedStylesheets: styles,
		ObservedScripts:     scripts,
	}
	if s.config.EvaluateInPage {
		result.Evaluator = &pageEvaluator{page: s.page}
	}
	return result, nil
}

func (s *Session) categorize(ctx context.Context, err error, url string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Categorize(ctxErr, url)
	}
	return errors.Categorize(err, url)
}

// Close stops request tracking and shuts the browser down. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				s.closeErr = fmt.Errorf("close browser: %w", err)
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}
