package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/browser"
	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	fetchhttp "github.com/PentesterFlow/pagewalker/internal/http"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/metrics"
	"github.com/PentesterFlow/pagewalker/internal/parser"
	"github.com/PentesterFlow/pagewalker/internal/ratelimit"
	"github.com/PentesterFlow/pagewalker/internal/scope"
	"github.com/PentesterFlow/pagewalker/internal/selector"
	"github.com/PentesterFlow/pagewalker/internal/state"
)

// Crawler runs crawl requests. Runs are independent: each owns its session
// and its fetcher, so one Crawler may serve several runs at once.
type Crawler struct {
	config  *Config
	source  FetcherSource
	limiter *ratelimit.Limiter
	backoff *errors.Backoff
	logger  *logger.Logger
	metrics *metrics.Collector

	// pool is set when the crawler created its own browser pool.
	pool *browser.Pool
}

// New creates a new crawler with the given options.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.logger == nil {
		level, err := logger.ParseLevel(c.config.Log.Level)
		if err != nil {
			level = logger.WarnLevel
		}
		c.logger = logger.New(logger.Config{
			Level:     level,
			Pretty:    c.config.Log.Pretty,
			Component: "crawler",
		})
	}

	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	if c.limiter == nil {
		c.limiter = ratelimit.NewLimiter(c.config.DelayBetweenPages)
	}

	if c.backoff == nil {
		b := errors.DefaultBackoff()
		if c.config.RetryInitial > 0 {
			b.Initial = c.config.RetryInitial
		}
		if c.config.RetryMax > 0 {
			b.Max = c.config.RetryMax
		}
		c.backoff = &b
	}

	if c.source == nil {
		switch c.config.Renderer {
		case fetch.Rendered:
			c.pool = browser.NewPool(c.config.Browser)
			c.source = poolSource(c.pool)
		default:
			httpConfig := c.config.HTTP
			c.source = func(context.Context) (fetch.Fetcher, error) {
				return fetchhttp.NewClient(httpConfig), nil
			}
		}
	}

	return c, nil
}

// Config returns a copy of the configuration.
func (c *Crawler) Config() *Config {
	return c.config.Clone()
}

// Metrics returns the metrics collector.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// Close releases the browser pool the crawler created, if any.
func (c *Crawler) Close() error {
	if c.pool != nil {
		return c.pool.Close()
	}
	return nil
}

// Run is one crawl in progress.
type Run struct {
	events chan ProgressEvent
	done   chan struct{}
	result *CrawlResult
	err    error
}

// Events delivers one event per processed page, in page order. The channel
// is closed when the run ends. It must be drained: the run waits for each
// event to be received.
func (r *Run) Events() <-chan ProgressEvent {
	return r.events
}

// Done is closed when the run has finalized.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends. On failure err is a *Failure and result
// holds the pages extracted before it.
func (r *Run) Wait() (*CrawlResult, error) {
	<-r.done
	return r.result, r.err
}

// Start begins a run in its own goroutine.
func (c *Crawler) Start(ctx context.Context, req Request) *Run {
	r := &Run{
		events: make(chan ProgressEvent),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer close(r.events)
		r.result, r.err = c.run(ctx, req, func(ev ProgressEvent) bool {
			select {
			case r.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return r
}

// Run executes req to completion, discarding progress events.
func (c *Crawler) Run(ctx context.Context, req Request) (*CrawlResult, error) {
	r := c.Start(ctx, req)
	for range r.Events() {
	}
	return r.Wait()
}

// session is the mutable state of one run.
type session struct {
	current           string
	visited           *state.VisitedSet
	pages             []PageResult
	consecutiveErrors int
	state             State
}

func newSession(req Request) *session {
	return &session{
		current: strings.TrimSpace(req.StartURL),
		visited: state.NewVisitedSet(req.StopRules.MaxPages),
		state:   StateIdle,
	}
}

func (s *session) snapshot(reason StopReason) CrawlResult {
	pages := make([]PageResult, len(s.pages))
	copy(pages, s.pages)
	return CrawlResult{
		PagesProcessed: len(pages),
		StopReason:     reason,
		Pages:          pages,
	}
}

func (c *Crawler) run(ctx context.Context, req Request, emit func(ProgressEvent) bool) (*CrawlResult, error) {
	s := newSession(req)
	log := c.logger.WithFields(map[string]interface{}{
		"start_url": req.StartURL,
		"domain":    req.Domain,
	})
	c.metrics.RunStarted()

	if reason, err := validateRequest(req); err != nil {
		return c.fail(s, log, reason, errors.Config, err)
	}

	rules := req.StopRules
	guard := scope.NewGuard(scope.NormalizeDomain(req.Domain), c.config.StrictDomainOnly)
	contentQuery := req.ContentRule.Query()
	nextQuery := req.PaginationRule.Query()

	// The fetcher is opened lazily so a run stopped by the pre-fetch
	// checks never launches a browser.
	var fetcher fetch.Fetcher
	defer func() {
		if fetcher == nil {
			return
		}
		if err := fetcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to release fetcher")
		}
	}()

	for {
		if ctx.Err() != nil {
			return c.cancelled(s, log)
		}

		if reason, stop := checkBeforeFetch(s, rules, guard); stop {
			return c.complete(s, log, reason)
		}

		if fetcher == nil {
			f, err := c.source(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.cancelled(s, log)
				}
				return c.fail(s, log, FailBrowserUnavailable, errors.Unavailable, err)
			}
			fetcher = f
		}

		s.state = StateFetching
		if err := c.limiter.Wait(ctx, hostOf(s.current)); err != nil {
			return c.cancelled(s, log)
		}

		page, err := c.fetch(ctx, fetcher, s.current)
		if err != nil {
			ce := errors.Categorize(err, s.current)
			if ctx.Err() != nil || ce.Type == errors.Cancelled {
				return c.cancelled(s, log)
			}
			if ce.Type == errors.Unavailable {
				return c.fail(s, log, FailBrowserUnavailable, ce.Type, ce)
			}

			s.consecutiveErrors++
			c.metrics.RecordError(ce.Type.String())
			log.FetchErrorEvent(ce, s.current, s.consecutiveErrors, rules.MaxConsecutiveErrors)

			if errorThresholdReached(s.consecutiveErrors, rules) {
				if c.config.ThresholdAsFailure {
					return c.fail(s, log, FailErrorThreshold, ce.Type, ce)
				}
				return c.complete(s, log, StopErrorThreshold)
			}
			if !ce.Transient() {
				return c.fail(s, log, FailFetch, ce.Type, ce)
			}

			c.metrics.RecordRetry()
			if err := c.backoff.Wait(ctx, s.consecutiveErrors); err != nil {
				return c.cancelled(s, log)
			}
			continue
		}

		s.state = StateExtracting
		s.visited.Add(scope.VisitKey(s.current))

		doc, eval := evaluatorFor(page)
		content, err := eval.Extract(contentQuery)
		if err != nil {
			c.metrics.RecordError(errors.Extraction.String())
			if req.ContentRule.Required {
				return c.fail(s, log, FailContentNoMatch, errors.Extraction, errors.NewExtractionError(s.current, err))
			}
			log.WithURL(s.current).WithError(err).Debug("Optional content rule did not match")
			content = ""
		}

		assets := collectAssets(doc, page)
		s.pages = append(s.pages, PageResult{
			URL:              s.current,
			ExtractedContent: content,
			Stylesheets:      assets.Stylesheets,
			Scripts:          assets.Scripts,
			StatusCode:       page.StatusCode,
			FetchedAt:        time.Now(),
		})

		s.consecutiveErrors = 0
		c.metrics.RecordPage()
		log.PageEvent(len(s.pages), s.current, len(content), page.Duration)

		s.state = StateDecidingNext
		value, nextErr := eval.Extract(nextQuery)
		next, ok := resolveNext(s.current, value, nextErr)

		ev := ProgressEvent{
			Snapshot:       s.snapshot(""),
			LastVisitedURL: s.current,
			Note:           progressNote(len(s.pages), next, ok, rules),
		}
		if !emit(ev) {
			return c.cancelled(s, log)
		}

		if !ok {
			if nextErr != nil {
				log.WithURL(s.current).WithError(nextErr).Debug("No next link")
			}
			return c.complete(s, log, StopNoNextButton)
		}
		s.current = next
	}
}

// fetch retrieves one page under the per-page timeout.
func (c *Crawler) fetch(ctx context.Context, f fetch.Fetcher, url string) (*fetch.Page, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	page, err := f.Fetch(fetchCtx, url)
	if err != nil {
		return nil, err
	}
	if page.Duration == 0 {
		page.Duration = time.Since(start)
	}
	c.metrics.RecordFetch(page.Duration, len(page.HTML))
	return page, nil
}

// evaluatorFor parses the fetched HTML and picks where selectors run: in the
// live page when the fetcher offers that, otherwise on the parsed document.
func evaluatorFor(page *fetch.Page) (*selector.Document, selector.Evaluator) {
	doc, err := selector.Parse(page.HTML)
	if page.Evaluator != nil {
		return doc, page.Evaluator
	}
	if err != nil {
		return nil, brokenDocument{err: err}
	}
	return doc, doc
}

func collectAssets(doc *selector.Document, page *fetch.Page) parser.Assets {
	base := page.FinalURL
	if base == "" {
		base = page.URL
	}

	assets := parser.Assets{Stylesheets: []string{}, Scripts: []string{}}
	if doc != nil {
		assets = parser.CollectFromDocument(doc.Goquery(), base)
	}
	return parser.Merge(assets, page.ObservedStylesheets, page.ObservedScripts)
}

type brokenDocument struct {
	err error
}

func (b brokenDocument) Extract(q selector.Query) (string, error) {
	return "", &selector.Error{Kind: selector.EvalError, Selector: q.Selector, Cause: b.err}
}

func progressNote(pages int, next string, ok bool, rules StopRules) string {
	switch {
	case ok:
		return fmt.Sprintf("Processed page %d, next: %s", pages, next)
	case rules.StopWhenNoNextButton:
		return fmt.Sprintf("Processed page %d, no next link", pages)
	default:
		return fmt.Sprintf("Processed page %d, nothing left to follow", pages)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// complete, fail and cancelled all end in finalize, which attaches the
// pages gathered so far.

func (c *Crawler) complete(s *session, log *logger.Logger, reason StopReason) (*CrawlResult, error) {
	return c.finalize(s, log, reason, nil)
}

func (c *Crawler) fail(s *session, log *logger.Logger, reason FailureReason, kind errors.ErrorType, err error) (*CrawlResult, error) {
	stop := StopReason("")
	if reason == FailErrorThreshold {
		stop = StopErrorThreshold
	}
	return c.finalize(s, log, stop, &Failure{
		Kind:    kind,
		Reason:  reason,
		Message: err.Error(),
		Err:     err,
	})
}

func (c *Crawler) cancelled(s *session, log *logger.Logger) (*CrawlResult, error) {
	return c.fail(s, log, FailCancelled, errors.Cancelled, errors.NewCancelledError(s.current, "crawl"))
}

func (c *Crawler) finalize(s *session, log *logger.Logger, reason StopReason, failure *Failure) (*CrawlResult, error) {
	result := s.snapshot(reason)

	if failure == nil {
		s.state = StateCompleted
		c.metrics.RunFinished(string(reason), false)
		log.StopEvent(string(s.state), string(reason), result.PagesProcessed)
		return &result, nil
	}

	failure.State = s.state
	failure.PagesProcessed = result.PagesProcessed
	failure.Partial = &result
	s.state = StateFailed

	c.metrics.RunFinished(string(failure.Reason), true)
	log.WithError(failure.Err).StopEvent(string(s.state), string(failure.Reason), result.PagesProcessed)
	return &result, failure
}
