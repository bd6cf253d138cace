// Package fetch defines the page retrieval capability the crawl loop runs on.
package fetch

import (
	"context"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/selector"
)

// Kind names a fetcher implementation.
type Kind string

const (
	Static   Kind = "static"
	Rendered Kind = "browser"
)

// Page is one retrieved document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Duration   time.Duration

	// Asset URLs seen on the network while the page loaded. Only rendered
	// fetchers fill these.
	ObservedStylesheets []string
	ObservedScripts     []string

	// Evaluator runs selectors against the live page when the fetcher
	// supports it. Nil means extraction runs on HTML.
	Evaluator selector.Evaluator
}

// Fetcher retrieves pages. The deadline of ctx bounds a single fetch.
// Errors are *errors.CrawlError values from internal/errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Kind() Kind
	Close() error
}
