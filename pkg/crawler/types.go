// Package crawler walks a chain of pages: it fetches a page, extracts one
// content field and a "next" link, and follows that link until a stop rule
// fires.
package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/selector"
)

// SelectorRule describes how to pull the primary content field out of a page.
type SelectorRule struct {
	FieldName     string        `json:"field_name,omitempty" yaml:"field_name,omitempty"`
	SelectorType  selector.Type `json:"selector_type" yaml:"selector_type"`
	Selector      string        `json:"selector" yaml:"selector"`
	ExtractMode   selector.Mode `json:"extract_mode" yaml:"extract_mode"`
	AttributeName string        `json:"attribute_name,omitempty" yaml:"attribute_name,omitempty"`
	Required      bool          `json:"required" yaml:"required"`
}

// Query converts the rule for the selector package.
func (r SelectorRule) Query() selector.Query {
	return selector.Query{
		Type:      r.SelectorType,
		Selector:  strings.TrimSpace(r.Selector),
		Mode:      r.ExtractMode,
		Attribute: r.AttributeName,
	}
}

// PaginationRule locates the "next page" link. The value is always read from
// an attribute.
type PaginationRule struct {
	SelectorType  selector.Type `json:"selector_type" yaml:"selector_type"`
	Selector      string        `json:"selector" yaml:"selector"`
	AttributeName string        `json:"attribute_name" yaml:"attribute_name"`
}

// Query converts the rule for the selector package.
func (r PaginationRule) Query() selector.Query {
	return selector.Query{
		Type:      r.SelectorType,
		Selector:  strings.TrimSpace(r.Selector),
		Mode:      selector.Attribute,
		Attribute: r.AttributeName,
	}
}

// StopRules bound a run.
type StopRules struct {
	StopWhenNoNextButton bool `json:"stop_when_no_next_button" yaml:"stop_when_no_next_button"`
	StopWhenURLVisited   bool `json:"stop_when_url_visited" yaml:"stop_when_url_visited"`
	MaxPages             int  `json:"max_pages" yaml:"max_pages"`
	MaxConsecutiveErrors int  `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
}

// DefaultStopRules returns the stop rules new profiles start with.
func DefaultStopRules() StopRules {
	return StopRules{
		StopWhenNoNextButton: true,
		StopWhenURLVisited:   true,
		MaxPages:             100,
		MaxConsecutiveErrors: 3,
	}
}

// Request is the input of one run.
type Request struct {
	StartURL       string         `json:"start_url" yaml:"start_url"`
	Domain         string         `json:"domain" yaml:"domain"`
	ContentRule    SelectorRule   `json:"content_rule" yaml:"content_rule"`
	PaginationRule PaginationRule `json:"pagination_rule" yaml:"pagination_rule"`
	StopRules      StopRules      `json:"stop_rules" yaml:"stop_rules"`
}

// PageResult is one successfully processed page.
type PageResult struct {
	URL              string    `json:"url"`
	ExtractedContent string    `json:"extracted_content"`
	Stylesheets      []string  `json:"stylesheet_urls"`
	Scripts          []string  `json:"script_urls"`
	StatusCode       int       `json:"status_code,omitempty"`
	FetchedAt        time.Time `json:"fetched_at"`
}

// StopReason explains why a run ended gracefully.
type StopReason string

const (
	StopNoNextButton   StopReason = "no-next-button"
	StopAlreadyVisited StopReason = "already-visited-url"
	StopMaxPages       StopReason = "max-pages-reached"
	StopErrorThreshold StopReason = "error-threshold-reached"
	StopOutOfDomain    StopReason = "out-of-domain-blocked"
)

// CrawlResult is the terminal artifact of a run. PagesProcessed always equals
// len(Pages).
type CrawlResult struct {
	PagesProcessed int          `json:"pages_processed"`
	StopReason     StopReason   `json:"stop_reason,omitempty"`
	Pages          []PageResult `json:"pages"`
}

// State is a step of the crawl state machine.
type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StateExtracting   State = "extracting"
	StateDecidingNext State = "deciding-next"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// FailureReason is the machine-readable reason of a failed run.
type FailureReason string

const (
	FailMissingSelectorRule FailureReason = "missing-selector-rule"
	FailInvalidConfig       FailureReason = "invalid-config"
	FailContentNoMatch      FailureReason = "content-selector-no-match"
	FailBrowserUnavailable  FailureReason = "virtual-browser-unavailable"
	FailFetch               FailureReason = "fetch-failed"
	FailErrorThreshold      FailureReason = "error-threshold-reached"
	FailCancelled           FailureReason = "cancelled"
)

// Failure is returned by a run that ended in StateFailed. Partial holds the
// pages extracted before the failure.
type Failure struct {
	State          State            `json:"state"`
	PagesProcessed int              `json:"pages_processed"`
	Kind           errors.ErrorType `json:"-"`
	Reason         FailureReason    `json:"reason"`
	Message        string           `json:"message"`
	Partial        *CrawlResult     `json:"-"`
	Err            error            `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("crawl failed (%s) after %d pages: %s", f.Reason, f.PagesProcessed, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ProgressEvent is emitted after every processed page.
type ProgressEvent struct {
	Snapshot       CrawlResult `json:"snapshot"`
	LastVisitedURL string      `json:"last_visited_url"`
	Note           string      `json:"note"`
}
