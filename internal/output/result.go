package output

import (
	"errors"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/metrics"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

// Report is the document written at the end of a run.
type Report struct {
	StartURL       string               `json:"start_url"`
	Domain         string               `json:"domain"`
	Status         Status               `json:"status"`
	StopReason     crawler.StopReason   `json:"stop_reason,omitempty"`
	PagesProcessed int                  `json:"pages_processed"`
	StartedAt      time.Time            `json:"started_at"`
	CompletedAt    time.Time            `json:"completed_at"`
	Duration       time.Duration        `json:"duration"`
	Error          *ReportError         `json:"error,omitempty"`
	Stats          *metrics.Snapshot    `json:"stats,omitempty"`
	Pages          []crawler.PageResult `json:"pages,omitempty"`
}

// NewReport builds the report of a finished run from what Run or Wait
// returned. result may be nil when err is set.
func NewReport(req crawler.Request, result *crawler.CrawlResult, err error, startedAt time.Time) *Report {
	r := &Report{
		StartURL:    req.StartURL,
		Domain:      req.Domain,
		Status:      StatusCompleted,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
	r.Duration = r.CompletedAt.Sub(startedAt)

	if result != nil {
		r.StopReason = result.StopReason
		r.PagesProcessed = result.PagesProcessed
		r.Pages = result.Pages
	}

	if err != nil {
		r.Status = StatusFailed
		r.Error = &ReportError{Message: err.Error()}

		var failure *crawler.Failure
		if errors.As(err, &failure) {
			r.Error.Reason = string(failure.Reason)
			r.Error.State = string(failure.State)
			r.Error.Kind = failure.Kind.String()
			r.Error.Message = failure.Message
			if failure.Reason == crawler.FailCancelled {
				r.Status = StatusCancelled
			}
		}
	}

	return r
}

// WithStats attaches a metrics snapshot.
func (r *Report) WithStats(s *metrics.Snapshot) *Report {
	r.Stats = s
	return r
}

// Summary returns a copy of r without pages.
func (r *Report) Summary() *Report {
	s := *r
	s.Pages = nil
	return &s
}
