// Package metrics counts what happened during crawl runs.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters across one or more crawl runs. It is safe
// for concurrent use.
type Collector struct {
	fetchesTotal atomic.Int64
	errorsTotal  atomic.Int64
	retriesTotal atomic.Int64
	pagesTotal   atomic.Int64
	bytesTotal   atomic.Int64
	runsTotal    atomic.Int64
	runsFailed   atomic.Int64
	runsActive   atomic.Int64
	fetchTimeSum atomic.Int64
	fetchTimeNum atomic.Int64
	fetchTimeMax atomic.Int64

	mu          sync.Mutex
	errorCounts map[string]int64
	stopReasons map[string]int64
	startTime   time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]int64),
		stopReasons: make(map[string]int64),
		startTime:   time.Now(),
	}
}

// RecordFetch records a completed fetch and how long it took.
func (c *Collector) RecordFetch(d time.Duration, bytes int) {
	c.fetchesTotal.Add(1)
	c.bytesTotal.Add(int64(bytes))

	ms := d.Milliseconds()
	c.fetchTimeSum.Add(ms)
	c.fetchTimeNum.Add(1)
	for {
		cur := c.fetchTimeMax.Load()
		if ms <= cur || c.fetchTimeMax.CompareAndSwap(cur, ms) {
			break
		}
	}
}

// RecordError records a failed fetch or extraction by error type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.mu.Lock()
	c.errorCounts[errorType]++
	c.mu.Unlock()
}

// RecordRetry records a same-URL retry.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
}

// RecordPage records one extracted page.
func (c *Collector) RecordPage() {
	c.pagesTotal.Add(1)
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() {
	c.runsTotal.Add(1)
	c.runsActive.Add(1)
}

// RunFinished records how a run ended.
func (c *Collector) RunFinished(reason string, failed bool) {
	c.runsActive.Add(-1)
	if failed {
		c.runsFailed.Add(1)
	}

	c.mu.Lock()
	c.stopReasons[reason]++
	c.mu.Unlock()
}

// AverageFetchTime returns the mean fetch duration.
func (c *Collector) AverageFetchTime() time.Duration {
	num := c.fetchTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(c.fetchTimeSum.Load()/num) * time.Millisecond
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime           time.Duration    `json:"uptime"`
	FetchesTotal     int64            `json:"fetches_total"`
	ErrorsTotal      int64            `json:"errors_total"`
	RetriesTotal     int64            `json:"retries_total"`
	PagesTotal       int64            `json:"pages_total"`
	BytesTotal       int64            `json:"bytes_total"`
	RunsTotal        int64            `json:"runs_total"`
	RunsFailed       int64            `json:"runs_failed"`
	RunsActive       int64            `json:"runs_active"`
	AverageFetchTime time.Duration    `json:"average_fetch_time"`
	MaxFetchTime     time.Duration    `json:"max_fetch_time"`
	ErrorCounts      map[string]int64 `json:"error_counts"`
	StopReasons      map[string]int64 `json:"stop_reasons"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Uptime:           time.Since(c.startTime),
		FetchesTotal:     c.fetchesTotal.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		RetriesTotal:     c.retriesTotal.Load(),
		PagesTotal:       c.pagesTotal.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		RunsTotal:        c.runsTotal.Load(),
		RunsFailed:       c.runsFailed.Load(),
		RunsActive:       c.runsActive.Load(),
		AverageFetchTime: c.AverageFetchTime(),
		MaxFetchTime:     time.Duration(c.fetchTimeMax.Load()) * time.Millisecond,
		ErrorCounts:      make(map[string]int64),
		StopReasons:      make(map[string]int64),
	}

	c.mu.Lock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v
	}
	for k, v := range c.stopReasons {
		s.StopReasons[k] = v
	}
	c.mu.Unlock()

	return s
}

// ToMap flattens the snapshot for structured logging.
func (s *Snapshot) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"fetches":           s.FetchesTotal,
		"errors":            s.ErrorsTotal,
		"retries":           s.RetriesTotal,
		"pages":             s.PagesTotal,
		"bytes":             s.BytesTotal,
		"runs":              s.RunsTotal,
		"runs_failed":       s.RunsFailed,
		"avg_fetch_time_ms": s.AverageFetchTime.Milliseconds(),
		"max_fetch_time_ms": s.MaxFetchTime.Milliseconds(),
		"uptime_seconds":    int64(s.Uptime.Seconds()),
	}
	for k, v := range s.ErrorCounts {
		m["errors_"+k] = v
	}
	return m
}
