// Package progress renders a one-line crawl progress display on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Status is what the display shows for one crawl run.
type Status struct {
	Pages    int
	MaxPages int
	Errors   int
	LastURL  string
	Note     string
}

// Display manages the progress line while a crawl runs.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	startTime time.Time
	target    string
	status    Status

	lastLine string
}

// New creates a progress display writing to stderr.
func New() *Display {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer) *Display {
	return &Display{out: w}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the progress line.
func (d *Display) Update(s Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status = s
	if !d.started || d.stopped {
		return
	}

	percent := 0
	if s.MaxPages > 0 {
		percent = s.Pages * 100 / s.MaxPages
		if percent > 100 {
			percent = 100
		}
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(s.Pages) / elapsed.Seconds()
	}

	barWidth := 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Pages: %d/%d | Errors: %d | %.1f p/s | %s | %s",
		bar, percent, s.Pages, s.MaxPages, s.Errors, speed, formatDuration(elapsed), truncateURL(s.LastURL, 50))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the progress line.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// Summary is the final report printed after a run.
type Summary struct {
	StopReason string
	Failed     bool
	Message    string
	Pages      int
	Errors     int64
	Retries    int64
	AvgFetch   time.Duration
}

// PrintSummary prints a final summary after crawling.
func (d *Display) PrintSummary(s Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	duration := time.Since(d.startTime)
	title := "Crawl Complete"
	if s.Failed {
		title = "Crawl Failed"
	}

	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  %s\n", title)
	fmt.Fprintln(d.out, "  "+strings.Repeat("─", 40))
	fmt.Fprintf(d.out, "  Start URL:    %s\n", truncateURL(d.target, 60))
	fmt.Fprintf(d.out, "  Duration:     %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Pages:        %d\n", s.Pages)
	fmt.Fprintf(d.out, "  Stop reason:  %s\n", s.StopReason)
	if s.Message != "" {
		fmt.Fprintf(d.out, "  Message:      %s\n", s.Message)
	}
	fmt.Fprintf(d.out, "  Fetch errors: %d (retries %d)\n", s.Errors, s.Retries)
	if s.AvgFetch > 0 {
		fmt.Fprintf(d.out, "  Avg fetch:    %s\n", s.AvgFetch.Round(time.Millisecond))
	}
	fmt.Fprintln(d.out)
}

// Current returns the last status passed to Update.
func (d *Display) Current() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
