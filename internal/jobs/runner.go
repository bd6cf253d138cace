package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/pagewalker/internal/browser"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/metrics"
	"github.com/PentesterFlow/pagewalker/internal/queue"
	"github.com/PentesterFlow/pagewalker/internal/ratelimit"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Workers consuming the queue after Start
	Workers int

	// QueueCapacity bounds queued jobs; 0 means unbounded
	QueueCapacity int

	// Base crawler configuration; stored settings override its timing,
	// domain and renderer fields for every job
	Base *crawler.Config

	// Options appended after the runner's own crawler options
	Options []crawler.Option

	Logger  *logger.Logger
	Metrics *metrics.Collector

	// OnUpdate receives a copy of a job after every stored change
	OnUpdate func(Job)
}

// Runner owns job status transitions: every job it executes ends
// completed, failed or cancelled.
type Runner struct {
	repo    *Repository
	config  RunnerConfig
	queue   *queue.MemoryQueue
	limiter *ratelimit.Limiter
	logger  *logger.Logger
	metrics *metrics.Collector

	poolOnce sync.Once
	pool     *browser.Pool

	mu      sync.Mutex
	running map[string]*execution
	wg      sync.WaitGroup
}

// execution is a job claimed by Execute. cancelled is only touched under
// Runner.mu.
type execution struct {
	cancel    context.CancelFunc
	cancelled bool
}

// NewRunner creates a runner over repo.
func NewRunner(repo *Repository, config RunnerConfig) *Runner {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Base == nil {
		config.Base = crawler.DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	return &Runner{
		repo:    repo,
		config:  config,
		queue:   queue.NewMemoryQueue(config.QueueCapacity),
		limiter: ratelimit.NewLimiter(config.Base.DelayBetweenPages),
		logger:  config.Logger.WithComponent("jobs"),
		metrics: config.Metrics,
		running: make(map[string]*execution),
	}
}

// Metrics returns the collector shared by all jobs.
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// Submit creates a queued job for the referenced profile.
func (r *Runner) Submit(profileRef, startURL string) (*Job, error) {
	if strings.TrimSpace(startURL) == "" {
		return nil, fmt.Errorf("start URL is required")
	}

	p, err := r.repo.FindProfile(profileRef)
	if err != nil {
		return nil, err
	}

	job := NewJob(p, startURL, r.repo.now())
	if err := r.save(job); err != nil {
		return nil, err
	}
	if err := r.queue.Push(&queue.Item{JobID: job.ID, StartURL: job.StartURL, Timestamp: job.CreatedAt}); err != nil {
		if abortErr := r.abort(job, StatusFailed, "queue-unavailable", err); abortErr != nil {
			return nil, abortErr
		}
		return nil, err
	}

	r.logger.WithJob(job.ID).WithURL(job.StartURL).Info("Job queued")
	return job, nil
}

// Start launches the workers. They run until ctx is done or Close is
// called.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		item, err := r.queue.PopWait(ctx)
		if err != nil {
			return
		}
		if _, err := r.Execute(ctx, item.JobID); err != nil {
			r.logger.WithJob(item.JobID).WithError(err).Error("Job execution failed")
		}
	}
}

// Drain runs the queued jobs on the configured number of workers and
// returns once the queue is empty and every job has finished.
func (r *Runner) Drain(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				item, err := r.queue.Pop()
				if err != nil {
					return
				}
				if _, err := r.Execute(ctx, item.JobID); err != nil {
					r.logger.WithJob(item.JobID).WithError(err).Error("Job execution failed")
				}
			}
		}()
	}
	wg.Wait()
}

// Pending returns the number of queued jobs.
func (r *Runner) Pending() int {
	return r.queue.Len()
}

// Queued returns the queued job IDs in the order workers will take them.
func (r *Runner) Queued() []string {
	return r.queue.JobIDs()
}

// Cancel stops a running job or drops a queued one. A job it returns nil
// for always ends cancelled.
func (r *Runner) Cancel(id string) error {
	// mu stays held through the store update; Execute claims under it.
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, running := r.running[id]; running {
		e.cancelled = true
		e.cancel()
		return nil
	}

	job, err := r.repo.Job(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", id, job.Status)
	}

	r.queue.Remove(id)
	job.Note = "Cancelled before it started."
	job.StopReason = string(crawler.FailCancelled)
	job.finish(StatusCancelled, r.repo.now())
	return r.save(job)
}

// Recover requeues jobs left queued by a previous process and fails the
// ones it left running.
func (r *Runner) Recover() (int, error) {
	jobs, err := r.repo.Jobs()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		switch job.Status {
		case StatusQueued:
			if err := r.queue.Push(&queue.Item{JobID: job.ID, StartURL: job.StartURL, Timestamp: job.CreatedAt}); err != nil {
				return requeued, err
			}
			requeued++
		case StatusRunning:
			job.Error = "process exited while the job was running"
			job.Note = "Interrupted."
			job.finish(StatusFailed, r.repo.now())
			if err := r.save(job); err != nil {
				return requeued, err
			}
		}
	}
	return requeued, nil
}

// Execute runs a job in the calling goroutine and returns its final
// record. A crawl failure is recorded on the job, not returned; err is
// only set when the job could not be loaded or stored.
func (r *Runner) Execute(ctx context.Context, id string) (*Job, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Claimed before the read; Cancel signals a claimed job instead of
	// saving it.
	exec, err := r.claim(id, cancel)
	if err != nil {
		return nil, err
	}
	defer r.release(id)

	job, err := r.repo.Job(id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("job %s is already %s", id, job.Status)
	}
	r.queue.Remove(id)

	log := r.logger.WithJob(job.ID)

	profile, err := r.repo.Profile(job.ProfileID)
	if err != nil {
		return job, r.abort(job, StatusFailed, string(crawler.FailInvalidConfig), err)
	}
	if _, ok := profile.PrimaryRule(); !ok {
		job.Note = "Profile is missing a primary selector rule."
		return job, r.abort(job, StatusFailed, string(crawler.FailMissingSelectorRule),
			errors.New("no selector rule configured in selected profile"))
	}

	settings, err := r.repo.Settings()
	if err != nil {
		log.WithError(err).Warn("Falling back to default settings")
		settings = DefaultSettings()
	}

	c, err := r.newCrawler(settings)
	if err != nil {
		return job, r.abort(job, StatusFailed, string(crawler.FailInvalidConfig), err)
	}

	if r.cancelRequested(exec) {
		return job, r.abort(job, StatusCancelled, string(crawler.FailCancelled), context.Canceled)
	}

	job.Status = StatusRunning
	job.Note = fmt.Sprintf("Running %s crawl...", settings.Renderer)
	if err := r.save(job); err != nil {
		return job, err
	}
	log.WithURL(job.StartURL).Info("Job started")

	run := c.Start(runCtx, profile.Request(job.StartURL))
	for ev := range run.Events() {
		job.applyPages(ev.Snapshot.Pages)
		job.Note = ev.Note
		if err := r.save(job); err != nil {
			log.WithError(err).Warn("Failed to store job progress")
		}
	}

	result, runErr := run.Wait()
	r.complete(job, result, runErr)
	if r.cancelRequested(exec) && job.Status != StatusCancelled {
		job.Status = StatusCancelled
		job.StopReason = string(crawler.FailCancelled)
		job.Note = fmt.Sprintf("Crawl cancelled after %d pages.", job.PagesProcessed)
	}
	if err := r.save(job); err != nil {
		return job, err
	}

	log.WithFields(map[string]interface{}{
		"status":      string(job.Status),
		"stop_reason": job.StopReason,
		"pages":       job.PagesProcessed,
	}).Info("Job finished")
	return job, nil
}

// complete records the terminal state of a crawl on job.
func (r *Runner) complete(job *Job, result *crawler.CrawlResult, err error) {
	now := r.repo.now()

	if err == nil {
		job.applyPages(result.Pages)
		job.StopReason = string(result.StopReason)
		job.Note = fmt.Sprintf("Crawl completed with stop reason: %s.", result.StopReason)
		job.finish(StatusCompleted, now)
		return
	}

	job.Error = err.Error()
	status := StatusFailed

	var failure *crawler.Failure
	if errors.As(err, &failure) {
		if failure.Partial != nil {
			job.applyPages(failure.Partial.Pages)
		}
		job.StopReason = string(failure.Reason)
		job.Error = failure.Message
		if failure.Reason == crawler.FailCancelled {
			status = StatusCancelled
		}
	} else if result != nil {
		job.applyPages(result.Pages)
	}

	job.Note = fmt.Sprintf("Crawl %s after %d pages.", status, job.PagesProcessed)
	job.finish(status, now)
}

// abort ends a job that never reached the crawler.
func (r *Runner) abort(job *Job, status Status, reason string, cause error) error {
	if status != StatusCancelled {
		r.mu.Lock()
		if e, ok := r.running[job.ID]; ok && e.cancelled {
			status, reason = StatusCancelled, string(crawler.FailCancelled)
		}
		r.mu.Unlock()
	}
	job.StopReason = reason
	job.Error = cause.Error()
	if job.Note == "" || job.Note == "Queued" {
		job.Note = "Job could not start."
	}
	job.finish(status, r.repo.now())
	if err := r.save(job); err != nil {
		return errors.Join(cause, err)
	}
	r.logger.WithJob(job.ID).WithError(cause).Warn("Job aborted")
	return nil
}

func (r *Runner) newCrawler(s Settings) (*crawler.Crawler, error) {
	config := r.config.Base.Clone()
	config.RequestTimeout = s.RequestTimeout
	config.DelayBetweenPages = s.DelayBetweenPages
	config.StrictDomainOnly = s.StrictDomainOnly
	config.Renderer = s.Renderer
	r.limiter.SetDelay(s.DelayBetweenPages)

	opts := []crawler.Option{
		crawler.WithConfig(config),
		crawler.WithLogger(r.config.Logger.WithComponent("crawler")),
		crawler.WithMetrics(r.metrics),
		crawler.WithLimiter(r.limiter),
	}
	if config.Renderer == fetch.Rendered {
		opts = append(opts, crawler.WithPool(r.browserPool(config.Browser)))
	}
	opts = append(opts, r.config.Options...)

	return crawler.New(opts...)
}

// browserPool lazily creates the pool shared by all rendered jobs.
func (r *Runner) browserPool(config browser.Config) *browser.Pool {
	r.poolOnce.Do(func() {
		if config.PoolSize < r.config.Workers {
			config.PoolSize = r.config.Workers
		}
		r.pool = browser.NewPool(config)
	})
	return r.pool
}

func (r *Runner) save(job *Job) error {
	if err := r.repo.SaveJob(job); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	if r.config.OnUpdate != nil {
		snapshot := *job
		snapshot.Pages = append([]PageRecord(nil), job.Pages...)
		r.config.OnUpdate(snapshot)
	}
	return nil
}

func (r *Runner) claim(id string, cancel context.CancelFunc) (*execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[id]; busy {
		return nil, fmt.Errorf("job %s is already running", id)
	}
	e := &execution{cancel: cancel}
	r.running[id] = e
	return e, nil
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}

func (r *Runner) cancelRequested(e *execution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.cancelled
}

// Close stops the workers, cancels running jobs and releases the browser
// pool. Jobs still queued stay queued in the store.
func (r *Runner) Close() error {
	_ = r.queue.Close()

	r.mu.Lock()
	for _, e := range r.running {
		e.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		r.logger.Warn("Timed out waiting for job workers")
	}

	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}
