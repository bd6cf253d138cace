package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/state"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

// =============================================================================
// Helpers
// =============================================================================

type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	block chan struct{}
}

func (s *siteFetcher) Fetch(ctx context.Context, u string) (*fetch.Page, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, errors.NewCancelledError(u, "fetch")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.pages[u]
	if !ok {
		return nil, errors.NewStatusError(u, http.StatusNotFound)
	}
	return &fetch.Page{URL: u, FinalURL: u, StatusCode: http.StatusOK, HTML: body}, nil
}

func (s *siteFetcher) Kind() fetch.Kind { return fetch.Static }
func (s *siteFetcher) Close() error     { return nil }

func chapter(body, next string) string {
	link := ""
	if next != "" {
		link = fmt.Sprintf(`<a class="next" href="%s">next</a>`, next)
	}
	return fmt.Sprintf(`<html><head><script src="/reader.js"></script></head>
		<body><div class="chapter-body">%s</div>%s</body></html>`, body, link)
}

type harness struct {
	repo    *Repository
	runner  *Runner
	profile *Profile
	site    *siteFetcher

	mu      sync.Mutex
	updates []Job
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo: NewRepository(state.NewMemoryStore()),
		site: &siteFetcher{pages: map[string]string{
			"https://example.com/1": chapter("first   chapter", "/2"),
			"https://example.com/2": chapter("second chapter", "/3"),
			"https://example.com/3": chapter("third chapter", ""),
		}},
	}

	_, err := h.repo.SaveSettings(Settings{OutputDir: "exports", MaxPagesDefault: 10, RequestTimeout: time.Second, StrictDomainOnly: true, Renderer: fetch.Static})
	require.NoError(t, err)

	d := validDraft()
	d.ExtractMode = "text"
	h.profile, err = NewProfile(d, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.repo.SaveProfile(h.profile))

	h.runner = NewRunner(h.repo, RunnerConfig{
		Options: []crawler.Option{
			crawler.WithFetcherSource(func(context.Context) (fetch.Fetcher, error) { return h.site, nil }),
			crawler.WithBackoff(errors.Backoff{}),
		},
		OnUpdate: func(j Job) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.updates = append(h.updates, j)
		},
	})
	t.Cleanup(func() { _ = h.runner.Close() })
	return h
}

func (h *harness) statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, 0, len(h.updates))
	for _, u := range h.updates {
		if len(out) == 0 || out[len(out)-1] != u.Status {
			out = append(out, u.Status)
		}
	}
	return out
}

// =============================================================================
// Execute Tests
// =============================================================================

func TestRunner_ExecuteCompleted(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.Name, "https://example.com/1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 1, h.runner.Pending())

	done, err := h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, string(crawler.StopNoNextButton), done.StopReason)
	assert.Equal(t, 3, done.PagesProcessed)
	assert.Equal(t, "https://example.com/3", done.LastVisitedURL)
	require.Len(t, done.Pages, 3)
	assert.Equal(t, "first chapter", done.Pages[0].Preview)
	assert.Equal(t, []string{"https://example.com/reader.js"}, done.Pages[0].Scripts)
	assert.True(t, strings.HasPrefix(done.ExtractedPreview, "Page 1: first chapter\n\nPage 2:"))
	assert.NotNil(t, done.CompletedAt)
	assert.Zero(t, h.runner.Pending())

	stored, err := h.repo.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	assert.Equal(t, []Status{StatusQueued, StatusRunning, StatusCompleted}, h.statuses())

	_, err = h.runner.Execute(context.Background(), job.ID)
	assert.Error(t, err, "a finished job cannot run twice")
}

func TestRunner_ProgressIsStoredPerPage(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)
	_, err = h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	var counts []int
	for _, u := range h.updates {
		if u.Status == StatusRunning {
			counts = append(counts, u.PagesProcessed)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3}, counts)
}

func TestRunner_CrawlFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.site.pages["https://example.com/2"] = `<html><body>moved</body></html>`

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)

	done, err := h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, string(crawler.FailContentNoMatch), done.StopReason)
	assert.NotEmpty(t, done.Error)
	assert.Equal(t, 1, done.PagesProcessed)
	assert.Len(t, done.Pages, 1)
}

func TestRunner_InvalidStartURLFailsWithoutFetching(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "not a url")
	require.NoError(t, err)

	done, err := h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, string(crawler.FailInvalidConfig), done.StopReason)
	assert.Zero(t, done.PagesProcessed)
}

func TestRunner_MissingPrimaryRule(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)

	h.profile.SelectorRules = nil
	require.NoError(t, h.repo.SaveProfile(h.profile))

	done, err := h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, string(crawler.FailMissingSelectorRule), done.StopReason)
	assert.Equal(t, "Profile is missing a primary selector rule.", done.Note)
}

func TestRunner_DeletedProfile(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)
	require.NoError(t, h.repo.DeleteProfile(h.profile.ID))

	done, err := h.runner.Execute(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "not found")
}

func TestRunner_SubmitErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.runner.Submit(h.profile.ID, "  ")
	assert.Error(t, err)

	_, err = h.runner.Submit("unknown", "https://example.com/1")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

// =============================================================================
// Cancellation and workers
// =============================================================================

func TestRunner_CancelQueued(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)
	require.NoError(t, h.runner.Cancel(job.ID))

	stored, err := h.repo.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Zero(t, h.runner.Pending())

	assert.Error(t, h.runner.Cancel(job.ID))
}

func TestRunner_CancelRunning(t *testing.T) {
	h := newHarness(t)
	h.site.block = make(chan struct{})

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)

	result := make(chan *Job, 1)
	go func() {
		done, _ := h.runner.Execute(context.Background(), job.ID)
		result <- done
	}()

	require.Eventually(t, func() bool {
		j, err := h.repo.Job(job.ID)
		return err == nil && j.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, h.runner.Cancel(job.ID))

	select {
	case done := <-result:
		assert.Equal(t, StatusCancelled, done.Status)
		assert.Equal(t, string(crawler.FailCancelled), done.StopReason)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled job did not finish")
	}
}

func TestRunner_CancelAfterPopBeforeExecute(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)

	// a worker has taken the item but not started the job yet
	item, err := h.runner.queue.Pop()
	require.NoError(t, err)
	require.NoError(t, h.runner.Cancel(item.JobID))

	done, err := h.runner.Execute(context.Background(), item.JobID)
	assert.Error(t, err)
	require.NotNil(t, done)
	assert.Equal(t, StatusCancelled, done.Status)

	stored, err := h.repo.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Zero(t, stored.PagesProcessed)
}

func TestRunner_CancelOfClaimedJobIsNotLost(t *testing.T) {
	h := newHarness(t)

	job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
	require.NoError(t, err)

	// Execute has claimed the job but not read it yet
	signalled := false
	exec, err := h.runner.claim(job.ID, func() { signalled = true })
	require.NoError(t, err)

	require.NoError(t, h.runner.Cancel(job.ID))
	assert.True(t, signalled)
	assert.True(t, h.runner.cancelRequested(exec))

	stored, err := h.repo.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, stored.Status, "a claimed job is left to its executor")

	_, err = h.runner.Execute(context.Background(), job.ID)
	assert.Error(t, err, "a claimed job cannot be executed twice")
	h.runner.release(job.ID)
}

func TestRunner_ConcurrentCancelAndExecute(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 25; i++ {
		job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
		require.NoError(t, err)

		start := make(chan struct{})
		var wg sync.WaitGroup
		var cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _ = h.runner.Execute(context.Background(), job.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			cancelErr = h.runner.Cancel(job.ID)
		}()
		close(start)
		wg.Wait()

		stored, err := h.repo.Job(job.ID)
		require.NoError(t, err)
		require.True(t, stored.Status.Terminal(), "job %d left %s", i, stored.Status)
		if cancelErr == nil {
			assert.Equal(t, StatusCancelled, stored.Status, "job %d: acknowledged cancel was lost", i)
		} else {
			assert.Equal(t, StatusCompleted, stored.Status, "job %d", i)
		}
	}
}

func TestRunner_WorkersDrainQueue(t *testing.T) {
	h := newHarness(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := h.runner.Submit(h.profile.ID, "https://example.com/1")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runner.Start(ctx)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			j, err := h.repo.Job(id)
			if err != nil || j.Status != StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	snap := h.runner.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.RunsTotal)
	assert.Equal(t, int64(9), snap.PagesTotal)
}

func TestRunner_Recover(t *testing.T) {
	h := newHarness(t)

	queued := NewJob(h.profile, "https://example.com/1", time.Now())
	require.NoError(t, h.repo.SaveJob(queued))

	stale := NewJob(h.profile, "https://example.com/1", time.Now())
	stale.Status = StatusRunning
	require.NoError(t, h.repo.SaveJob(stale))

	n, err := h.runner.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.runner.Pending())

	got, err := h.repo.Job(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunner_RecoverThenDrain(t *testing.T) {
	h := newHarness(t)

	first := NewJob(h.profile, "https://example.com/1", time.Now())
	second := NewJob(h.profile, "https://example.com/2", time.Now().Add(time.Second))
	require.NoError(t, h.repo.SaveJob(first))
	require.NoError(t, h.repo.SaveJob(second))

	n, err := h.runner.Recover()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, []string{first.ID, second.ID}, h.runner.Queued())

	h.runner.Drain(context.Background())
	assert.Zero(t, h.runner.Pending())

	got, err := h.repo.Job(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.PagesProcessed)

	got, err = h.repo.Job(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.PagesProcessed)
}
