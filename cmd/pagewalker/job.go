package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/pagewalker/internal/jobs"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/progress"
	"github.com/PentesterFlow/pagewalker/internal/shutdown"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

var (
	jobWorkers int
	jobExport  bool
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect profile jobs",
	}

	runCmd := &cobra.Command{
		Use:   "run [profile] [start-url]",
		Short: "Queue a job for a profile and run it",
		Args:  cobra.ExactArgs(2),
		RunE:  runJobRun,
	}
	runCmd.Flags().BoolVar(&jobExport, "export", true, "Write the finished job to the settings output directory")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress display")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Run jobs left queued by an earlier process",
		Args:  cobra.NoArgs,
		RunE:  runJobResume,
	}
	resumeCmd.Flags().IntVarP(&jobWorkers, "workers", "w", 1, "Jobs run at the same time")

	cmd.AddCommand(runCmd)
	cmd.AddCommand(resumeCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runJobList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobCancel,
	})

	return cmd
}

// jobSession wires a runner to the repository, logger and shutdown handler.
type jobSession struct {
	config *crawler.Config
	log    *logger.Logger
	sh     *shutdown.Handler
	repo   *jobs.Repository
	runner *jobs.Runner
}

func newJobSession(workers int, onUpdate func(jobs.Job)) (*jobSession, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := newLogger(config)
	sh := shutdown.New(shutdown.Config{Logger: log})

	repo, err := openRepository(config, sh)
	if err != nil {
		sh.Shutdown()
		return nil, err
	}

	runner := jobs.NewRunner(repo, jobs.RunnerConfig{
		Workers:  workers,
		Base:     config,
		Logger:   log,
		OnUpdate: onUpdate,
	})
	sh.RegisterCloser("runner", runner)

	return &jobSession{config: config, log: log, sh: sh, repo: repo, runner: runner}, nil
}

func runJobRun(cmd *cobra.Command, args []string) error {
	enableProgress := !noProgress && !verbose && !debug
	display := progress.New()

	s, err := newJobSession(1, func(j jobs.Job) {
		if enableProgress && j.Status == jobs.StatusRunning {
			display.Update(progress.Status{
				Pages:   j.PagesProcessed,
				LastURL: j.LastVisitedURL,
				Note:    j.Note,
			})
		}
	})
	if err != nil {
		return err
	}
	defer s.sh.Shutdown()

	job, err := s.runner.Submit(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Queued job %s\n", job.ID)

	if enableProgress {
		display.Start(job.StartURL)
	}
	job, err = s.runner.Execute(s.sh.Context(), job.ID)
	if enableProgress {
		display.Stop()
	}
	if err != nil {
		return err
	}

	if enableProgress {
		stats := s.runner.Metrics().Snapshot()
		display.PrintSummary(progress.Summary{
			StopReason: job.StopReason,
			Failed:     job.Status != jobs.StatusCompleted,
			Message:    job.Error,
			Pages:      job.PagesProcessed,
			Errors:     stats.ErrorsTotal,
			Retries:    stats.RetriesTotal,
			AvgFetch:   stats.AverageFetchTime,
		})
	}

	if jobExport {
		path, err := exportJob(s.repo, job)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported to %s\n", path)
	}

	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

// exportJob writes the job record to the configured output directory.
func exportJob(repo *jobs.Repository, job *jobs.Job) (string, error) {
	settings, err := repo.Settings()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(settings.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(settings.OutputDir, "job-"+job.ID+".json")
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

func runJobResume(cmd *cobra.Command, args []string) error {
	s, err := newJobSession(jobWorkers, nil)
	if err != nil {
		return err
	}
	defer s.sh.Shutdown()

	requeued, err := s.runner.Recover()
	if err != nil {
		return err
	}
	if requeued == 0 {
		fmt.Println("No queued jobs.")
		return nil
	}
	fmt.Printf("Resuming %d queued jobs with %d workers\n", requeued, jobWorkers)
	for _, id := range s.runner.Queued() {
		fmt.Printf("  %s\n", id)
	}

	s.runner.Drain(s.sh.Context())
	if left := s.runner.Pending(); left > 0 {
		fmt.Printf("Interrupted, %d jobs stay queued\n", left)
	}
	return nil
}

func runJobList(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		list, err := repo.Jobs()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPROFILE\tSTATUS\tPAGES\tSTOP REASON\tCREATED\tSTART URL")
		for _, j := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				shortID(j.ID), j.ProfileName, j.Status, j.PagesProcessed,
				j.StopReason, j.CreatedAt.Format("2006-01-02 15:04:05"), j.StartURL)
		}
		return tw.Flush()
	})
}

func runJobShow(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		job, err := findJob(repo, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	})
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	s, err := newJobSession(1, nil)
	if err != nil {
		return err
	}
	defer s.sh.Shutdown()

	job, err := findJob(s.repo, args[0])
	if err != nil {
		return err
	}
	if err := s.runner.Cancel(job.ID); err != nil {
		return err
	}
	fmt.Printf("Cancelled job %s\n", job.ID)
	return nil
}

// findJob resolves a full job ID or a unique prefix of one.
func findJob(repo *jobs.Repository, ref string) (*jobs.Job, error) {
	if job, err := repo.Job(ref); err == nil {
		return job, nil
	}

	list, err := repo.Jobs()
	if err != nil {
		return nil, err
	}
	var match *jobs.Job
	for _, j := range list {
		if !strings.HasPrefix(j.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("job id %q is ambiguous", ref)
		}
		match = j
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
