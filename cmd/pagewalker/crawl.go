package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/output"
	"github.com/PentesterFlow/pagewalker/internal/progress"
	"github.com/PentesterFlow/pagewalker/internal/selector"
	"github.com/PentesterFlow/pagewalker/internal/shutdown"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

var (
	// Rule flags
	domain          string
	contentType     string
	contentSel      string
	contentMode     string
	contentAttr     string
	contentOptional bool
	nextType        string
	nextSel         string
	nextAttr        string
	profileRef      string

	// Stop flags
	maxPages      int
	maxErrors     int
	noStopVisited bool
	noStopNoNext  bool
	thresholdFail bool

	// Fetch flags
	timeout        int
	delayMs        int
	renderer       string
	headless       bool
	browserPool    int
	userAgent      string
	headers        []string
	noStrictDomain bool

	// Output flags
	outputFile   string
	outputFormat string
	showProgress bool
	noProgress   bool
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [start-url]",
		Short: "Crawl from a start URL",
		Long:  "Crawl from a start URL with rules given as flags or taken from a stored profile.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	f := cmd.Flags()
	f.StringVar(&domain, "domain", "", "Domain to stay on (default: host of the start URL)")
	f.StringVar(&profileRef, "profile", "", "Use the rules of a stored profile (id or name)")
	f.StringVar(&contentType, "selector-type", "css", "Content selector type (css, xpath)")
	f.StringVarP(&contentSel, "selector", "s", "", "Content selector")
	f.StringVar(&contentMode, "mode", "text", "Extract mode (text, html, attribute)")
	f.StringVar(&contentAttr, "attr", "", "Attribute for attribute mode (default href)")
	f.BoolVar(&contentOptional, "optional", false, "Store an empty value instead of failing when the content selector does not match")
	f.StringVar(&nextType, "next-type", "css", "Next-link selector type (css, xpath)")
	f.StringVarP(&nextSel, "next", "n", "", "Next-link selector")
	f.StringVar(&nextAttr, "next-attr", "href", "Attribute holding the next URL")

	f.IntVarP(&maxPages, "max-pages", "m", 100, "Maximum pages to process")
	f.IntVar(&maxErrors, "max-errors", 3, "Consecutive fetch errors before stopping")
	f.BoolVar(&noStopVisited, "no-stop-visited", false, "Do not stop when a URL repeats")
	f.BoolVar(&noStopNoNext, "no-stop-no-next", false, "Do not report a missing next link in progress notes")
	f.BoolVar(&thresholdFail, "threshold-fail", false, "Treat the error threshold as a failure")

	f.IntVarP(&timeout, "timeout", "t", 15, "Page timeout in seconds")
	f.IntVar(&delayMs, "delay", 250, "Delay between pages in milliseconds")
	f.StringVar(&renderer, "renderer", "static", "Fetcher (static, browser)")
	f.BoolVar(&headless, "headless", true, "Run the browser headless")
	f.IntVar(&browserPool, "browser-pool", 2, "Browser pool size")
	f.StringVar(&userAgent, "user-agent", "", "User agent")
	f.StringArrayVarP(&headers, "header", "H", nil, "Extra request header (\"Name: value\"), repeatable")
	f.BoolVar(&noStrictDomain, "no-strict-domain", false, "Follow next links to other hosts")

	f.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	f.StringVar(&outputFormat, "format", "json", "Output format (json, jsonl)")
	f.BoolVar(&showProgress, "progress", true, "Show progress during crawling")
	f.BoolVar(&noProgress, "no-progress", false, "Disable progress display")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	startURL := args[0]

	config, err := loadConfig()
	if err != nil {
		return err
	}
	applyCrawlFlags(cmd, config)

	log := newLogger(config)
	sh := shutdown.New(shutdown.Config{Logger: log})
	defer sh.Shutdown()

	req, err := buildRequest(cmd, config, startURL, sh)
	if err != nil {
		return err
	}

	extra, err := parseHeaders(headers)
	if err != nil {
		return err
	}

	c, err := crawler.New(
		crawler.WithConfig(config),
		crawler.WithCustomHeaders(extra),
		crawler.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}
	sh.RegisterCloser("crawler", c)

	w, err := output.Open(output.Config{
		Format:   config.Output.Format,
		Pretty:   config.Output.Pretty,
		FilePath: config.Output.FilePath,
	})
	if err != nil {
		return err
	}
	sh.RegisterCloser("output", w)

	enableProgress := showProgress && !noProgress && !verbose && !debug
	display := progress.New()
	if enableProgress {
		display.Start(req.StartURL)
	}

	started := time.Now()
	run := c.Start(sh.Context(), req)
	for ev := range run.Events() {
		page := ev.Snapshot.Pages[len(ev.Snapshot.Pages)-1]
		if err := w.WritePage(ev.Snapshot.PagesProcessed, &page); err != nil {
			log.WithError(err).Warn("Failed to write page")
		}
		if enableProgress {
			display.Update(progress.Status{
				Pages:    ev.Snapshot.PagesProcessed,
				MaxPages: req.StopRules.MaxPages,
				LastURL:  ev.LastVisitedURL,
				Note:     ev.Note,
			})
		}
	}
	result, runErr := run.Wait()

	stats := c.Metrics().Snapshot()
	log.StatsEvent(stats.ToMap())
	report := output.NewReport(req, result, runErr, started).WithStats(stats)
	if err := w.WriteResult(report); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if enableProgress {
		display.Stop()
		summary := progress.Summary{
			StopReason: string(report.StopReason),
			Failed:     report.Status != output.StatusCompleted,
			Pages:      report.PagesProcessed,
			Errors:     stats.ErrorsTotal,
			Retries:    stats.RetriesTotal,
			AvgFetch:   stats.AverageFetchTime,
		}
		if report.Error != nil {
			summary.StopReason = report.Error.Reason
			summary.Message = report.Error.Message
		}
		display.PrintSummary(summary)
	}

	if runErr != nil && !sh.Interrupted() {
		return runErr
	}
	return nil
}

// applyCrawlFlags overrides config with the flags the user set.
func applyCrawlFlags(cmd *cobra.Command, config *crawler.Config) {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		config.RequestTimeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("delay") {
		config.DelayBetweenPages = time.Duration(delayMs) * time.Millisecond
	}
	if flags.Changed("renderer") {
		switch renderer {
		case "browser", "rendered":
			config.Renderer = fetch.Rendered
		default:
			config.Renderer = fetch.Static
		}
	}
	if flags.Changed("headless") {
		config.Browser.Headless = headless
	}
	if flags.Changed("browser-pool") {
		config.Browser.PoolSize = browserPool
	}
	if userAgent != "" {
		config.HTTP.UserAgent = userAgent
		config.Browser.UserAgent = userAgent
	}
	if noStrictDomain {
		config.StrictDomainOnly = false
	}
	if thresholdFail {
		config.ThresholdAsFailure = true
	}
	if flags.Changed("output") {
		config.Output.FilePath = outputFile
	}
	if flags.Changed("format") {
		config.Output.Format = outputFormat
	}
	if flags.Changed("max-pages") {
		config.StopRules.MaxPages = maxPages
	}
	if flags.Changed("max-errors") {
		config.StopRules.MaxConsecutiveErrors = maxErrors
	}
	if noStopVisited {
		config.StopRules.StopWhenURLVisited = false
	}
	if noStopNoNext {
		config.StopRules.StopWhenNoNextButton = false
	}
}

// buildRequest takes rules from --profile or from the selector flags.
func buildRequest(cmd *cobra.Command, config *crawler.Config, startURL string, sh *shutdown.Handler) (crawler.Request, error) {
	if profileRef != "" {
		repo, err := openRepository(config, sh)
		if err != nil {
			return crawler.Request{}, err
		}
		p, err := repo.FindProfile(profileRef)
		if err != nil {
			return crawler.Request{}, err
		}
		req := p.Request(startURL)
		if cmd.Flags().Changed("max-pages") {
			req.StopRules.MaxPages = maxPages
		}
		return req, nil
	}

	cType, err := selector.ParseType(contentType)
	if err != nil {
		return crawler.Request{}, err
	}
	mode, err := selector.ParseMode(contentMode)
	if err != nil {
		return crawler.Request{}, err
	}
	nType, err := selector.ParseType(nextType)
	if err != nil {
		return crawler.Request{}, err
	}

	d := domain
	if d == "" {
		if u, err := url.Parse(startURL); err == nil {
			d = u.Hostname()
		}
	}

	return crawler.Request{
		StartURL: startURL,
		Domain:   d,
		ContentRule: crawler.SelectorRule{
			FieldName:     "body",
			SelectorType:  cType,
			Selector:      contentSel,
			ExtractMode:   mode,
			AttributeName: contentAttr,
			Required:      !contentOptional,
		},
		PaginationRule: crawler.PaginationRule{
			SelectorType:  nType,
			Selector:      nextSel,
			AttributeName: nextAttr,
		},
		StopRules: config.StopRules,
	}, nil
}

// parseHeaders splits "Name: value" flags.
func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}
