package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/pagewalker/internal/browser"
	"github.com/PentesterFlow/pagewalker/internal/fetch"
	"github.com/PentesterFlow/pagewalker/internal/jobs"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change job defaults",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
				s, err := repo.Settings()
				if err != nil {
					return err
				}
				return printSettings(s)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Change one setting (output_dir, max_pages_default, request_timeout, delay_between_pages, strict_domain_only, renderer)",
		Args:  cobra.ExactArgs(2),
		RunE:  runSettingsSet,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
				s, err := repo.ResetSettings()
				if err != nil {
					return err
				}
				return printSettings(s)
			})
		},
	})

	return cmd
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		s, err := repo.Settings()
		if err != nil {
			return err
		}
		if err := setSetting(&s, args[0], args[1]); err != nil {
			return err
		}
		saved, err := repo.SaveSettings(s)
		if err != nil {
			return err
		}
		return printSettings(saved)
	})
}

// setSetting parses value into the field named key. Durations accept Go
// syntax ("1500ms") or plain milliseconds.
func setSetting(s *jobs.Settings, key, value string) error {
	value = strings.TrimSpace(value)

	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "output_dir":
		s.OutputDir = value
	case "max_pages_default":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_pages_default: %w", err)
		}
		s.MaxPagesDefault = n
	case "request_timeout":
		d, err := parseMillis(value)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		s.RequestTimeout = d
	case "delay_between_pages":
		d, err := parseMillis(value)
		if err != nil {
			return fmt.Errorf("delay_between_pages: %w", err)
		}
		s.DelayBetweenPages = d
	case "strict_domain_only":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("strict_domain_only: %w", err)
		}
		s.StrictDomainOnly = b
	case "renderer":
		switch value {
		case "static":
			s.Renderer = fetch.Static
		case "browser", "rendered":
			s.Renderer = fetch.Rendered
			if !browser.Available(browser.DefaultConfig()) {
				fmt.Fprintln(os.Stderr, "Warning: no Chrome binary found; browser jobs will fail until one is installed")
			}
		default:
			return fmt.Errorf("renderer must be static or browser, got %q", value)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func parseMillis(value string) (time.Duration, error) {
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

func printSettings(s jobs.Settings) error {
	data, err := yaml.Marshal(map[string]interface{}{
		"output_dir":          s.OutputDir,
		"max_pages_default":   s.MaxPagesDefault,
		"request_timeout":     s.RequestTimeout.String(),
		"delay_between_pages": s.DelayBetweenPages.String(),
		"strict_domain_only":  s.StrictDomainOnly,
		"renderer":            string(s.Renderer),
	})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
