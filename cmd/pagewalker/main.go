package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/pagewalker/internal/jobs"
	"github.com/PentesterFlow/pagewalker/internal/logger"
	"github.com/PentesterFlow/pagewalker/internal/shutdown"
	"github.com/PentesterFlow/pagewalker/internal/state"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	dbPath     string
	verbose    bool
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pagewalker",
		Short: "pagewalker - follow next-page links and extract content",
		Long: `pagewalker - A bounded multi-page content crawler.

Starting from one URL it extracts a content field with a CSS or XPath rule,
follows the "next page" link and stops on a missing link, a revisited URL,
a page limit, repeated fetch errors or a link leaving the site.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Profile and job database (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newJobCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (yaml, or json for a .json path)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := crawler.DefaultConfig().SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// loadConfig reads --config, or returns the defaults.
func loadConfig() (*crawler.Config, error) {
	if configFile == "" {
		return crawler.DefaultConfig(), nil
	}

	config, err := crawler.LoadFromFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return config, nil
}

// newLogger builds the CLI logger; --verbose and --debug override the
// configured level.
func newLogger(config *crawler.Config) *logger.Logger {
	level, err := logger.ParseLevel(config.Log.Level)
	if err != nil {
		level = logger.WarnLevel
	}
	if verbose {
		level = logger.InfoLevel
	}
	if debug {
		level = logger.DebugLevel
	}

	return logger.New(logger.Config{
		Level:  level,
		Pretty: config.Log.Pretty,
		Output: os.Stderr,
	})
}

// openRepository opens the bbolt database and registers it for shutdown.
func openRepository(config *crawler.Config, sh *shutdown.Handler) (*jobs.Repository, error) {
	path := config.StatePath
	if dbPath != "" {
		path = dbPath
	}

	store, err := state.NewBoltStore(path)
	if err != nil {
		return nil, err
	}

	repo := jobs.NewRepository(store)
	if sh != nil {
		sh.RegisterCloser("store", repo)
	}
	return repo, nil
}

// withRepository runs fn against an opened repository and closes it.
func withRepository(fn func(repo *jobs.Repository, config *crawler.Config) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(config, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	return fn(repo, config)
}
