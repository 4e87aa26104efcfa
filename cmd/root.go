// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-dashboard/internal/configs"
	"github.com/naka-gawa/pr-dashboard/internal/gateway"
	"github.com/naka-gawa/pr-dashboard/internal/storage"
	"github.com/naka-gawa/pr-dashboard/internal/usecase"
)

const defaultConfigPath = "config.yaml"

var rootCmd = &cobra.Command{
	Use:   "pr-dashboard",
	Short: "A pull request analytics dashboard backed by a Postgres cache.",
	Long: `pr-dashboard fetches pull requests and issues from the GitHub GraphQL API,
caches them in Postgres, and serves review analytics: summary statistics,
merge blockers, action owners, and DORA Four Keys metrics.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the YAML config file")
}

// newLogger returns a logger that discards everything unless --verbose is set.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.InheritedFlags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags)
	if verbose {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

// loadConfig reads the configured YAML file. The default path is optional so
// the tool works from environment variables alone, but an explicitly given
// path must exist.
func loadConfig(cmd *cobra.Command) (*configs.Config, error) {
	path, _ := cmd.InheritedFlags().GetString("config")
	if path == defaultConfigPath && !cmd.InheritedFlags().Changed("config") {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return configs.Load(path)
}

// buildService wires the store, the GitHub gateway and the use case layer.
// Commands that never fetch pass requireToken=false and get a service whose
// fetcher is nil; only the read paths may be used on it.
func buildService(cfg *configs.Config, logger *log.Logger, requireToken bool) (*usecase.Service, *storage.Store, error) {
	store, err := storage.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}

	var fetcher gateway.Fetcher
	if requireToken {
		fetcher, err = gateway.NewGitHubGateway(cfg.GitHubToken, cfg.GitHubAPIURL, logger)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return usecase.NewService(fetcher, store, logger, cfg.StaleHours, cfg.StatTTL()), store, nil
}
