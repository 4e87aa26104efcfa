package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-dashboard/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports the cached data as static JSON documents",
	Long: `Reads the cached snapshots for every configured repository and writes
config.json, prs.json, issues.json, cache_info.json, analytics.json and
fourkeys.json to the output directory, ready for static hosting.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if len(cfg.Repositories) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no repositories are configured.")
			os.Exit(1)
		}

		output, _ := cmd.Flags().GetString("output")
		days, _ := cmd.Flags().GetInt("days")
		if days < 0 {
			days = cfg.DefaultDays
		}

		// Export only reads the cache, so no GitHub token is needed.
		service, store, err := buildService(cfg, logger, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		exporter := export.NewExporter(service, cfg.Repositories, cfg.StaleHours, logger)
		if err := exporter.Export(ctx, output, days); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("exported to %s\n", output)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "data", "Output directory for the JSON documents")
	exportCmd.Flags().Int("days", 0, "Lookback window in days (0 exports everything)")
}
