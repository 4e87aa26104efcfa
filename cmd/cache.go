package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects and clears the Postgres cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info <owner> <repo>",
	Short: "Shows cache freshness for one repository",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		service, store, err := buildService(cfg, logger, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		fresh, err := service.Freshness(ctx, args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read cache info: %v\n", err)
			os.Exit(1)
		}
		jsonData, err := json.MarshalIndent(fresh, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to marshal cache info: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(jsonData))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <owner> <repo>",
	Short: "Deletes all cached data for one repository",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		service, store, err := buildService(cfg, logger, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		deleted, err := service.ClearCache(ctx, args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s: deleted %d cached records\n", args[0], args[1], deleted)
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
