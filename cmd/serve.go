package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	transport "github.com/naka-gawa/pr-dashboard/internal/transport/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the dashboard JSON API",
	Long: `Starts the HTTP server exposing pull requests, issues, summary statistics,
blockers, action owners and Four Keys metrics for the configured
repositories. With --refresh, a one-shot background fetch of every
configured repository runs at startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Port
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		service, store, err := buildService(cfg, logger, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if refresh {
			go func() {
				results := service.RefreshAll(context.Background(), cfg.Repositories, cfg.DefaultDays, false)
				for _, result := range results {
					if result.Err != nil {
						logger.Printf("startup refresh of %s/%s failed: %v", result.Owner, result.Repo, result.Err)
					}
				}
			}()
		}

		handlers := transport.NewHandlers(service, cfg.Repositories, cfg.DefaultDays, logger)
		srv := &http.Server{
			Addr:              ":" + port,
			Handler:           transport.NewRouter(handlers),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			fmt.Printf("listening on :%s\n", port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
				os.Exit(1)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		fmt.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Forced shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (default from config or PORT)")
	serveCmd.Flags().Bool("refresh", false, "Refresh every configured repository in the background at startup")
}
