package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
	"github.com/naka-gawa/pr-dashboard/internal/usecase"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [owner repo]",
	Short: "Fetches pull requests and issues into the Postgres cache",
	Long: `Fetches pull requests and issues for one repository (given as owner and
repo arguments) or for every configured repository with --all, and stores
the snapshots in the Postgres cache. Unchanged repositories are skipped via
conditional requests unless --force is set.`,
	Args: cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}

		all, _ := cmd.Flags().GetBool("all")
		force, _ := cmd.Flags().GetBool("force")
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.DefaultDays
		}

		var repos []domain.Repository
		switch {
		case all:
			repos = cfg.Repositories
			if len(repos) == 0 {
				fmt.Fprintln(os.Stderr, "Error: --all given but no repositories are configured.")
				os.Exit(1)
			}
		case len(args) == 2:
			repos = []domain.Repository{{Owner: args[0], Repo: args[1]}}
		default:
			fmt.Fprintln(os.Stderr, "Error: give owner and repo arguments, or --all.")
			os.Exit(1)
		}

		service, store, err := buildService(cfg, logger, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		results := service.RefreshAll(ctx, repos, days, force)

		failed := 0
		for _, result := range results {
			switch result.Status {
			case usecase.StatusError:
				failed++
				fmt.Printf("%s/%s: error (%v)\n", result.Owner, result.Repo, result.Err)
			case usecase.StatusUnchanged:
				fmt.Printf("%s/%s: unchanged (%s cached)\n", result.Owner, result.Repo, plural(result.Count, "PR"))
			case usecase.StatusEmpty:
				fmt.Printf("%s/%s: empty\n", result.Owner, result.Repo)
			default:
				fmt.Printf("%s/%s: updated (%s)\n", result.Owner, result.Repo, plural(result.Count, "PR"))
			}
		}
		fmt.Printf("done: %d repositories, %d failed\n", len(results), failed)
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().Bool("all", false, "Fetch every repository from the config file")
	fetchCmd.Flags().Bool("force", false, "Skip conditional request validators and refetch everything")
	fetchCmd.Flags().Int("days", 0, "Lookback window in days (default from config)")
}
