package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/prstats/internal/usecase"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregates synced pull request activity and outputs as JSON",
	Long: `Aggregates activity (opened and merged PRs, reviews, comments, median time to
merge and to first review) per repository from the local database, and outputs
the result in JSON or YAML format.

Run sync first. Repositories whose window is not fully synced are still
reported, with a warning naming the missing ranges; use --strict to fail instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		repos, window, err := windowArgs(cmd, time.Now())
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		// Inject dependencies and run the main business logic.
		aggregator := usecase.NewAggregator(store, usecase.NewValidator(store, logger), logger)
		report, err := aggregator.Aggregate(cmd.Context(), repos, window)
		if err != nil {
			return fmt.Errorf("failed to aggregate stats: %w", err)
		}

		if err := writeOutput(cmd, cmd.OutOrStdout(), report); err != nil {
			return err
		}
		return strictError(cmd, report.Warnings)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addWindowFlags(statsCmd)
	addFormatFlag(statsCmd)
	statsCmd.Flags().Bool("strict", false, "Exit non-zero instead of warning when the window is not fully synced")
}
