package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/usecase"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Shows which days of a window are not synced yet",
	Long: `Checks the local database and lists, per repository, the ranges of the
window that have not been synced. No API calls are made.

Without --repo or configured repositories, every repository that has been
synced before is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		window, err := dateWindow(cmd, time.Now())
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		repos, err := knownRepositories(cmd.Context(), store, repositoryArgs(cmd))
		if err != nil {
			return err
		}

		reports, err := usecase.NewValidator(store, logger).Validate(cmd.Context(), repos, window)
		if err != nil {
			return fmt.Errorf("failed to check coverage: %w", err)
		}
		if err := writeOutput(cmd, cmd.OutOrStdout(), reports); err != nil {
			return err
		}
		return strictError(cmd, domain.CoverageWarnings(reports))
	},
}

// strictError prints warnings to stderr and, under --strict, fails.
func strictError(cmd *cobra.Command, warnings []string) error {
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
	}
	strict, _ := cmd.Flags().GetBool("strict")
	if strict && len(warnings) > 0 {
		return fmt.Errorf("%d repository window(s) not fully synced", len(warnings))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(coverageCmd)
	addWindowFlags(coverageCmd)
	addFormatFlag(coverageCmd)
	coverageCmd.Flags().Bool("strict", false, "Exit non-zero when any range is not synced")
}
