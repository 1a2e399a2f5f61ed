package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/prstats/internal/metrics"
	"github.com/naka-gawa/prstats/internal/usecase"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetches pull requests, reviews and comments that are not synced yet",
	Long: `Fetches pull requests, reviews and comments of the given repositories for
every day of the window that has not been synced before, stores them in the
local database and records the synced days. Days already synced are skipped,
so re-running the same window costs no API calls.

Failed ranges are listed in the output and make the command exit non-zero;
they will be retried by the next sync. Today is never marked as synced.`,
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

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			plans, err := usecase.NewPlanner(store, logger).Plan(cmd.Context(), repos, window)
			if err != nil {
				return fmt.Errorf("failed to plan sync: %w", err)
			}
			return writeOutput(cmd, cmd.OutOrStdout(), plans)
		}

		var recorder metrics.Recorder = metrics.NoopRecorder{}
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		var prom *metrics.PrometheusRecorder
		if metricsFile != "" {
			prom = metrics.NewPrometheusRecorder(nil)
			recorder = prom
		}

		orchestrator, err := newOrchestrator(store, recorder, logger)
		if err != nil {
			return err
		}

		// Interrupts stop the run between gaps; a gap being written finishes first.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, syncErr := orchestrator.RequestSync(ctx, repos, window)
		if result == nil {
			return syncErr
		}
		if err := store.RecordRun(context.WithoutCancel(ctx), result); err != nil {
			return err
		}
		if prom != nil {
			if err := prom.WriteTextfile(metricsFile); err != nil {
				return err
			}
		}
		if err := writeOutput(cmd, cmd.OutOrStdout(), result); err != nil {
			return err
		}

		if syncErr != nil {
			return syncErr
		}
		if n := result.ErroredCount(); n > 0 {
			return fmt.Errorf("%d repository(ies) could not be synced", n)
		}
		if n := result.FailedCount(); n > 0 {
			return fmt.Errorf("%d gap(s) failed to sync; run sync again to retry them", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	addWindowFlags(syncCmd)
	addFormatFlag(syncCmd)
	syncCmd.Flags().Bool("dry-run", false, "Print the ranges that would be fetched without calling GitHub")
	syncCmd.Flags().String("metrics-file", "", "Write Prometheus metrics of the run to this file")
	syncCmd.Flags().Int("concurrency", 0, "Repositories synced in parallel (overrides config)")
	if err := v.BindPFlag("concurrency", syncCmd.Flags().Lookup("concurrency")); err != nil {
		panic(err)
	}
}
