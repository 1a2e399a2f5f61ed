package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/metrics"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Keeps the trailing window synced on a fixed interval",
	Long: `Runs sync every --every over the last --lookback complete days until
interrupted. Runs never overlap: a run that is still going when the next one
is due delays it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		every, _ := cmd.Flags().GetDuration("every")
		lookback, _ := cmd.Flags().GetInt("lookback")
		if every <= 0 || lookback <= 0 {
			return fmt.Errorf("--every and --lookback must be positive")
		}
		repos, _ := cmd.Flags().GetStringSlice("repo")
		if len(repos) == 0 {
			repos = cfg.Repositories
		}
		if _, err := domain.NormalizeRepositories(repos); err != nil || len(repos) == 0 {
			return fmt.Errorf("no valid repositories given: use --repo or set repositories in config")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		orchestrator, err := newOrchestrator(store, metrics.NoopRecorder{}, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runOnce := func() {
			yesterday := domain.Day(time.Now().UTC()).AddDate(0, 0, -1)
			window, err := domain.NewInterval(yesterday.AddDate(0, 0, 1-lookback), yesterday)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return
			}
			result, err := orchestrator.RequestSync(ctx, repos, window)
			if result != nil {
				if recErr := store.RecordRun(context.WithoutCancel(ctx), result); recErr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", recErr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s run %s over %s: %d committed, %d failed, %d repositories errored\n",
					result.FinishedAt.Format(time.RFC3339), result.RunID, window, result.CommittedCount(), result.FailedCount(), result.ErroredCount())
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
		}

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create gocron scheduler: %w", err)
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(every),
			gocron.NewTask(runOnce),
			gocron.WithName("sync"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to create sync job: %w", err)
		}

		logger.Printf("Schedule: syncing %d repositories every %s over the last %d day(s)", len(repos), every, lookback)
		scheduler.Start()
		<-ctx.Done()
		logger.Println("Schedule: stopping")
		return scheduler.Shutdown()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringSliceP("repo", "r", nil, "Repository as owner/name; repeatable (default: repositories from config)")
	scheduleCmd.Flags().Duration("every", time.Hour, "Interval between runs")
	scheduleCmd.Flags().Int("lookback", 7, "Number of complete days to keep synced")
}
