package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/gateway"
	"github.com/naka-gawa/prstats/internal/metrics"
	"github.com/naka-gawa/prstats/internal/storage/sqlite"
	"github.com/naka-gawa/prstats/internal/usecase"
)

// newLogger discards everything unless --verbose is set.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags) // Default: discard all logs.
	if verbose {
		logger.SetOutput(os.Stderr) // If verbose, log to standard error.
	}
	return logger
}

func openStore() (*sqlite.Store, error) {
	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func newOrchestrator(store *sqlite.Store, recorder metrics.Recorder, logger *log.Logger) (*usecase.Orchestrator, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	githubGateway, err := gateway.NewGitHubGateway(cfg.GitHubToken, gateway.Options{
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RateLimitMaxWait:  cfg.RateLimitMaxWait,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	return usecase.NewOrchestrator(githubGateway, store, store, usecase.OrchestratorOptions{
		Concurrency:    cfg.Concurrency,
		CommitAttempts: cfg.CommitAttempts,
		Retry: usecase.RetryPolicy{
			MaxRateLimitAttempts: cfg.Retry.MaxRateLimitAttempts,
			MaxTransientAttempts: cfg.Retry.MaxTransientAttempts,
			InitialInterval:      cfg.Retry.InitialInterval,
			MaxInterval:          cfg.Retry.MaxInterval,
		},
		Recorder: recorder,
	}, logger), nil
}

// addWindowFlags registers the repository and date flags shared by
// sync, coverage and stats.
func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("repo", "r", nil, "Repository as owner/name; repeatable (default: repositories from config)")
	cmd.Flags().String("from", "", "Start date, inclusive (YYYY-MM-DD or YYYY/MM/DD)")
	cmd.Flags().String("to", "", "End date, inclusive (default: yesterday)")
	cmd.MarkFlagRequired("from")
}

var errNoRepositories = errors.New("no repositories given: use --repo or set repositories in config")

// repositoryArgs returns --repo, falling back to the configured repositories.
func repositoryArgs(cmd *cobra.Command) []string {
	repos, _ := cmd.Flags().GetStringSlice("repo")
	if len(repos) == 0 {
		repos = cfg.Repositories
	}
	return repos
}

// dateWindow resolves --from and --to. The end defaults to the last
// complete day before now.
func dateWindow(cmd *cobra.Command, now time.Time) (domain.Interval, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	from, err := domain.ParseDate(fromStr)
	if err != nil {
		return domain.Interval{}, fmt.Errorf("invalid --from: %w", err)
	}
	to := domain.Day(now.UTC()).AddDate(0, 0, -1)
	if toStr != "" {
		if to, err = domain.ParseDate(toStr); err != nil {
			return domain.Interval{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return domain.NewInterval(from, to)
}

// windowArgs resolves the repositories and interval of a command.
func windowArgs(cmd *cobra.Command, now time.Time) ([]string, domain.Interval, error) {
	repos := repositoryArgs(cmd)
	if len(repos) == 0 {
		return nil, domain.Interval{}, errNoRepositories
	}
	window, err := dateWindow(cmd, now)
	if err != nil {
		return nil, domain.Interval{}, err
	}
	return repos, window, nil
}

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
}

// writeOutput renders value to w in the format chosen by --format.
func writeOutput(cmd *cobra.Command, w io.Writer, value interface{}) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json":
		// Marshal the results into a pretty-printed JSON string.
		jsonData, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results to JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(jsonData))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("failed to marshal results to YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q: use json or yaml", format)
	}
}

// ledgerLister lists every repository with recorded coverage.
type ledgerLister interface {
	ListLedgers(ctx context.Context) ([]*domain.Ledger, error)
}

// knownRepositories returns repos, or when it is empty every repository the
// store has coverage for.
func knownRepositories(ctx context.Context, store ledgerLister, repos []string) ([]string, error) {
	if len(repos) > 0 {
		return repos, nil
	}
	ledgers, err := store.ListLedgers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced repositories: %w", err)
	}
	for _, l := range ledgers {
		repos = append(repos, l.Repository())
	}
	if len(repos) == 0 {
		return nil, errNoRepositories
	}
	return repos, nil
}
