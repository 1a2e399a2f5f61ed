package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/naka-gawa/prstats/internal/domain"
)

// RecordRun appends a finished sync run to the history.
func (s *Store) RecordRun(ctx context.Context, run *domain.SyncRunResult) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode sync run: %w", err)
	}
	sum := run.Summary()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, interval_start, interval_end, started_at, finished_at, repositories, committed, failed, errored, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.RunID, sum.Requested.Start().Format(domain.DateLayout), sum.Requested.End().Format(domain.DateLayout),
		formatTime(sum.StartedAt), formatTime(sum.FinishedAt), sum.Repositories, sum.Committed, sum.Failed, sum.Errored, string(raw))
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", sum.RunID, err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, interval_start, interval_end, started_at, finished_at, repositories, committed, failed, errored
		FROM sync_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var r domain.RunSummary
		var ivStart, ivEnd, started, finished string
		if err := rows.Scan(&r.RunID, &ivStart, &ivEnd, &started, &finished, &r.Repositories, &r.Committed, &r.Failed, &r.Errored); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if r.Requested, err = domain.ParseInterval(ivStart, ivEnd); err != nil {
			return nil, fmt.Errorf("failed to parse run interval: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
