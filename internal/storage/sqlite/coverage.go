package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/naka-gawa/prstats/internal/domain"
)

// LoadLedger returns the coverage ledger of repo, or an empty ledger at
// version 0 if the repository was never synced.
func (s *Store) LoadLedger(ctx context.Context, repo string) (*domain.Ledger, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT intervals, version FROM coverage_ledgers WHERE repository = ?", repo,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewLedger(repo), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coverage ledger for %s: %w", repo, err)
	}

	var intervals []domain.Interval
	if err := json.Unmarshal([]byte(raw), &intervals); err != nil {
		return nil, fmt.Errorf("failed to decode coverage ledger for %s: %w", repo, err)
	}
	return domain.RestoreLedger(repo, version, intervals), nil
}

// SaveLedger writes ledger if the stored row is still at ledger.Version().
// It returns the ledger stamped with the new version, or
// domain.ErrVersionConflict if another writer got there first.
func (s *Store) SaveLedger(ctx context.Context, ledger *domain.Ledger) (*domain.Ledger, error) {
	raw, err := json.Marshal(ledger.Intervals())
	if err != nil {
		return nil, fmt.Errorf("failed to encode coverage ledger: %w", err)
	}
	now := formatTime(time.Now())

	var res sql.Result
	if ledger.Version() == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO coverage_ledgers (repository, intervals, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(repository) DO NOTHING
		`, ledger.Repository(), string(raw), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE coverage_ledgers
			SET intervals = ?, version = version + 1, updated_at = ?
			WHERE repository = ? AND version = ?
		`, string(raw), now, ledger.Repository(), ledger.Version())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save coverage ledger for %s: %w", ledger.Repository(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to save coverage ledger for %s: %w", ledger.Repository(), err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s at version %d: %w", ledger.Repository(), ledger.Version(), domain.ErrVersionConflict)
	}
	return ledger.WithVersion(ledger.Version() + 1), nil
}

// ListLedgers returns every stored ledger ordered by repository.
func (s *Store) ListLedgers(ctx context.Context) ([]*domain.Ledger, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT repository, intervals, version FROM coverage_ledgers ORDER BY repository")
	if err != nil {
		return nil, fmt.Errorf("failed to list coverage ledgers: %w", err)
	}
	defer rows.Close()

	var ledgers []*domain.Ledger
	for rows.Next() {
		var repo, raw string
		var version int64
		if err := rows.Scan(&repo, &raw, &version); err != nil {
			return nil, fmt.Errorf("failed to scan coverage ledger: %w", err)
		}
		var intervals []domain.Interval
		if err := json.Unmarshal([]byte(raw), &intervals); err != nil {
			return nil, fmt.Errorf("failed to decode coverage ledger for %s: %w", repo, err)
		}
		ledgers = append(ledgers, domain.RestoreLedger(repo, version, intervals))
	}
	return ledgers, rows.Err()
}
