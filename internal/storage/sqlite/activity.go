package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/naka-gawa/prstats/internal/domain"
)

// UpsertBatch writes every entity of b in one transaction and returns how
// many rows were written. Rows are keyed by their GitHub identity, so writing
// the same batch twice changes nothing.
func (s *Store) UpsertBatch(ctx context.Context, b domain.Batch) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, pr := range b.PullRequests {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pull_requests (repository, number, title, author, state, created_at, merged_at, closed_at, additions, deletions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repository, number) DO UPDATE SET
				title = excluded.title,
				author = excluded.author,
				state = excluded.state,
				created_at = excluded.created_at,
				merged_at = excluded.merged_at,
				closed_at = excluded.closed_at,
				additions = excluded.additions,
				deletions = excluded.deletions
		`, pr.Repository, pr.Number, pr.Title, pr.Author, pr.State, formatTime(pr.CreatedAt),
			nullTime(pr.MergedAt), nullTime(pr.ClosedAt), pr.Additions, pr.Deletions)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert pull request %s#%d: %w", pr.Repository, pr.Number, err)
		}
	}

	for _, r := range b.Reviews {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (id, repository, pull_number, author, state, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				author = excluded.author,
				state = excluded.state,
				submitted_at = excluded.submitted_at
		`, r.ID, r.Repository, r.PullNumber, r.Author, r.State, formatTime(r.SubmittedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert review %s: %w", r.ID, err)
		}
	}

	for _, c := range b.Comments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO comments (id, repository, pull_number, author, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				author = excluded.author,
				created_at = excluded.created_at
		`, c.ID, c.Repository, c.PullNumber, c.Author, formatTime(c.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert comment %d: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return b.Size(), nil
}

// windowBounds turns an inclusive day interval into the half-open
// [start, end+1d) timestamp range used by the queries below.
func windowBounds(iv domain.Interval) (string, string) {
	return formatTime(iv.Start()), formatTime(iv.End().AddDate(0, 0, 1))
}

// ListPullRequests returns the pull requests of repo created within iv.
func (s *Store) ListPullRequests(ctx context.Context, repo string, iv domain.Interval) ([]domain.PullRequest, error) {
	from, to := windowBounds(iv)
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository, number, title, author, state, created_at, merged_at, closed_at, additions, deletions
		FROM pull_requests
		WHERE repository = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, number
	`, repo, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []domain.PullRequest
	for rows.Next() {
		var pr domain.PullRequest
		var created string
		var merged, closed sql.NullString
		if err := rows.Scan(&pr.Repository, &pr.Number, &pr.Title, &pr.Author, &pr.State,
			&created, &merged, &closed, &pr.Additions, &pr.Deletions); err != nil {
			return nil, fmt.Errorf("failed to scan pull request: %w", err)
		}
		if pr.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if pr.MergedAt, err = parseNullTime(merged); err != nil {
			return nil, fmt.Errorf("failed to parse merged_at: %w", err)
		}
		if pr.ClosedAt, err = parseNullTime(closed); err != nil {
			return nil, fmt.Errorf("failed to parse closed_at: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

// ListReviews returns the reviews of repo submitted within iv.
func (s *Store) ListReviews(ctx context.Context, repo string, iv domain.Interval) ([]domain.Review, error) {
	from, to := windowBounds(iv)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository, pull_number, author, state, submitted_at
		FROM reviews
		WHERE repository = ? AND submitted_at >= ? AND submitted_at < ?
		ORDER BY submitted_at, id
	`, repo, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var r domain.Review
		var submitted string
		if err := rows.Scan(&r.ID, &r.Repository, &r.PullNumber, &r.Author, &r.State, &submitted); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		if r.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, fmt.Errorf("failed to parse submitted_at: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// ListComments returns the pull request comments of repo created within iv.
func (s *Store) ListComments(ctx context.Context, repo string, iv domain.Interval) ([]domain.Comment, error) {
	from, to := windowBounds(iv)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository, pull_number, author, created_at
		FROM comments
		WHERE repository = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id
	`, repo, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var created string
		if err := rows.Scan(&c.ID, &c.Repository, &c.PullNumber, &c.Author, &created); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
