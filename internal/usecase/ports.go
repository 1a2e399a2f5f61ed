package usecase

import (
	"context"

	"github.com/naka-gawa/prstats/internal/domain"
)

// CoverageStore loads and saves coverage ledgers. SaveLedger must reject a
// ledger whose version no longer matches the stored row with
// domain.ErrVersionConflict, and return the ledger at its new version.
type CoverageStore interface {
	LoadLedger(ctx context.Context, repo string) (*domain.Ledger, error)
	SaveLedger(ctx context.Context, ledger *domain.Ledger) (*domain.Ledger, error)
}

// EntityStore upserts fetched entities by their natural identifiers and
// returns the number written.
type EntityStore interface {
	UpsertBatch(ctx context.Context, b domain.Batch) (int, error)
}

// ActivityReader reads persisted entities back for aggregation.
type ActivityReader interface {
	ListPullRequests(ctx context.Context, repo string, iv domain.Interval) ([]domain.PullRequest, error)
	ListReviews(ctx context.Context, repo string, iv domain.Interval) ([]domain.Review, error)
	ListComments(ctx context.Context, repo string, iv domain.Interval) ([]domain.Comment, error)
}
