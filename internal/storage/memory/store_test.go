package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/prstats/internal/domain"
)

func TestStore_LedgerVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	a, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	b, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)

	a.Insert(domain.MustInterval("2025-01-01", "2025-01-10"))
	saved, err := store.SaveLedger(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version())

	b.Insert(domain.MustInterval("2025-01-11", "2025-01-20"))
	_, err = store.SaveLedger(ctx, b)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// Mutating a loaded copy must not leak into the store.
	loaded, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	loaded.Insert(domain.MustInterval("2025-03-01", "2025-03-01"))
	again, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	assert.Equal(t, []domain.Interval{domain.MustInterval("2025-01-01", "2025-01-10")}, again.Intervals())
}

func TestStore_Entities(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	day := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	batch := domain.Batch{
		PullRequests: []domain.PullRequest{
			{Repository: "org/repo", Number: 2, CreatedAt: day},
			{Repository: "org/repo", Number: 1, CreatedAt: day},
			{Repository: "org/repo", Number: 3, CreatedAt: day.AddDate(0, 1, 0)},
		},
		Reviews:  []domain.Review{{ID: "r1", Repository: "org/repo", SubmittedAt: day}},
		Comments: []domain.Comment{{ID: 1, Repository: "org/repo", CreatedAt: day}},
	}
	for range 2 {
		n, err := store.UpsertBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}
	assert.Equal(t, 5, store.EntityCount())

	jan := domain.MustInterval("2025-01-01", "2025-01-31")
	prs, err := store.ListPullRequests(ctx, "org/repo", jan)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 1, prs[0].Number)

	reviews, err := store.ListReviews(ctx, "org/repo", jan)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)

	comments, err := store.ListComments(ctx, "org/other", jan)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewStore()

	_, err := store.LoadLedger(ctx, "org/repo")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.UpsertBatch(ctx, domain.Batch{})
	assert.ErrorIs(t, err, context.Canceled)
}
