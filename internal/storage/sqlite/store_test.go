package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/prstats/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ptr[T any](v T) *T { return &v }

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stats.db")

	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(path)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
	assert.Equal(t, path, second.Path())
}

func TestStore_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	empty, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Version())
	assert.Equal(t, 0, empty.Len())

	empty.Insert(domain.MustInterval("2025-01-01", "2025-01-10"))
	empty.Insert(domain.MustInterval("2025-01-20", "2025-01-31"))
	saved, err := store.SaveLedger(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version())

	loaded, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version())
	assert.Equal(t, saved.Intervals(), loaded.Intervals())

	loaded.Insert(domain.MustInterval("2025-01-11", "2025-01-19"))
	saved, err = store.SaveLedger(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version())

	reloaded, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	assert.Equal(t, []domain.Interval{domain.MustInterval("2025-01-01", "2025-01-31")}, reloaded.Intervals())
}

func TestStore_SaveLedgerVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	testCases := []struct {
		name  string
		setup func(t *testing.T) (*domain.Ledger, *domain.Ledger)
	}{
		{
			name: "two writers create the same row",
			setup: func(t *testing.T) (*domain.Ledger, *domain.Ledger) {
				return domain.NewLedger("org/new"), domain.NewLedger("org/new")
			},
		},
		{
			name: "two writers update from the same version",
			setup: func(t *testing.T) (*domain.Ledger, *domain.Ledger) {
				_, err := store.SaveLedger(ctx, domain.NewLedger("org/existing"))
				require.NoError(t, err)
				a, err := store.LoadLedger(ctx, "org/existing")
				require.NoError(t, err)
				b, err := store.LoadLedger(ctx, "org/existing")
				require.NoError(t, err)
				return a, b
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := tc.setup(t)
			a.Insert(domain.MustInterval("2025-01-01", "2025-01-05"))
			b.Insert(domain.MustInterval("2025-02-01", "2025-02-05"))

			_, err := store.SaveLedger(ctx, a)
			require.NoError(t, err)
			_, err = store.SaveLedger(ctx, b)
			assert.ErrorIs(t, err, domain.ErrVersionConflict)

			stored, err := store.LoadLedger(ctx, a.Repository())
			require.NoError(t, err)
			assert.Equal(t, a.Intervals(), stored.Intervals())
		})
	}
}

func TestStore_ConcurrentSavesNeverLoseCoverage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	days := []string{"2025-03-01", "2025-03-03", "2025-03-05", "2025-03-07", "2025-03-09", "2025-03-11"}
	var wg sync.WaitGroup
	for _, day := range days {
		wg.Add(1)
		go func() {
			defer wg.Done()
			iv := domain.MustInterval(day, day)
			for {
				ledger, err := store.LoadLedger(ctx, "org/repo")
				if !assert.NoError(t, err) {
					return
				}
				ledger.Insert(iv)
				_, err = store.SaveLedger(ctx, ledger)
				if err == nil {
					return
				}
				if !assert.ErrorIs(t, err, domain.ErrVersionConflict) {
					return
				}
			}
		}()
	}
	wg.Wait()

	ledger, err := store.LoadLedger(ctx, "org/repo")
	require.NoError(t, err)
	assert.Equal(t, len(days), ledger.Len())
	assert.Equal(t, int64(len(days)), ledger.Version())
}

func TestStore_ListLedgers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, repo := range []string{"org/b", "org/a"} {
		l := domain.NewLedger(repo)
		l.Insert(domain.MustInterval("2025-01-01", "2025-01-02"))
		_, err := store.SaveLedger(ctx, l)
		require.NoError(t, err)
	}

	ledgers, err := store.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 2)
	assert.Equal(t, "org/a", ledgers[0].Repository())
	assert.Equal(t, "org/b", ledgers[1].Repository())
}

func TestStore_UpsertBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2025, 1, 5, 9, 30, 0, 0, time.UTC)
	merged := created.Add(26 * time.Hour)
	batch := domain.Batch{
		PullRequests: []domain.PullRequest{
			{Repository: "org/repo", Number: 1, Title: "first", Author: "alice", State: "MERGED", CreatedAt: created, MergedAt: ptr(merged), ClosedAt: ptr(merged), Additions: 10, Deletions: 2},
			{Repository: "org/repo", Number: 2, Title: "second", Author: "bob", State: "OPEN", CreatedAt: created.Add(time.Hour)},
			{Repository: "org/repo", Number: 3, Title: "out of window", Author: "bob", State: "OPEN", CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
		Reviews: []domain.Review{
			{ID: "PRR_1", Repository: "org/repo", PullNumber: 1, Author: "carol", State: "APPROVED", SubmittedAt: created.Add(2 * time.Hour)},
		},
		Comments: []domain.Comment{
			{ID: 100, Repository: "org/repo", PullNumber: 1, Author: "carol", CreatedAt: created.Add(time.Hour)},
			{ID: 101, Repository: "org/other", PullNumber: 1, Author: "dave", CreatedAt: created},
		},
	}

	n, err := store.UpsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	batch.PullRequests[1].State = "CLOSED"
	_, err = store.UpsertBatch(ctx, batch)
	require.NoError(t, err)

	jan := domain.MustInterval("2025-01-01", "2025-01-31")
	prs, err := store.ListPullRequests(ctx, "org/repo", jan)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 1, prs[0].Number)
	require.NotNil(t, prs[0].MergedAt)
	assert.True(t, merged.Equal(*prs[0].MergedAt))
	assert.Nil(t, prs[1].MergedAt)
	assert.Equal(t, "CLOSED", prs[1].State)

	reviews, err := store.ListReviews(ctx, "org/repo", jan)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "carol", reviews[0].Author)

	comments, err := store.ListComments(ctx, "org/repo", jan)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(100), comments[0].ID)
}

func TestStore_ListPullRequestsIncludesLastDay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	lastMinute := time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC)
	nextDay := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.UpsertBatch(ctx, domain.Batch{PullRequests: []domain.PullRequest{
		{Repository: "org/repo", Number: 1, Author: "a", State: "OPEN", CreatedAt: lastMinute},
		{Repository: "org/repo", Number: 2, Author: "a", State: "OPEN", CreatedAt: nextDay},
	}})
	require.NoError(t, err)

	prs, err := store.ListPullRequests(ctx, "org/repo", domain.MustInterval("2025-01-31", "2025-01-31"))
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, 1, prs[0].Number)
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	older := &domain.SyncRunResult{
		RunID:      "run-1",
		Requested:  domain.MustInterval("2025-01-01", "2025-01-31"),
		StartedAt:  time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 2, 1, 8, 1, 0, 0, time.UTC),
		Repositories: map[string]domain.RepoSyncResult{
			"org/a": {Committed: []domain.Interval{domain.MustInterval("2025-01-01", "2025-01-31")}},
		},
	}
	newer := &domain.SyncRunResult{
		RunID:      "run-2",
		Requested:  domain.MustInterval("2025-02-01", "2025-02-28"),
		StartedAt:  time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 1, 8, 1, 0, 0, time.UTC),
		Repositories: map[string]domain.RepoSyncResult{
			"org/a": {Committed: []domain.Interval{domain.MustInterval("2025-02-01", "2025-02-28")}},
			"org/b": {Failed: []domain.GapFailure{{Interval: domain.MustInterval("2025-02-01", "2025-02-28"), Message: "boom"}}},
			"org/c": domain.NewRepoError(errors.New("failed to load coverage ledger for org/c: database is locked")),
		},
	}
	require.NoError(t, store.RecordRun(ctx, older))
	require.NoError(t, store.RecordRun(ctx, newer))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.Summary(), runs[0])
	assert.Equal(t, older.Summary(), runs[1])

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, 1, runs[0].Errored)
	assert.Equal(t, 3, runs[0].Repositories)
}
