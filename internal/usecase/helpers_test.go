package usecase

import (
	"context"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/gateway"
	"github.com/naka-gawa/prstats/internal/storage/memory"
)

var discard = log.New(io.Discard, "", 0)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// Every expectation returns a fresh scripted pager.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPullRequests(repo string, iv domain.Interval) *gateway.Pager[domain.PullRequest] {
	args := m.Called(repo, iv)
	return args.Get(0).(*gateway.Pager[domain.PullRequest])
}

func (m *mockFetcher) FetchReviews(repo string, iv domain.Interval) *gateway.Pager[domain.Review] {
	args := m.Called(repo, iv)
	return args.Get(0).(*gateway.Pager[domain.Review])
}

func (m *mockFetcher) FetchComments(repo string, iv domain.Interval) *gateway.Pager[domain.Comment] {
	args := m.Called(repo, iv)
	return args.Get(0).(*gateway.Pager[domain.Comment])
}

// step is one scripted response of a pager: a page of items or an error.
type step[T any] struct {
	items []T
	err   error
}

// scriptedPager serves steps in order. The last step must succeed.
func scriptedPager[T any](steps ...step[T]) *gateway.Pager[T] {
	i := 0
	return gateway.NewPager(func(ctx context.Context, cursor string) (gateway.Page[T], error) {
		if err := ctx.Err(); err != nil {
			return gateway.Page[T]{}, err
		}
		s := steps[i]
		i++
		if s.err != nil {
			return gateway.Page[T]{}, s.err
		}
		next := ""
		if i < len(steps) {
			next = strconv.Itoa(i)
		}
		return gateway.Page[T]{Items: s.items, Next: next}, nil
	})
}

func sameInterval(want domain.Interval) interface{} {
	return mock.MatchedBy(func(iv domain.Interval) bool { return iv.Equal(want) })
}

// expectGap registers a successful fetch of iv returning prs and nothing else.
func expectGap(f *mockFetcher, repo string, iv domain.Interval, prs ...domain.PullRequest) {
	f.On("FetchPullRequests", repo, sameInterval(iv)).Return(scriptedPager(step[domain.PullRequest]{items: prs})).Once()
	f.On("FetchReviews", repo, sameInterval(iv)).Return(scriptedPager(step[domain.Review]{})).Once()
	f.On("FetchComments", repo, sameInterval(iv)).Return(scriptedPager(step[domain.Comment]{})).Once()
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// fastRetry keeps retry waits in the millisecond range.
var fastRetry = RetryPolicy{
	MaxRateLimitAttempts: 3,
	MaxTransientAttempts: 3,
	InitialInterval:      time.Millisecond,
	MaxInterval:          2 * time.Millisecond,
}

// june2025 is well past every January test window.
var june2025 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(f *mockFetcher, store *memory.Store) *Orchestrator {
	return NewOrchestrator(f, store, store, OrchestratorOptions{Retry: fastRetry, Now: fixedClock(june2025)}, discard)
}

// seedLedger stores intervals as the committed coverage of repo.
func seedLedger(store *memory.Store, repo string, intervals ...domain.Interval) {
	l := domain.NewLedger(repo)
	for _, iv := range intervals {
		l.Insert(iv)
	}
	if _, err := store.SaveLedger(context.Background(), l); err != nil {
		panic(err)
	}
}

// failingEntityStore rejects every write.
type failingEntityStore struct {
	err error
}

func (s failingEntityStore) UpsertBatch(context.Context, domain.Batch) (int, error) {
	return 0, s.err
}

// racingCoverageStore lets another writer commit interfering coverage right
// before the first save of this process.
type racingCoverageStore struct {
	*memory.Store
	once      sync.Once
	intruding domain.Interval
}

func (s *racingCoverageStore) SaveLedger(ctx context.Context, l *domain.Ledger) (*domain.Ledger, error) {
	s.once.Do(func() {
		other, err := s.Store.LoadLedger(ctx, l.Repository())
		if err != nil {
			panic(err)
		}
		other.Insert(s.intruding)
		if _, err := s.Store.SaveLedger(ctx, other); err != nil {
			panic(err)
		}
	})
	return s.Store.SaveLedger(ctx, l)
}

// cancelingEntityStore cancels the run from inside the first write, as an
// interrupt arriving mid-persist would.
type cancelingEntityStore struct {
	*memory.Store
	cancel context.CancelFunc
	once   sync.Once
	// writeErr is the state of the write context right after cancelling.
	writeErr error
}

func (s *cancelingEntityStore) UpsertBatch(ctx context.Context, b domain.Batch) (int, error) {
	s.once.Do(func() {
		s.cancel()
		s.writeErr = ctx.Err()
	})
	return s.Store.UpsertBatch(ctx, b)
}

// overSearchLimit is a pull request listing too large for one search.
func overSearchLimit() *gateway.Pager[domain.PullRequest] {
	return scriptedPager(step[domain.PullRequest]{err: &domain.SearchLimitError{Query: "repo:org/repo is:pr", Matches: 1500, Limit: 1000}})
}
