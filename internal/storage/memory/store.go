// Package memory is an in-process implementation of the coverage, entity
// and run stores. It backs dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/naka-gawa/prstats/internal/domain"
)

type prKey struct {
	repo   string
	number int
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	ledgers      map[string]*domain.Ledger
	pullRequests map[prKey]domain.PullRequest
	reviews      map[string]domain.Review
	comments     map[int64]domain.Comment
	runs         []domain.RunSummary
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		ledgers:      make(map[string]*domain.Ledger),
		pullRequests: make(map[prKey]domain.PullRequest),
		reviews:      make(map[string]domain.Review),
		comments:     make(map[int64]domain.Comment),
	}
}

// LoadLedger returns a copy of the stored ledger, or an empty one.
func (s *Store) LoadLedger(ctx context.Context, repo string) (*domain.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.ledgers[repo]; ok {
		return l.Clone(), nil
	}
	return domain.NewLedger(repo), nil
}

// SaveLedger stores ledger if its version still matches the stored one.
func (s *Store) SaveLedger(ctx context.Context, ledger *domain.Ledger) (*domain.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if l, ok := s.ledgers[ledger.Repository()]; ok {
		current = l.Version()
	}
	if current != ledger.Version() {
		return nil, fmt.Errorf("%s at version %d: %w", ledger.Repository(), ledger.Version(), domain.ErrVersionConflict)
	}
	saved := ledger.WithVersion(current + 1)
	s.ledgers[ledger.Repository()] = saved
	return saved.Clone(), nil
}

// ListLedgers returns copies of every ledger ordered by repository.
func (s *Store) ListLedgers(ctx context.Context) ([]*domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledgers := make([]*domain.Ledger, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		ledgers = append(ledgers, l.Clone())
	}
	sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].Repository() < ledgers[j].Repository() })
	return ledgers, nil
}

// UpsertBatch stores every entity of b, replacing rows with the same key.
func (s *Store) UpsertBatch(ctx context.Context, b domain.Batch) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pr := range b.PullRequests {
		s.pullRequests[prKey{pr.Repository, pr.Number}] = pr
	}
	for _, r := range b.Reviews {
		s.reviews[r.ID] = r
	}
	for _, c := range b.Comments {
		s.comments[c.ID] = c
	}
	return b.Size(), nil
}

// ListPullRequests returns the pull requests of repo created within iv.
func (s *Store) ListPullRequests(ctx context.Context, repo string, iv domain.Interval) ([]domain.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PullRequest
	for _, pr := range s.pullRequests {
		if pr.Repository == repo && iv.Contains(pr.CreatedAt) {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ListReviews returns the reviews of repo submitted within iv.
func (s *Store) ListReviews(ctx context.Context, repo string, iv domain.Interval) ([]domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Review
	for _, r := range s.reviews {
		if r.Repository == repo && iv.Contains(r.SubmittedAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListComments returns the comments of repo created within iv.
func (s *Store) ListComments(ctx context.Context, repo string, iv domain.Interval) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Comment
	for _, c := range s.comments {
		if c.Repository == repo && iv.Contains(c.CreatedAt) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordRun appends a run summary.
func (s *Store) RecordRun(ctx context.Context, run *domain.SyncRunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run.Summary())
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RunSummary, len(s.runs))
	copy(out, s.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EntityCount returns the number of stored entities of every kind.
func (s *Store) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pullRequests) + len(s.reviews) + len(s.comments)
}
