package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/gateway"
	"github.com/naka-gawa/prstats/internal/metrics"
)

const (
	defaultConcurrency    = 4
	defaultCommitAttempts = 3
)

// OrchestratorOptions tunes a sync run. Zero values fall back to defaults.
type OrchestratorOptions struct {
	// Concurrency is the number of repositories synced at once.
	Concurrency int
	// CommitAttempts bounds the reload-and-retry loop when a ledger save
	// loses a version race against another writer.
	CommitAttempts int
	Retry          RetryPolicy
	Recorder       metrics.Recorder
	// Now is the clock behind run timestamps and the completeness horizon.
	Now func() time.Time
}

// Orchestrator runs the fetch, persist and commit cycle for every gap of
// every repository in a sync request.
type Orchestrator struct {
	fetcher        gateway.Fetcher
	entities       EntityStore
	coverage       CoverageStore
	planner        *Planner
	retry          RetryPolicy
	concurrency    int
	commitAttempts int
	recorder       metrics.Recorder
	now            func() time.Time
	locks          *repoLocks
	logger         *log.Logger
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(fetcher gateway.Fetcher, entities EntityStore, coverage CoverageStore, opts OrchestratorOptions, logger *log.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.CommitAttempts <= 0 {
		opts.CommitAttempts = defaultCommitAttempts
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		fetcher:        fetcher,
		entities:       entities,
		coverage:       coverage,
		planner:        NewPlanner(coverage, logger),
		retry:          opts.Retry.withDefaults(),
		concurrency:    opts.Concurrency,
		commitAttempts: opts.CommitAttempts,
		recorder:       opts.Recorder,
		now:            opts.Now,
		locks:          newRepoLocks(),
		logger:         logger,
	}
}

// RequestSync brings requested up to date for every repository. Gap failures
// do not abort the run; they are reported per repository in the result.
// An error is returned only for invalid input or when ctx is cancelled, and
// in the latter case the partial result is returned alongside it.
func (o *Orchestrator) RequestSync(ctx context.Context, repos []string, requested domain.Interval) (*domain.SyncRunResult, error) {
	if requested.IsZero() {
		return nil, fmt.Errorf("requested interval is empty: %w", domain.ErrInvalidInterval)
	}
	repos, err := domain.NormalizeRepositories(repos)
	if err != nil {
		return nil, err
	}

	result := &domain.SyncRunResult{
		RunID:        uuid.NewString(),
		Requested:    requested,
		StartedAt:    o.now().UTC(),
		Repositories: make(map[string]domain.RepoSyncResult, len(repos)),
	}
	o.logger.Printf("Usecase: Starting sync run %s for %d repositories over %s", result.RunID, len(repos), requested)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, repo := range repos {
		g.Go(func() error {
			res := o.syncRepository(ctx, repo, requested)
			mu.Lock()
			result.Repositories[repo] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	result.FinishedAt = o.now().UTC()
	o.recorder.ObserveRunDuration(result.FinishedAt.Sub(result.StartedAt))
	o.logger.Printf("Usecase: Sync run %s finished: %d gap(s) committed, %d failed",
		result.RunID, result.CommittedCount(), result.FailedCount())

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("sync run %s interrupted: %w", result.RunID, err)
	}
	return result, nil
}

// pendingGap is a gap scheduled for this run. Provisional gaps lie after the
// last complete day: they are fetched and persisted but never committed.
type pendingGap struct {
	interval    domain.Interval
	provisional bool
}

// syncRepository owns the repository's ledger for the whole run.
func (o *Orchestrator) syncRepository(ctx context.Context, repo string, requested domain.Interval) domain.RepoSyncResult {
	unlock := o.locks.lock(repo)
	defer unlock()

	res := domain.RepoSyncResult{Committed: []domain.Interval{}, Failed: []domain.GapFailure{}}

	// Planning happens under the lock so a run queued behind another one
	// sees what that run committed.
	plan, ledger, err := o.planner.planRepository(ctx, repo, requested)
	if err != nil {
		// Which days are missing is unknown, so no gap is reported.
		o.logger.Printf("Usecase: %s not synced: %v", repo, err)
		return domain.NewRepoError(err)
	}
	if len(plan.Gaps) == 0 {
		o.logger.Printf("Usecase: %s already covers %s, nothing to fetch", repo, requested)
		return res
	}

	var fatal error
	queue := o.splitAtHorizon(plan.Gaps)
	for len(queue) > 0 {
		pg := queue[0]
		queue = queue[1:]
		run := o.startGap(repo, pg.interval)
		switch {
		case fatal != nil:
			err = fmt.Errorf("skipped: %w", fatal)
		case ctx.Err() != nil:
			err = ctx.Err()
		default:
			var n int
			ledger, n, err = o.runGap(ctx, run, ledger, pg)
			res.Entities += n
		}

		// A gap too busy for one search is retried as two halves, down to
		// single days.
		if err != nil && domain.IsSearchLimit(err) {
			if first, second, ok := pg.interval.Halve(); ok {
				o.logger.Printf("Usecase: %s %s over the search limit, splitting into %s and %s", repo, pg.interval, first, second)
				queue = append([]pendingGap{
					{interval: first, provisional: pg.provisional},
					{interval: second, provisional: pg.provisional},
				}, queue...)
				continue
			}
		}

		if err != nil {
			run.to(domain.GapFailed)
			o.logger.Printf("Usecase: %s %s failed: %v", repo, pg.interval, err)
			res.Failed = append(res.Failed, domain.NewGapFailure(pg.interval, err))
			if fatal == nil && domain.IsRepositoryFatal(err) {
				fatal = err
			}
			continue
		}
		if pg.provisional {
			res.Provisional = append(res.Provisional, pg.interval)
		} else {
			res.Committed = append(res.Committed, pg.interval)
		}
	}
	return res
}

// runGap drives one gap from pending to committed (or provisional). It
// returns the ledger to plan further commits against and the number of
// entities persisted. On error the returned ledger is the one passed in.
func (o *Orchestrator) runGap(ctx context.Context, run *gapRun, ledger *domain.Ledger, pg pendingGap) (*domain.Ledger, int, error) {
	run.to(domain.GapFetching)
	batch, err := o.fetchGap(ctx, run.repo, pg.interval)
	if err != nil {
		return ledger, 0, err
	}

	// A gap that reached persisting completes even if the run is cancelled,
	// so the ledger never lags behind what was written.
	ctx = context.WithoutCancel(ctx)
	run.to(domain.GapPersisting)
	n, err := o.entities.UpsertBatch(ctx, batch)
	if err != nil {
		return ledger, 0, &domain.PersistenceError{Op: "upsert entities", Err: err}
	}

	if pg.provisional {
		run.to(domain.GapProvisional)
		return ledger, n, nil
	}

	saved, err := o.commit(ctx, ledger, pg.interval)
	if err != nil {
		return ledger, n, err
	}
	run.to(domain.GapCommitted)
	return saved, n, nil
}

// commit inserts gap into the ledger and saves it. When another writer got
// there first, the ledger is reloaded and the insert replayed on top of it.
func (o *Orchestrator) commit(ctx context.Context, ledger *domain.Ledger, gap domain.Interval) (*domain.Ledger, error) {
	candidate := ledger.Clone()
	candidate.Insert(gap)

	for attempt := 1; ; attempt++ {
		saved, err := o.coverage.SaveLedger(ctx, candidate)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= o.commitAttempts {
			return nil, &domain.PersistenceError{Op: "save coverage ledger", Err: err}
		}

		o.recorder.IncCommitConflict(ledger.Repository())
		o.logger.Printf("Usecase: %s ledger changed since load (attempt %d/%d), reloading",
			ledger.Repository(), attempt, o.commitAttempts)
		current, err := o.coverage.LoadLedger(ctx, ledger.Repository())
		if err != nil {
			return nil, &domain.PersistenceError{Op: "reload coverage ledger", Err: err}
		}
		candidate = current
		candidate.Insert(gap)
	}
}

// fetchGap drains the three listings of a gap. Nothing is persisted unless
// all of them complete.
func (o *Orchestrator) fetchGap(ctx context.Context, repo string, gap domain.Interval) (domain.Batch, error) {
	var b domain.Batch
	var err error
	if b.PullRequests, err = drain(ctx, o, repo, "pull_requests", o.fetcher.FetchPullRequests(repo, gap)); err != nil {
		return domain.Batch{}, err
	}
	if b.Reviews, err = drain(ctx, o, repo, "reviews", o.fetcher.FetchReviews(repo, gap)); err != nil {
		return domain.Batch{}, err
	}
	if b.Comments, err = drain(ctx, o, repo, "comments", o.fetcher.FetchComments(repo, gap)); err != nil {
		return domain.Batch{}, err
	}
	return b, nil
}

func drain[T any](ctx context.Context, o *Orchestrator, repo, kind string, p *gateway.Pager[T]) ([]T, error) {
	notify := func(err error, wait time.Duration) {
		reason := retryReason(err)
		o.recorder.IncPageRetry(repo, kind, reason)
		o.logger.Printf("Usecase: %s %s page %d %s, retrying in %s: %v", repo, kind, p.Pages()+1, reason, wait, err)
	}

	var all []T
	for !p.Done() {
		items, err := nextPage(ctx, o.retry, p, notify)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", kind, err)
		}
		all = append(all, items...)
	}
	o.recorder.AddEntitiesFetched(repo, kind, len(all))
	return all, nil
}

// splitAtHorizon cuts every gap at the last complete UTC day. Today is still
// receiving activity, so claiming it as covered would hide later changes.
func (o *Orchestrator) splitAtHorizon(gaps []domain.Interval) []pendingGap {
	lastComplete := domain.Day(o.now().UTC()).AddDate(0, 0, -1)

	out := make([]pendingGap, 0, len(gaps))
	for _, gap := range gaps {
		switch {
		case !gap.End().After(lastComplete):
			out = append(out, pendingGap{interval: gap})
		case gap.Start().After(lastComplete):
			out = append(out, pendingGap{interval: gap, provisional: true})
		default:
			head, _ := domain.NewInterval(gap.Start(), lastComplete)
			tail, _ := domain.NewInterval(lastComplete.AddDate(0, 0, 1), gap.End())
			out = append(out, pendingGap{interval: head}, pendingGap{interval: tail, provisional: true})
		}
	}
	return out
}

// gapRun tracks the state of one (repository, gap) pair.
type gapRun struct {
	o        *Orchestrator
	repo     string
	interval domain.Interval
	state    domain.GapState
	started  time.Time
}

func (o *Orchestrator) startGap(repo string, iv domain.Interval) *gapRun {
	o.recorder.IncGapTransition(repo, domain.GapPending.String())
	return &gapRun{o: o, repo: repo, interval: iv, state: domain.GapPending, started: time.Now()}
}

func (r *gapRun) to(next domain.GapState) {
	if !r.state.CanTransition(next) {
		r.o.logger.Printf("Usecase: %s %s: ignoring transition %s -> %s", r.repo, r.interval, r.state, next)
		return
	}
	r.state = next
	r.o.recorder.IncGapTransition(r.repo, next.String())
	r.o.logger.Printf("Usecase: %s %s: %s", r.repo, r.interval, next)

	switch next {
	case domain.GapCommitted, domain.GapFailed, domain.GapProvisional:
		r.o.recorder.ObserveGapDuration(r.repo, next.String(), time.Since(r.started))
	}
}
