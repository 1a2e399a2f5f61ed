package usecase

import (
	"context"
	"fmt"
	"log"

	"github.com/naka-gawa/prstats/internal/domain"
)

// Planner computes which parts of a requested interval each repository is
// still missing. It reads the coverage store and never touches the network,
// so it is safe to run as often as needed.
type Planner struct {
	coverage CoverageStore
	logger   *log.Logger
}

// NewPlanner creates a new Planner instance.
func NewPlanner(coverage CoverageStore, logger *log.Logger) *Planner {
	return &Planner{coverage: coverage, logger: logger}
}

// Plan returns one SyncPlan per repository, in input order. Repositories
// that are already covered are included with an empty gap list.
func (p *Planner) Plan(ctx context.Context, repos []string, requested domain.Interval) ([]domain.SyncPlan, error) {
	if requested.IsZero() {
		return nil, fmt.Errorf("requested interval is empty: %w", domain.ErrInvalidInterval)
	}
	repos, err := domain.NormalizeRepositories(repos)
	if err != nil {
		return nil, err
	}

	plans := make([]domain.SyncPlan, 0, len(repos))
	for _, repo := range repos {
		plan, _, err := p.planRepository(ctx, repo, requested)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// planRepository also returns the ledger the plan was computed from, so the
// orchestrator commits against the same version it planned with.
func (p *Planner) planRepository(ctx context.Context, repo string, requested domain.Interval) (domain.SyncPlan, *domain.Ledger, error) {
	ledger, err := p.coverage.LoadLedger(ctx, repo)
	if err != nil {
		return domain.SyncPlan{}, nil, fmt.Errorf("failed to load coverage ledger for %s: %w", repo, err)
	}
	gaps := ledger.GapsWithin(requested)
	p.logger.Printf("Planner: %s has %d gap(s) within %s", repo, len(gaps), requested)
	return domain.SyncPlan{Repository: repo, Requested: requested, Gaps: gaps}, ledger, nil
}
