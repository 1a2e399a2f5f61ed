package usecase

import (
	"context"
	"fmt"
	"log"

	"github.com/naka-gawa/prstats/internal/domain"
)

// Validator checks, before a report is built, that the requested interval
// has been synced for every repository in scope.
type Validator struct {
	coverage CoverageStore
	logger   *log.Logger
}

// NewValidator creates a new Validator instance.
func NewValidator(coverage CoverageStore, logger *log.Logger) *Validator {
	return &Validator{coverage: coverage, logger: logger}
}

// Validate returns one CoverageReport per repository, in input order.
// Missing ranges are not an error; callers decide whether to warn or stop.
func (v *Validator) Validate(ctx context.Context, repos []string, requested domain.Interval) ([]domain.CoverageReport, error) {
	if requested.IsZero() {
		return nil, fmt.Errorf("requested interval is empty: %w", domain.ErrInvalidInterval)
	}
	repos, err := domain.NormalizeRepositories(repos)
	if err != nil {
		return nil, err
	}

	reports := make([]domain.CoverageReport, 0, len(repos))
	for _, repo := range repos {
		ledger, err := v.coverage.LoadLedger(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("failed to load coverage ledger for %s: %w", repo, err)
		}
		missing := ledger.GapsWithin(requested)
		if len(missing) > 0 {
			v.logger.Printf("Validator: %s is missing %d range(s) within %s", repo, len(missing), requested)
		}
		reports = append(reports, domain.CoverageReport{
			Repository:   repo,
			Requested:    requested,
			FullyCovered: len(missing) == 0,
			Missing:      missing,
		})
	}
	return reports, nil
}
