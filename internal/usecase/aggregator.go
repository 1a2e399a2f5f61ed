// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/prstats/internal/domain"
)

// Aggregator is the use case for computing activity metrics over synced data.
// It never talks to GitHub: coverage is validated first and every repository
// with missing ranges is flagged in the report.
type Aggregator struct {
	reader    ActivityReader
	validator *Validator
	logger    *log.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(reader ActivityReader, validator *Validator, logger *log.Logger) *Aggregator {
	return &Aggregator{
		reader:    reader,
		validator: validator,
		logger:    logger,
	}
}

// Aggregate computes one RepoStats per repository over window.
// The report is produced even when coverage is incomplete; its Warnings
// list the missing ranges.
func (a *Aggregator) Aggregate(ctx context.Context, repos []string, window domain.Interval) (*domain.Report, error) {
	a.logger.Println("Usecase: Starting data aggregation...")

	coverage, err := a.validator.Validate(ctx, repos, window)
	if err != nil {
		return nil, err
	}
	warnings := domain.CoverageWarnings(coverage)
	for _, w := range warnings {
		a.logger.Printf("Usecase: WARNING %s", w)
	}

	// Use an errgroup to read every repository concurrently.
	var mu sync.Mutex
	statsMap := make(map[string]*domain.RepoStats, len(coverage))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, c := range coverage {
		repo := c.Repository
		eg.Go(func() error {
			s, err := a.aggregateRepository(egCtx, repo, window)
			if err != nil {
				return fmt.Errorf("failed to aggregate %s: %w", repo, err)
			}
			mu.Lock()
			statsMap[repo] = s
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Convert the map to a slice and sort it by repository name for consistent output.
	sortedStats := make([]*domain.RepoStats, 0, len(statsMap))
	for _, repoStat := range statsMap {
		sortedStats = append(sortedStats, repoStat)
	}
	sort.Slice(sortedStats, func(i, j int) bool {
		return sortedStats[i].Name < sortedStats[j].Name
	})

	a.logger.Println("Usecase: Aggregation complete.")
	return &domain.Report{
		Window:   window,
		Stats:    sortedStats,
		Coverage: coverage,
		Warnings: warnings,
	}, nil
}

func (a *Aggregator) aggregateRepository(ctx context.Context, repo string, window domain.Interval) (*domain.RepoStats, error) {
	prs, err := a.reader.ListPullRequests(ctx, repo, window)
	if err != nil {
		return nil, err
	}
	reviews, err := a.reader.ListReviews(ctx, repo, window)
	if err != nil {
		return nil, err
	}
	comments, err := a.reader.ListComments(ctx, repo, window)
	if err != nil {
		return nil, err
	}

	s := &domain.RepoStats{
		Name:      repo,
		OpenedPRs: len(prs),
		Reviews:   len(reviews),
		Comments:  len(comments),
	}

	// First review per pull request, ignoring the author reviewing their own PR.
	authors := make(map[int]string, len(prs))
	for _, pr := range prs {
		authors[pr.Number] = pr.Author
	}
	firstReview := make(map[int]time.Time)
	for _, r := range reviews {
		if r.Author == authors[r.PullNumber] {
			continue
		}
		if t, ok := firstReview[r.PullNumber]; !ok || r.SubmittedAt.Before(t) {
			firstReview[r.PullNumber] = r.SubmittedAt
		}
	}

	var toMerge, toFirstReview stats.Float64Data
	for _, pr := range prs {
		if pr.MergedAt != nil {
			s.MergedPRs++
			toMerge = append(toMerge, pr.MergedAt.Sub(pr.CreatedAt).Hours())
		}
		if t, ok := firstReview[pr.Number]; ok && t.After(pr.CreatedAt) {
			toFirstReview = append(toFirstReview, t.Sub(pr.CreatedAt).Hours())
		}
	}
	if s.MedianHoursToMerge, err = median(toMerge); err != nil {
		return nil, err
	}
	if s.MedianHoursToFirstReview, err = median(toFirstReview); err != nil {
		return nil, err
	}
	return s, nil
}

// median is stats.Median with an empty sample reported as zero.
func median(data stats.Float64Data) (float64, error) {
	m, err := stats.Median(data)
	if errors.Is(err, stats.EmptyInputErr) {
		return 0, nil
	}
	return m, err
}
