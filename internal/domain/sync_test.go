package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGapState_CanTransition(t *testing.T) {
	allowed := map[GapState][]GapState{
		GapPending:    {GapFetching, GapFailed},
		GapFetching:   {GapPersisting, GapFailed},
		GapPersisting: {GapCommitted, GapFailed, GapProvisional},
	}
	states := []GapState{GapPending, GapFetching, GapPersisting, GapCommitted, GapFailed, GapProvisional}
	for _, from := range states {
		for _, to := range states {
			expected := false
			for _, ok := range allowed[from] {
				if ok == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestCoverageWarnings(t *testing.T) {
	reports := []CoverageReport{
		{Repository: "org/b", FullyCovered: false, Missing: []Interval{MustInterval("2025-01-11", "2025-01-19"), MustInterval("2025-01-25", "2025-01-25")}},
		{Repository: "org/a", FullyCovered: true, Missing: []Interval{}},
		{Repository: "org/a2", FullyCovered: false, Missing: []Interval{MustInterval("2025-01-01", "2025-01-31")}},
	}
	assert.Equal(t, []string{
		"org/a2: not synced for 2025-01-01..2025-01-31",
		"org/b: not synced for 2025-01-11..2025-01-19, 2025-01-25..2025-01-25",
	}, CoverageWarnings(reports))
}

func TestNormalizeRepositories(t *testing.T) {
	repos, err := NormalizeRepositories([]string{"Org/Repo", " org/repo ", "org/other"})
	require.NoError(t, err)
	assert.Equal(t, []string{"org/repo", "org/other"}, repos)

	_, err = NormalizeRepositories([]string{"no-slash"})
	assert.ErrorIs(t, err, ErrInvalidRepository)
	_, err = NormalizeRepositories([]string{"a/b/c"})
	assert.ErrorIs(t, err, ErrInvalidRepository)
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		name        string
		err         error
		retryable   bool
		repoFatal   bool
		searchLimit bool
	}{
		{name: "rate limited", err: &RateLimitedError{RetryAfter: time.Second}, retryable: true},
		{name: "wrapped transient", err: fmt.Errorf("page 3: %w", ErrTransient), retryable: true},
		{name: "auth", err: fmt.Errorf("query: %w", ErrAuth), repoFatal: true},
		{name: "not found", err: &NotFoundError{Repository: "org/gone"}, repoFatal: true},
		{name: "malformed", err: errors.New("unexpected end of JSON input")},
		{name: "search limit", err: fmt.Errorf("page 1: %w", &SearchLimitError{Query: "q", Matches: 1500, Limit: 1000}), searchLimit: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
			assert.Equal(t, tc.repoFatal, IsRepositoryFatal(tc.err))
			assert.Equal(t, tc.searchLimit, IsSearchLimit(tc.err))
		})
	}
}
