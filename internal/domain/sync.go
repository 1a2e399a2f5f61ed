package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SyncPlan lists the gaps of one repository for one request. It is never
// persisted; it is recomputed from the ledger on every attempt.
type SyncPlan struct {
	Repository string     `json:"repository" yaml:"repository"`
	Requested  Interval   `json:"requested" yaml:"requested"`
	Gaps       []Interval `json:"gaps" yaml:"gaps"`
}

// GapState is the lifecycle of a single (repository, gap) pair.
type GapState int

const (
	GapPending GapState = iota
	GapFetching
	GapPersisting
	GapCommitted
	GapFailed
	// GapProvisional is a gap persisted past the last complete day. Its
	// entities are stored but the ledger does not claim it.
	GapProvisional
)

func (s GapState) String() string {
	switch s {
	case GapPending:
		return "pending"
	case GapFetching:
		return "fetching"
	case GapPersisting:
		return "persisting"
	case GapCommitted:
		return "committed"
	case GapFailed:
		return "failed"
	case GapProvisional:
		return "provisional"
	default:
		return fmt.Sprintf("GapState(%d)", int(s))
	}
}

// CanTransition reports whether the state machine allows s -> next.
// Only a fetch can fail: once persisting, a gap either commits or its
// persistence error fails it before the ledger moves.
func (s GapState) CanTransition(next GapState) bool {
	switch s {
	case GapPending:
		return next == GapFetching || next == GapFailed
	case GapFetching:
		return next == GapPersisting || next == GapFailed
	case GapPersisting:
		return next == GapCommitted || next == GapFailed || next == GapProvisional
	default:
		return false
	}
}

// GapFailure records why a gap was not committed.
type GapFailure struct {
	Interval Interval `json:"interval" yaml:"interval"`
	Err      error    `json:"-" yaml:"-"`
	Message  string   `json:"error" yaml:"error"`
}

// NewGapFailure builds a GapFailure carrying both the error and its text.
func NewGapFailure(iv Interval, err error) GapFailure {
	return GapFailure{Interval: iv, Err: err, Message: err.Error()}
}

// RepoSyncResult is the outcome for one repository.
type RepoSyncResult struct {
	Committed []Interval   `json:"committed" yaml:"committed"`
	Failed    []GapFailure `json:"failed" yaml:"failed"`
	// Provisional intervals were fetched and persisted but lie after the last
	// complete day, so the ledger does not claim them yet.
	Provisional []Interval `json:"provisional,omitempty" yaml:"provisional,omitempty"`
	Entities    int        `json:"entities" yaml:"entities"`
	// Err is set when the repository could not be planned, e.g. its ledger
	// failed to load. No gap was attempted and Failed stays empty.
	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRepoError builds the result of a repository that could not be planned.
func NewRepoError(err error) RepoSyncResult {
	return RepoSyncResult{Committed: []Interval{}, Failed: []GapFailure{}, Err: err, Error: err.Error()}
}

// OK reports whether every gap of the repository committed.
func (r RepoSyncResult) OK() bool { return r.Err == nil && len(r.Failed) == 0 }

// SyncRunResult is what a sync request returns to the CLI.
type SyncRunResult struct {
	RunID        string                    `json:"run_id" yaml:"run_id"`
	Requested    Interval                  `json:"requested" yaml:"requested"`
	StartedAt    time.Time                 `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time                 `json:"finished_at" yaml:"finished_at"`
	Repositories map[string]RepoSyncResult `json:"repositories" yaml:"repositories"`
}

// FailedCount returns the number of failed gaps across repositories.
func (r *SyncRunResult) FailedCount() int {
	n := 0
	for _, repo := range r.Repositories {
		n += len(repo.Failed)
	}
	return n
}

// ErroredCount returns the number of repositories that could not be planned.
func (r *SyncRunResult) ErroredCount() int {
	n := 0
	for _, repo := range r.Repositories {
		if repo.Err != nil {
			n++
		}
	}
	return n
}

// CommittedCount returns the number of committed gaps across repositories.
func (r *SyncRunResult) CommittedCount() int {
	n := 0
	for _, repo := range r.Repositories {
		n += len(repo.Committed)
	}
	return n
}

// CoverageReport says whether requested is fully synced for a repository.
type CoverageReport struct {
	Repository   string     `json:"repository" yaml:"repository"`
	Requested    Interval   `json:"requested" yaml:"requested"`
	FullyCovered bool       `json:"fully_covered" yaml:"fully_covered"`
	Missing      []Interval `json:"missing" yaml:"missing"`
}

// CoverageWarnings renders one line per repository with missing ranges,
// sorted by repository.
func CoverageWarnings(reports []CoverageReport) []string {
	var warnings []string
	for _, r := range reports {
		if r.FullyCovered {
			continue
		}
		parts := make([]string, len(r.Missing))
		for i, m := range r.Missing {
			parts[i] = m.String()
		}
		warnings = append(warnings, fmt.Sprintf("%s: not synced for %s", r.Repository, strings.Join(parts, ", ")))
	}
	sort.Strings(warnings)
	return warnings
}

// RunSummary is the persisted headline of a sync run.
type RunSummary struct {
	RunID        string    `json:"run_id" yaml:"run_id"`
	Requested    Interval  `json:"requested" yaml:"requested"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time `json:"finished_at" yaml:"finished_at"`
	Repositories int       `json:"repositories" yaml:"repositories"`
	Committed    int       `json:"committed" yaml:"committed"`
	Failed       int       `json:"failed" yaml:"failed"`
	Errored      int       `json:"errored" yaml:"errored"`
}

// Summary condenses the run for history listings.
func (r *SyncRunResult) Summary() RunSummary {
	return RunSummary{
		RunID:        r.RunID,
		Requested:    r.Requested,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Repositories: len(r.Repositories),
		Committed:    r.CommittedCount(),
		Failed:       r.FailedCount(),
		Errored:      r.ErroredCount(),
	}
}
