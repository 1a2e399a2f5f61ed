// Package metrics records sync observability data. Components receive a
// Recorder by injection and default to NoopRecorder.
package metrics

import "time"

// Recorder defines the observability hooks of a sync run.
type Recorder interface {
	// IncGapTransition counts a gap entering state (pending, fetching, ...).
	IncGapTransition(repo, state string)
	// ObserveGapDuration records how long a gap took to reach outcome.
	ObserveGapDuration(repo, outcome string, d time.Duration)
	// IncPageRetry counts a retried page fetch. reason is rate_limited or transient.
	IncPageRetry(repo, kind, reason string)
	// AddEntitiesFetched counts fetched entities of kind (pull_requests, reviews, comments).
	AddEntitiesFetched(repo, kind string, n int)
	// IncCommitConflict counts coverage saves that lost an optimistic version race.
	IncCommitConflict(repo string)
	// ObserveRunDuration records the wall time of a whole sync run.
	ObserveRunDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncGapTransition(string, string)                  {}
func (NoopRecorder) ObserveGapDuration(string, string, time.Duration) {}
func (NoopRecorder) IncPageRetry(string, string, string)              {}
func (NoopRecorder) AddEntitiesFetched(string, string, int)           {}
func (NoopRecorder) IncCommitConflict(string)                         {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                 {}
