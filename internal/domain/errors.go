package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInterval reports a malformed date range (start after end,
	// unparsable date, or a merge of disjoint intervals).
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidRepository reports a repository name that is not owner/name.
	ErrInvalidRepository = errors.New("invalid repository name")

	// ErrAuth reports rejected or missing credentials. Never retried.
	ErrAuth = errors.New("github: authentication failed")

	// ErrTransient reports a network failure, timeout or 5xx worth retrying.
	ErrTransient = errors.New("github: transient network error")

	// ErrVersionConflict is returned by a coverage store when the row was
	// changed by another writer since it was loaded.
	ErrVersionConflict = errors.New("coverage ledger version conflict")
)

// RateLimitedError reports an exhausted primary or secondary rate limit.
// RetryAfter is zero when GitHub gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("github: rate limited, retry after %s", e.RetryAfter)
	}
	return "github: rate limited"
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// NotFoundError reports a repository that does not exist or is not visible
// to the token.
type NotFoundError struct {
	Repository string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("github: repository %s not found", e.Repository)
}

// SearchLimitError reports a search query matching more results than GitHub
// search will return. Narrowing the query is the only way through.
type SearchLimitError struct {
	Query   string
	Matches int
	Limit   int
}

func (e *SearchLimitError) Error() string {
	return fmt.Sprintf("github: %q matches %d pull requests, over the search limit of %d", e.Query, e.Matches, e.Limit)
}

// IsSearchLimit reports whether err is, or wraps, a SearchLimitError.
func IsSearchLimit(err error) bool {
	var sl *SearchLimitError
	return errors.As(err, &sl)
}

// PersistenceError wraps an entity store or coverage store write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is, or wraps, a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsRetryable reports whether a failed page fetch may be attempted again.
func IsRetryable(err error) bool {
	return IsRateLimited(err) || errors.Is(err, ErrTransient)
}

// IsRepositoryFatal reports whether err makes every remaining gap of the same
// repository pointless to attempt.
func IsRepositoryFatal(err error) bool {
	var nf *NotFoundError
	return errors.Is(err, ErrAuth) || errors.As(err, &nf)
}
