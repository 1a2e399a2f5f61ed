package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/naka-gawa/prstats/internal/domain"
	"github.com/naka-gawa/prstats/internal/gateway"
)

// RetryPolicy bounds the retries of a single page fetch. Rate-limited and
// transient failures are counted separately.
type RetryPolicy struct {
	MaxRateLimitAttempts int
	MaxTransientAttempts int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRateLimitAttempts: 5,
		MaxTransientAttempts: 3,
		InitialInterval:      time.Second,
		MaxInterval:          time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRateLimitAttempts <= 0 {
		p.MaxRateLimitAttempts = d.MaxRateLimitAttempts
	}
	if p.MaxTransientAttempts <= 0 {
		p.MaxTransientAttempts = d.MaxTransientAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// hintedBackOff is exponential backoff that never waits less than the
// Retry-After hint of the last rate-limited response.
type hintedBackOff struct {
	exp  *backoff.ExponentialBackOff
	hint time.Duration
}

func newHintedBackOff(p RetryPolicy) *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	return &hintedBackOff{exp: exp}
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.exp.NextBackOff()
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

func (b *hintedBackOff) Reset() {
	b.exp.Reset()
	b.hint = 0
}

// retryReason labels a retryable error for logs and metrics.
func retryReason(err error) string {
	if domain.IsRateLimited(err) {
		return "rate_limited"
	}
	return "transient"
}

// nextPage reads the next page of p, retrying rate-limited and transient
// failures under policy. The pager does not advance on failure, so every
// attempt requests the same page. notify is called before each wait.
func nextPage[T any](ctx context.Context, policy RetryPolicy, p *gateway.Pager[T], notify func(err error, wait time.Duration)) ([]T, error) {
	bo := newHintedBackOff(policy)
	var rateLimited, transient int

	op := func() ([]T, error) {
		items, err := p.Next(ctx)
		if err == nil {
			return items, nil
		}
		var rl *domain.RateLimitedError
		switch {
		case errors.As(err, &rl):
			rateLimited++
			if rateLimited >= policy.MaxRateLimitAttempts {
				return nil, backoff.Permanent(fmt.Errorf("giving up after %d rate-limited attempts: %w", rateLimited, err))
			}
			bo.hint = rl.RetryAfter
			return nil, err
		case errors.Is(err, domain.ErrTransient):
			transient++
			if transient >= policy.MaxTransientAttempts {
				return nil, backoff.Permanent(fmt.Errorf("giving up after %d transient failures: %w", transient, err))
			}
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(backoff.Notify(notify)),
	)
}
