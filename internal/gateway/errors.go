package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"

	"github.com/naka-gawa/prstats/internal/domain"
)

// graphqlStatusRe extracts the HTTP status githubv4 embeds in non-200 errors.
var graphqlStatusRe = regexp.MustCompile(`non-200 OK status code: (\d{3})`)

// graphqlNotFoundMarkers are the messages GitHub returns when a repo:
// qualifier names a repository that is missing or invisible to the token.
var graphqlNotFoundMarkers = []string{
	"Could not resolve to a Repository",
	"cannot be searched either because the resources do not exist",
}

// classifyRESTError maps go-github errors onto the domain taxonomy.
// ctx is the caller's context, not the per-call one: if the caller was
// cancelled the context error is returned untouched.
func classifyRESTError(ctx context.Context, repo string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &domain.RateLimitedError{RetryAfter: untilReset(rateErr.Rate.Reset.Time), Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &domain.RateLimitedError{RetryAfter: abuseErr.GetRetryAfter(), Err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		switch {
		case code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", domain.ErrAuth, err)
		case code == http.StatusNotFound:
			return &domain.NotFoundError{Repository: repo}
		case code == http.StatusTooManyRequests:
			return &domain.RateLimitedError{RetryAfter: parseRetryAfter(respErr.Response.Header), Err: err}
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}

	return classifyNetworkError(err)
}

// classifyGraphQLError maps githubv4 errors onto the domain taxonomy. The
// GraphQL client only exposes error text, so classification is by message.
func classifyGraphQLError(ctx context.Context, repo string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	msg := err.Error()
	if m := graphqlStatusRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", domain.ErrAuth, err)
		case code == http.StatusTooManyRequests, code == http.StatusForbidden && isRateLimitMessage(msg):
			return &domain.RateLimitedError{Err: err}
		case code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrAuth, err)
		case code == http.StatusNotFound:
			return &domain.NotFoundError{Repository: repo}
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}
	if isRateLimitMessage(msg) {
		return &domain.RateLimitedError{Err: err}
	}
	for _, marker := range graphqlNotFoundMarkers {
		if strings.Contains(msg, marker) {
			return &domain.NotFoundError{Repository: repo}
		}
	}
	return classifyNetworkError(err)
}

func classifyNetworkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %w", domain.ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(msg, "RATE_LIMITED")
}

func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return untilReset(time.Unix(unix, 0))
		}
	}
	return 0
}

func untilReset(reset time.Time) time.Duration {
	if d := time.Until(reset); d > 0 {
		return d
	}
	return 0
}
