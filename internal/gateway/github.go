// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/prstats/internal/domain"
)

// searchResultLimit is the most results GitHub search returns for one query.
const searchResultLimit = 1000

// Fetcher is the remote fetch capability: one lazy pager per entity kind,
// bounded to a repository and a day interval. Creating a pager does no I/O.
type Fetcher interface {
	FetchPullRequests(repo string, iv domain.Interval) *Pager[domain.PullRequest]
	FetchReviews(repo string, iv domain.Interval) *Pager[domain.Review]
	FetchComments(repo string, iv domain.Interval) *Pager[domain.Comment]
}

// Options tunes the transport. Zero values fall back to the defaults below.
type Options struct {
	// RequestTimeout bounds each page request, not a whole listing.
	RequestTimeout time.Duration
	// RequestsPerSecond throttles requests before GitHub has to.
	RequestsPerSecond float64
	// RateLimitMaxWait is the longest secondary-limit sleep absorbed inside
	// the transport; longer ones surface as RateLimitedError.
	RateLimitMaxWait time.Duration
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient     *github.Client
	graphqlClient  *githubv4.Client
	limiter        *rate.Limiter
	requestTimeout time.Duration
	// now bounds the open end of review searches.
	now    func() time.Time
	logger *log.Logger
}

// pullRequestNode is the subset of PullRequest fields stored locally.
type pullRequestNode struct {
	Number    int
	Title     string
	Author    struct{ Login string }
	State     string
	CreatedAt githubv4.DateTime
	MergedAt  *githubv4.DateTime
	ClosedAt  *githubv4.DateTime
	Additions int
	Deletions int
}

// pullRequestSearchQuery lists pull requests created in a window.
type pullRequestSearchQuery struct {
	Search struct {
		IssueCount int
		PageInfo   struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string          `graphql:"__typename"`
				PullRequest pullRequestNode `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 50, after: $cursor)"`
}

// reviewNode is one submitted review.
type reviewNode struct {
	ID          string
	Author      struct{ Login string }
	State       string
	SubmittedAt *githubv4.DateTime
}

// reviewConnection is one page of a pull request's reviews.
type reviewConnection struct {
	TotalCount int
	PageInfo   struct {
		HasNextPage bool
		EndCursor   githubv4.String
	}
	Nodes []reviewNode
}

// reviewSearchQuery lists the reviews of pull requests active in a window.
type reviewSearchQuery struct {
	Search struct {
		IssueCount int
		PageInfo   struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					Number  int
					Reviews reviewConnection `graphql:"reviews(first: 100, states: [COMMENTED, APPROVED, CHANGES_REQUESTED, DISMISSED])"`
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 20, after: $cursor)"` // Use a smaller page size for this nested query
}

// pullRequestReviewsQuery continues the reviews of one pull request past the
// first page returned by the search.
type pullRequestReviewsQuery struct {
	Repository struct {
		PullRequest struct {
			Reviews reviewConnection `graphql:"reviews(first: 100, after: $cursor, states: [COMMENTED, APPROVED, CHANGES_REQUESTED, DISMISSED])"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, opts Options, logger *log.Logger) (*GitHubGateway, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1.2
	}
	if opts.RateLimitMaxWait <= 0 {
		opts.RateLimitMaxWait = time.Minute
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(opts.RateLimitMaxWait, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	return &GitHubGateway{
		restClient:     github.NewClient(httpClient),
		graphqlClient:  githubv4.NewClient(httpClient),
		limiter:        rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		requestTimeout: opts.RequestTimeout,
		now:            time.Now,
		logger:         logger,
	}, nil
}

// callContext applies the throttle and the per-request timeout.
func (g *GitHubGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	return callCtx, cancel, nil
}

func cursorVariable(cursor string) *githubv4.String {
	if cursor == "" {
		return nil
	}
	return githubv4.NewString(githubv4.String(cursor))
}

func dateTimePtr(dt *githubv4.DateTime) *time.Time {
	if dt == nil || dt.IsZero() {
		return nil
	}
	t := dt.Time.UTC()
	return &t
}

// FetchPullRequests pages through pull requests created within iv.
func (g *GitHubGateway) FetchPullRequests(repo string, iv domain.Interval) *Pager[domain.PullRequest] {
	query := fmt.Sprintf("repo:%s is:pr created:%s", repo, iv)
	return NewPager(func(ctx context.Context, cursor string) (Page[domain.PullRequest], error) {
		callCtx, cancel, err := g.callContext(ctx)
		if err != nil {
			return Page[domain.PullRequest]{}, err
		}
		defer cancel()

		var q pullRequestSearchQuery
		variables := map[string]interface{}{"query": githubv4.String(query), "cursor": cursorVariable(cursor)}
		if err := g.graphqlClient.Query(callCtx, &q, variables); err != nil {
			return Page[domain.PullRequest]{}, fmt.Errorf("failed to execute GraphQL query for pull requests: %w", classifyGraphQLError(ctx, repo, err))
		}
		if q.Search.IssueCount > searchResultLimit {
			return Page[domain.PullRequest]{}, fmt.Errorf("failed to search pull requests: %w",
				&domain.SearchLimitError{Query: query, Matches: q.Search.IssueCount, Limit: searchResultLimit})
		}

		page := Page[domain.PullRequest]{Items: make([]domain.PullRequest, 0, len(q.Search.Edges))}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			node := edge.Node.PullRequest
			page.Items = append(page.Items, domain.PullRequest{
				Repository: repo,
				Number:     node.Number,
				Title:      node.Title,
				Author:     node.Author.Login,
				State:      node.State,
				CreatedAt:  node.CreatedAt.Time.UTC(),
				MergedAt:   dateTimePtr(node.MergedAt),
				ClosedAt:   dateTimePtr(node.ClosedAt),
				Additions:  node.Additions,
				Deletions:  node.Deletions,
			})
		}
		if q.Search.PageInfo.HasNextPage {
			page.Next = string(q.Search.PageInfo.EndCursor)
			g.logger.Printf("  Fetching next page of pull requests for %s %s...", repo, iv)
		}
		return page, nil
	})
}

// reviewCursor is the position of a review listing: the updated: ranges
// still to search, the first one being read from After. When OpenEnded is
// set the last range has no upper bound, so pull requests touched while the
// listing runs are still found.
type reviewCursor struct {
	Ranges    []domain.Interval `json:"ranges"`
	OpenEnded bool              `json:"open_ended,omitempty"`
	After     string            `json:"after,omitempty"`
}

func decodeReviewCursor(cursor string) (reviewCursor, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return reviewCursor{}, fmt.Errorf("invalid review page cursor: %w", err)
	}
	var c reviewCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return reviewCursor{}, fmt.Errorf("invalid review page cursor: %w", err)
	}
	if len(c.Ranges) == 0 {
		return reviewCursor{}, fmt.Errorf("invalid review page cursor: no ranges left")
	}
	return c, nil
}

// encode serializes the cursor to a base64-encoded JSON string.
func (c reviewCursor) encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode review page cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// updatedQualifier renders the search qualifier for the head range.
func (c reviewCursor) updatedQualifier() string {
	head := c.Ranges[0]
	switch {
	case c.OpenEnded && len(c.Ranges) == 1:
		return "updated:>=" + head.Start().Format(domain.DateLayout)
	case head.Days() == 1:
		return "updated:" + head.Start().Format(domain.DateLayout)
	default:
		return "updated:" + head.String()
	}
}

// FetchReviews pages through reviews submitted within iv. Reviews hang off
// pull requests, so the search selects every pull request created before the
// window closed and updated since it opened, then filters by submission time.
// When that selection is over the search limit, the updated: range is halved
// until each part fits. Reviews seen twice are returned once.
func (g *GitHubGateway) FetchReviews(repo string, iv domain.Interval) *Pager[domain.Review] {
	last := domain.Day(g.now().UTC())
	if last.Before(iv.Start()) {
		last = iv.Start()
	}
	scan, _ := domain.NewInterval(iv.Start(), last)
	first := reviewCursor{Ranges: []domain.Interval{scan}, OpenEnded: true}
	seen := make(map[string]struct{})

	return NewPager(func(ctx context.Context, cursor string) (Page[domain.Review], error) {
		state := first
		if cursor != "" {
			var err error
			if state, err = decodeReviewCursor(cursor); err != nil {
				return Page[domain.Review]{}, err
			}
		}
		query := fmt.Sprintf("repo:%s is:pr %s created:<=%s", repo, state.updatedQualifier(), iv.End().Format(domain.DateLayout))

		callCtx, cancel, err := g.callContext(ctx)
		if err != nil {
			return Page[domain.Review]{}, err
		}
		defer cancel()

		var q reviewSearchQuery
		variables := map[string]interface{}{"query": githubv4.String(query), "cursor": cursorVariable(state.After)}
		if err := g.graphqlClient.Query(callCtx, &q, variables); err != nil {
			return Page[domain.Review]{}, fmt.Errorf("failed to execute GraphQL query for reviews: %w", classifyGraphQLError(ctx, repo, err))
		}

		if q.Search.IssueCount > searchResultLimit {
			head, rest := state.Ranges[0], state.Ranges[1:]
			older, newer, ok := head.Halve()
			if !ok {
				return Page[domain.Review]{}, fmt.Errorf("failed to search reviews: %w",
					&domain.SearchLimitError{Query: query, Matches: q.Search.IssueCount, Limit: searchResultLimit})
			}
			g.logger.Printf("  %s matches %d pull requests, splitting into %s and %s...", query, q.Search.IssueCount, older, newer)
			next := reviewCursor{Ranges: append([]domain.Interval{older, newer}, rest...), OpenEnded: state.OpenEnded}
			encoded, err := next.encode()
			if err != nil {
				return Page[domain.Review]{}, err
			}
			return Page[domain.Review]{Next: encoded}, nil
		}

		var page Page[domain.Review]
		pageSeen := make(map[string]struct{})
		keep := func(number int, nodes []reviewNode) {
			for _, review := range nodes {
				submitted := dateTimePtr(review.SubmittedAt)
				// Pending reviews have no submission time.
				if submitted == nil || !iv.Contains(*submitted) {
					continue
				}
				if _, dup := seen[review.ID]; dup {
					continue
				}
				if _, dup := pageSeen[review.ID]; dup {
					continue
				}
				pageSeen[review.ID] = struct{}{}
				page.Items = append(page.Items, domain.Review{
					ID:          review.ID,
					Repository:  repo,
					PullNumber:  number,
					Author:      review.Author.Login,
					State:       review.State,
					SubmittedAt: *submitted,
				})
			}
		}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			pr := edge.Node.PullRequest
			keep(pr.Number, pr.Reviews.Nodes)
			if pr.Reviews.PageInfo.HasNextPage {
				more, err := g.remainingReviews(ctx, repo, pr.Number, pr.Reviews)
				if err != nil {
					return Page[domain.Review]{}, err
				}
				keep(pr.Number, more)
			}
		}

		next := state
		if q.Search.PageInfo.HasNextPage {
			next.After = string(q.Search.PageInfo.EndCursor)
		} else {
			next.Ranges, next.After = state.Ranges[1:], ""
		}
		if len(next.Ranges) > 0 {
			if page.Next, err = next.encode(); err != nil {
				return Page[domain.Review]{}, err
			}
			g.logger.Printf("  Fetching next page of reviews for %s %s...", repo, iv)
		}
		for id := range pageSeen {
			seen[id] = struct{}{}
		}
		return page, nil
	})
}

// remainingReviews reads the reviews of one pull request after the first
// page returned by the search.
func (g *GitHubGateway) remainingReviews(ctx context.Context, repo string, number int, firstPage reviewConnection) ([]reviewNode, error) {
	owner, name, err := domain.SplitRepository(repo)
	if err != nil {
		return nil, err
	}
	g.logger.Printf("  Fetching remaining reviews of %s#%d (%d in total)...", repo, number, firstPage.TotalCount)

	var nodes []reviewNode
	after := firstPage.PageInfo.EndCursor
	for {
		callCtx, cancel, err := g.callContext(ctx)
		if err != nil {
			return nil, err
		}
		var q pullRequestReviewsQuery
		variables := map[string]interface{}{
			"owner":  githubv4.String(owner),
			"name":   githubv4.String(name),
			"number": githubv4.Int(number),
			"cursor": githubv4.NewString(after),
		}
		err = g.graphqlClient.Query(callCtx, &q, variables)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL query for reviews of #%d: %w", number, classifyGraphQLError(ctx, repo, err))
		}
		reviews := q.Repository.PullRequest.Reviews
		nodes = append(nodes, reviews.Nodes...)
		if !reviews.PageInfo.HasNextPage {
			return nodes, nil
		}
		after = reviews.PageInfo.EndCursor
	}
}

// FetchComments pages through conversation comments on pull requests created
// within iv, using the repository-wide REST listing sorted by creation.
func (g *GitHubGateway) FetchComments(repo string, iv domain.Interval) *Pager[domain.Comment] {
	return NewPager(func(ctx context.Context, cursor string) (Page[domain.Comment], error) {
		owner, name, err := domain.SplitRepository(repo)
		if err != nil {
			return Page[domain.Comment]{}, err
		}
		pageNumber := 0
		if cursor != "" {
			if pageNumber, err = strconv.Atoi(cursor); err != nil {
				return Page[domain.Comment]{}, fmt.Errorf("invalid comment page cursor %q: %w", cursor, err)
			}
		}

		callCtx, cancel, err := g.callContext(ctx)
		if err != nil {
			return Page[domain.Comment]{}, err
		}
		defer cancel()

		since := iv.Start()
		opts := &github.IssueListCommentsOptions{
			Sort:        github.String("created"),
			Direction:   github.String("asc"),
			Since:       &since,
			ListOptions: github.ListOptions{PerPage: 100, Page: pageNumber},
		}
		comments, resp, err := g.restClient.Issues.ListComments(callCtx, owner, name, 0, opts)
		if err != nil {
			return Page[domain.Comment]{}, fmt.Errorf("failed to list issue comments with REST API: %w", classifyRESTError(ctx, repo, err))
		}

		var page Page[domain.Comment]
		windowClose := iv.End().AddDate(0, 0, 1)
		pastWindow := false
		for _, c := range comments {
			created := c.GetCreatedAt().Time.UTC()
			if !created.Before(windowClose) {
				pastWindow = true
				break
			}
			if !iv.Contains(created) || !strings.Contains(c.GetHTMLURL(), "/pull/") {
				continue
			}
			page.Items = append(page.Items, domain.Comment{
				ID:         c.GetID(),
				Repository: repo,
				PullNumber: issueNumber(c.GetIssueURL()),
				Author:     c.GetUser().GetLogin(),
				CreatedAt:  created,
			})
		}
		if !pastWindow && resp.NextPage != 0 {
			page.Next = strconv.Itoa(resp.NextPage)
			g.logger.Printf("  Fetching next page of comments for %s %s...", repo, iv)
		}
		return page, nil
	})
}

// issueNumber takes the trailing number of an issue API URL.
func issueNumber(issueURL string) int {
	idx := strings.LastIndex(issueURL, "/")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(issueURL[idx+1:])
	return n
}
