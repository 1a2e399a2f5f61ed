package domain

import (
	"fmt"
	"strings"
	"time"
)

// PullRequest is keyed by (Repository, Number).
type PullRequest struct {
	Repository string     `json:"repository"`
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Additions  int        `json:"additions"`
	Deletions  int        `json:"deletions"`
}

// Review is keyed by its GitHub node ID.
type Review struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"`
	PullNumber  int       `json:"pull_number"`
	Author      string    `json:"author"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Comment is a conversation comment on a pull request, keyed by its ID.
type Comment struct {
	ID         int64     `json:"id"`
	Repository string    `json:"repository"`
	PullNumber int       `json:"pull_number"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
}

// Batch is everything fetched for one gap of one repository.
type Batch struct {
	PullRequests []PullRequest
	Reviews      []Review
	Comments     []Comment
}

// Size returns the total number of entities in the batch.
func (b Batch) Size() int {
	return len(b.PullRequests) + len(b.Reviews) + len(b.Comments)
}

// SplitRepository splits "owner/name" into its parts.
func SplitRepository(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%q: %w", repo, ErrInvalidRepository)
	}
	return owner, name, nil
}

// NormalizeRepositories validates names and drops duplicates, keeping the
// first occurrence. GitHub names are case-insensitive, so keys are lowercased.
func NormalizeRepositories(repos []string) ([]string, error) {
	seen := make(map[string]bool, len(repos))
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		r = strings.ToLower(strings.TrimSpace(r))
		if _, _, err := SplitRepository(r); err != nil {
			return nil, err
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}
