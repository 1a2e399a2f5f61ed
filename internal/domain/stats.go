// Package domain contains the core data structures and domain logic for the application.
package domain

// RepoStats holds the activity metrics for a single repository over a window.
type RepoStats struct {
	Name                     string  `json:"name" yaml:"name"`
	OpenedPRs                int     `json:"opened_prs" yaml:"opened_prs"`
	MergedPRs                int     `json:"merged_prs" yaml:"merged_prs"`
	Reviews                  int     `json:"reviews" yaml:"reviews"`
	Comments                 int     `json:"comments" yaml:"comments"`
	MedianHoursToMerge       float64 `json:"median_hours_to_merge" yaml:"median_hours_to_merge"`
	MedianHoursToFirstReview float64 `json:"median_hours_to_first_review" yaml:"median_hours_to_first_review"`
}

// Report is the output of a stats run. Warnings lists every repository whose
// window is not fully synced; numbers for those repositories may be low.
type Report struct {
	Window   Interval         `json:"window" yaml:"window"`
	Stats    []*RepoStats     `json:"stats" yaml:"stats"`
	Coverage []CoverageReport `json:"coverage" yaml:"coverage"`
	Warnings []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
