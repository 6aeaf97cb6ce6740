package model

import "time"

// FailureKind classifies why a frontier URL was abandoned.
type FailureKind string

const (
	FailureNetwork  FailureKind = "network"
	FailureParse    FailureKind = "parse"
	FailureCanceled FailureKind = "canceled"
)

// PageFailure records one frontier URL that produced no entries.
type PageFailure struct {
	URL      string      `json:"url"`
	Kind     FailureKind `json:"kind"`
	Attempts int         `json:"attempts,omitempty"`
	Error    string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}

// PageOutcome summarizes a successfully processed frontier URL.
type PageOutcome struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
	Entries    int    `json:"entries"`
}

// CrawlResult is the accumulated output of one walk over the frontier.
// ReviewURLs is append-only and may contain duplicates across pages.
type CrawlResult struct {
	ReviewURLs []string      `json:"review_urls"`
	Pages      []PageOutcome `json:"pages,omitempty"`
	Failures   []PageFailure `json:"failures,omitempty"`
	Complete   bool          `json:"complete"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Duration returns how long the crawl ran.
func (r *CrawlResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
