// Package store persists crawl runs, their review listings and page
// failures.
package store

import (
	"context"
	"fmt"

	"github.com/sells-group/review-crawler/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	HotelKey string          `json:"hotel_key,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for crawl runs.
type Store interface {
	CreateRun(ctx context.Context, hotel model.Hotel, seeds []string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// FinishRun stores the listing and failures of result and moves the run
	// to the status derived from result and runErr. Calling it again
	// replaces what was stored before.
	FinishRun(ctx context.Context, runID string, result *model.CrawlResult, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListReviewURLs(ctx context.Context, runID string) ([]string, error)
	ListFailures(ctx context.Context, runID string) ([]model.PageFailure, error)

	Migrate(ctx context.Context) error
	Close() error
}

// NotFoundError is returned when a run does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// finishFields derives the columns FinishRun writes on the runs row.
func finishFields(result *model.CrawlResult, runErr error) (status model.RunStatus, reviews, failures int, errMsg string) {
	status = model.StatusFor(result, runErr)
	if result != nil {
		reviews = len(result.ReviewURLs)
		failures = len(result.Failures)
	}
	if runErr != nil {
		errMsg = runErr.Error()
	}
	return status, reviews, failures, errMsg
}
