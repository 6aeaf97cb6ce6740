package model

import "time"

// RunStatus represents the current state of a crawl run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusComplete   RunStatus = "complete"
	RunStatusIncomplete RunStatus = "incomplete"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusComplete || s == RunStatusIncomplete || s == RunStatusFailed
}

// Run is the persisted record of one crawl.
type Run struct {
	ID           string    `json:"id"`
	Hotel        Hotel     `json:"hotel"`
	Seeds        []string  `json:"seeds"`
	Status       RunStatus `json:"status"`
	ReviewCount  int       `json:"review_count"`
	FailureCount int       `json:"failure_count"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusFor derives the terminal run status from a crawl result and the
// error returned alongside it.
func StatusFor(result *CrawlResult, err error) RunStatus {
	switch {
	case err != nil:
		return RunStatusFailed
	case result == nil || !result.Complete:
		return RunStatusIncomplete
	default:
		return RunStatusComplete
	}
}
