package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RunStatusComplete, StatusFor(&CrawlResult{Complete: true}, nil))
	assert.Equal(t, RunStatusIncomplete, StatusFor(&CrawlResult{Complete: false}, nil))
	assert.Equal(t, RunStatusIncomplete, StatusFor(nil, nil))
	assert.Equal(t, RunStatusFailed, StatusFor(&CrawlResult{Complete: true}, errors.New("boom")))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusRunning.IsTerminal())
	assert.True(t, RunStatusComplete.IsTerminal())
	assert.True(t, RunStatusIncomplete.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}

func TestCrawlResult_Duration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &CrawlResult{StartedAt: start}
	assert.Zero(t, r.Duration())

	r.FinishedAt = start.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, r.Duration())
}
