package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/pipeline"
)

var testHotel = model.Hotel{CityID: "294265", HotelID: "302294", Name: "Marina_Bay_Sands"}

func TestCrawlOptions(t *testing.T) {
	opts, err := crawlOptions(testHotel, 3, "", "", "skip")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunOptions{Pages: 3, Policy: "skip"}, opts)

	opts, err = crawlOptions(testHotel, 1, snapshotStore, "", "")
	require.NoError(t, err)
	assert.Equal(t, "marina-bay-sands", opts.SnapshotName)

	opts, err = crawlOptions(testHotel, 1, snapshotLoad, "weekly", "")
	require.NoError(t, err)
	assert.Equal(t, "weekly", opts.SnapshotName)
}

func TestCrawlOptions_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		pages    int
		mode     string
		filename string
		field    string
	}{
		{"zero pages", 0, "", "", "pages"},
		{"filename without snapshot", 1, "", "x", "filename"},
		{"unknown mode", 1, "dump", "", "snapshot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crawlOptions(testHotel, tt.pages, tt.mode, tt.filename, "")
			var ce *model.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, exitConfig, exitCode(err))
		})
	}
}

func TestPrintOutcome(t *testing.T) {
	o := &pipeline.Outcome{
		RunID:  "run-1",
		Hotel:  testHotel,
		Status: model.RunStatusIncomplete,
		Result: &model.CrawlResult{
			ReviewURLs: []string{"Great stay", "Loud AC"},
			Failures: []model.PageFailure{
				{URL: "https://example.com/p2", Kind: model.FailureNetwork, Error: "unexpected status 503"},
			},
		},
		ListingPath: "out/marina-bay-sands-g294265-d302294.jsonl",
	}

	var buf bytes.Buffer
	printOutcome(&buf, o)

	out := buf.String()
	assert.Contains(t, out, "g294265-d302294")
	assert.Contains(t, out, "incomplete")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "reviews:  2")
	assert.Contains(t, out, "failures: 1")
	assert.Contains(t, out, "network  https://example.com/p2")
	assert.Contains(t, out, "out/marina-bay-sands-g294265-d302294.jsonl")
	assert.NotContains(t, out, "snapshot:")
}
