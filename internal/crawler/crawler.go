// Package crawler walks a fixed frontier of listing pages, fetching each one
// and collecting the review entries it contains.
package crawler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/review-crawler/internal/extract"
	"github.com/sells-group/review-crawler/internal/fetcher"
	"github.com/sells-group/review-crawler/internal/model"
)

// FailurePolicy decides what happens when a frontier URL is abandoned.
type FailurePolicy string

const (
	// PolicyAbort stops the crawl at the first abandoned URL.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip records the failure and moves on to the next URL.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy converts s into a FailurePolicy. An empty string selects
// PolicyAbort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", &model.ConfigError{Field: "crawl.failure_policy", Reason: "must be abort or skip, got " + s}
	}
}

// Options configures a Crawler.
type Options struct {
	Policy   FailurePolicy
	Observer Observer
	// Header is sent with every fetch.
	Header http.Header
	// Now is the crawl clock. Defaults to time.Now.
	Now func() time.Time
}

// Crawler fetches each frontier URL in order and extracts its entries.
// A Crawler holds no per-crawl state and may be reused sequentially.
type Crawler struct {
	fetcher   fetcher.PageFetcher
	extractor extract.Extractor
	opts      Options
}

// New returns a Crawler using f to retrieve pages and e to parse them.
func New(f fetcher.PageFetcher, e extract.Extractor, opts Options) *Crawler {
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Crawler{fetcher: f, extractor: e, opts: opts}
}

// Crawl visits seeds once each, in order, and returns every entry found.
//
// The result is always non-nil. A page's entries are appended only after
// the whole page was extracted, so a failed page contributes nothing.
// Under PolicyAbort the first abandoned URL stops the walk and its
// *fetcher.FetchError is returned with the partial result. Parse failures
// are recorded but never stop the walk. When ctx is canceled the current
// and remaining URLs are recorded as canceled and ctx.Err() is returned.
func (c *Crawler) Crawl(ctx context.Context, seeds []string) (*model.CrawlResult, error) {
	obs := c.opts.Observer
	result := &model.CrawlResult{
		ReviewURLs: []string{},
		StartedAt:  c.opts.Now().UTC(),
	}
	obs.CrawlStarted(seeds)

	finish := func() {
		result.Complete = len(result.Failures) == 0
		result.FinishedAt = c.opts.Now().UTC()
		obs.CrawlFinished(result)
	}

	for i, u := range seeds {
		if err := ctx.Err(); err != nil {
			c.cancelRemaining(result, seeds[i:], 0, err)
			finish()
			return result, err
		}

		page, err := c.fetcher.Fetch(ctx, u, c.opts.Header)
		if err != nil {
			attempts := 0
			var fe *fetcher.FetchError
			if errors.As(err, &fe) {
				attempts = fe.Attempts
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				c.cancelRemaining(result, seeds[i:], attempts, ctxErr)
				finish()
				return result, ctxErr
			}

			c.fail(result, model.PageFailure{
				URL:      u,
				Kind:     model.FailureNetwork,
				Attempts: attempts,
				Error:    err.Error(),
			})
			if c.opts.Policy == PolicyAbort {
				finish()
				return result, err
			}
			continue
		}
		obs.PageFetched(u, page)

		entries, err := c.extractor.Extract(bytes.NewReader(page.Body))
		if err != nil {
			c.fail(result, model.PageFailure{
				URL:      u,
				Kind:     model.FailureParse,
				Attempts: page.Attempts,
				Error:    err.Error(),
			})
			continue
		}

		result.ReviewURLs = append(result.ReviewURLs, entries...)
		result.Pages = append(result.Pages, model.PageOutcome{
			URL:        u,
			StatusCode: page.StatusCode,
			Attempts:   page.Attempts,
			Entries:    len(entries),
		})
		obs.PageExtracted(u, len(entries))
	}

	finish()
	return result, nil
}

func (c *Crawler) fail(result *model.CrawlResult, f model.PageFailure) {
	f.FailedAt = c.opts.Now().UTC()
	result.Failures = append(result.Failures, f)
	c.opts.Observer.PageFailed(f)
}

// cancelRemaining records every unvisited URL as canceled. attempts applies
// to the first URL only, which may have been in flight.
func (c *Crawler) cancelRemaining(result *model.CrawlResult, urls []string, attempts int, cause error) {
	msg := eris.Wrap(cause, "crawl canceled").Error()
	for i, u := range urls {
		f := model.PageFailure{URL: u, Kind: model.FailureCanceled, Error: msg}
		if i == 0 {
			f.Attempts = attempts
		}
		c.fail(result, f)
	}
	zap.L().Debug("crawler: canceled", zap.Int("unvisited", len(urls)))
}
