// Package pipeline runs a complete hotel crawl: it records the run, crawls
// the listing pages, writes the listing and optional snapshot, and closes
// the run record.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/review-crawler/internal/config"
	"github.com/sells-group/review-crawler/internal/crawler"
	"github.com/sells-group/review-crawler/internal/extract"
	"github.com/sells-group/review-crawler/internal/fetcher"
	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/output"
	"github.com/sells-group/review-crawler/internal/resilience"
	"github.com/sells-group/review-crawler/internal/store"
)

// RunOptions tunes a single run.
type RunOptions struct {
	// Pages is the number of listing pages to seed. Values below 1 mean 1.
	Pages int
	// Policy overrides crawl.failure_policy when set.
	Policy string
	// SnapshotName saves a snapshot under this name when set.
	SnapshotName string
}

// Outcome describes a finished run.
type Outcome struct {
	RunID        string             `json:"run_id,omitempty"`
	Hotel        model.Hotel        `json:"hotel"`
	Status       model.RunStatus    `json:"status"`
	Result       *model.CrawlResult `json:"result"`
	ListingPath  string             `json:"listing_path,omitempty"`
	SnapshotPath string             `json:"snapshot_path,omitempty"`
	LogPath      string             `json:"log_path,omitempty"`
}

// Pipeline orchestrates crawl runs. It is safe for concurrent use; every
// run builds its own fetcher and accumulator.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	now   func() time.Time
}

// New creates a Pipeline. st may be nil to disable run history.
func New(cfg *config.Config, st store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, now: time.Now}
}

// Run crawls hotel end to end. The returned Outcome is non-nil whenever the
// crawl started, including when an error is returned; callers should treat
// an Outcome whose Status is not complete as a failed run.
func (p *Pipeline) Run(ctx context.Context, hotel model.Hotel, opts RunOptions) (*Outcome, error) {
	log := zap.L().With(zap.String("hotel", hotel.Key()), zap.String("name", hotel.Name))

	if err := hotel.Validate(); err != nil {
		return nil, err
	}
	policyName := opts.Policy
	if policyName == "" {
		policyName = p.cfg.Crawl.FailurePolicy
	}
	policy, err := crawler.ParseFailurePolicy(policyName)
	if err != nil {
		return nil, err
	}
	if opts.SnapshotName != "" {
		if _, err := output.NewSnapshotStore(p.cfg.Snapshot.Dir).Path(opts.SnapshotName); err != nil {
			return nil, err
		}
	}

	seeds := hotel.SeedURLs(p.cfg.Crawl.BaseURL, opts.Pages, p.cfg.Crawl.PageSize)
	outcome := &Outcome{Hotel: hotel, Status: model.RunStatusRunning}

	if p.store != nil {
		run, err := p.store.CreateRun(ctx, hotel, seeds)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		outcome.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	started := p.now()
	runLog, err := crawler.OpenRunLog(p.cfg.Log.Dir, output.Slug(hotel.Name), started)
	if err != nil {
		log.Warn("pipeline: run log unavailable, using process logger", zap.Error(err))
		runLog = crawler.NewRunLog(log)
	}
	defer func() {
		if cerr := runLog.Close(); cerr != nil {
			log.Warn("pipeline: close run log", zap.Error(cerr))
		}
	}()
	outcome.LogPath = runLog.Path()

	fetchOpts := p.cfg.Crawl.FetchOptions()
	fetchOpts.OnRetry = runLog.RetryScheduled
	c := crawler.New(
		fetcher.NewHTTPFetcher(fetchOpts),
		extract.NewReviewExtractor(p.cfg.Extract.Selectors()),
		crawler.Options{Policy: policy, Observer: runLog},
	)

	log.Info("pipeline: crawl starting", zap.Int("seeds", len(seeds)), zap.String("policy", string(policy)))
	result, runErr := c.Crawl(ctx, seeds)
	outcome.Result = result
	if fetchOpts.Breakers != nil {
		for host, state := range fetchOpts.Breakers.States() {
			if state != resilience.CircuitClosed {
				log.Warn("pipeline: circuit breaker left open", zap.String("host", host), zap.Stringer("state", state))
			}
		}
	}

	// Persist whatever was collected even when the crawl was canceled.
	persistCtx := context.WithoutCancel(ctx)

	path, err := output.WriteListingFile(p.cfg.Output.Dir, hotel.Name, hotel.Key(), result.ReviewURLs)
	if err != nil {
		runErr = errors.Join(runErr, eris.Wrap(err, "pipeline: write listing"))
	} else {
		outcome.ListingPath = path
	}

	if opts.SnapshotName != "" {
		snap := output.NewSnapshot(hotel, seeds, result, p.now())
		path, err := output.NewSnapshotStore(p.cfg.Snapshot.Dir).Save(opts.SnapshotName, snap)
		if err != nil {
			runErr = errors.Join(runErr, eris.Wrap(err, "pipeline: save snapshot"))
		} else {
			outcome.SnapshotPath = path
		}
	}

	outcome.Status = model.StatusFor(result, runErr)
	if p.store != nil {
		if err := p.store.FinishRun(persistCtx, outcome.RunID, result, runErr); err != nil {
			log.Error("pipeline: failed to record run result", zap.Error(err))
			// Without entries the record is thin, but it must not stay running.
			if serr := p.store.UpdateRunStatus(persistCtx, outcome.RunID, outcome.Status); serr != nil {
				log.Error("pipeline: failed to close run record", zap.Error(serr))
			}
		}
	}

	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Int("entries", len(result.ReviewURLs)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", p.now().Sub(started)),
		zap.String("listing", outcome.ListingPath),
	}
	switch {
	case runErr != nil:
		log.Error("pipeline: run failed", append(fields, zap.Error(runErr))...)
	case outcome.Status != model.RunStatusComplete:
		for _, f := range result.Failures {
			log.Warn("pipeline: page abandoned", zap.String("url", f.URL), zap.String("kind", string(f.Kind)), zap.String("error", f.Error))
		}
		log.Warn("pipeline: run incomplete", fields...)
	default:
		log.Info("pipeline: run complete", fields...)
	}

	return outcome, runErr
}

// Load rewrites the listing from a saved snapshot without crawling.
func (p *Pipeline) Load(ctx context.Context, snapshotName string) (*Outcome, error) {
	snap, err := output.NewSnapshotStore(p.cfg.Snapshot.Dir).Load(snapshotName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := output.WriteListingFile(p.cfg.Output.Dir, snap.Hotel.Name, snap.Hotel.Key(), snap.ReviewURLs)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: write listing")
	}

	result := &model.CrawlResult{
		ReviewURLs: snap.ReviewURLs,
		Failures:   snap.Failures,
		Complete:   snap.Complete,
		StartedAt:  snap.CreatedAt,
		FinishedAt: snap.CreatedAt,
	}
	zap.L().Info("pipeline: listing restored from snapshot",
		zap.String("snapshot", snapshotName),
		zap.String("hotel", snap.Hotel.Key()),
		zap.Int("entries", len(snap.ReviewURLs)),
		zap.Bool("complete", snap.Complete),
	)
	return &Outcome{
		Hotel:       snap.Hotel,
		Status:      model.StatusFor(result, nil),
		Result:      result,
		ListingPath: path,
	}, nil
}
