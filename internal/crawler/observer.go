package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/review-crawler/internal/fetcher"
	"github.com/sells-group/review-crawler/internal/model"
)

// Observer receives progress events during a crawl. Implementations must
// not block for long; events are delivered on the crawl goroutine.
type Observer interface {
	CrawlStarted(seeds []string)
	RetryScheduled(url string, attempt int, delay time.Duration, err error)
	PageFetched(url string, page *fetcher.Page)
	PageExtracted(url string, entries int)
	PageFailed(f model.PageFailure)
	CrawlFinished(result *model.CrawlResult)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CrawlStarted([]string) {}
func (NopObserver) RetryScheduled(string, int, time.Duration, error) {}
func (NopObserver) PageFetched(string, *fetcher.Page) {}
func (NopObserver) PageExtracted(string, int) {}
func (NopObserver) PageFailed(model.PageFailure) {}
func (NopObserver) CrawlFinished(*model.CrawlResult) {}

// RunLog is an Observer that writes structured progress for one run to a
// dedicated file, teed with the process logger.
type RunLog struct {
	log  *zap.Logger
	file *os.File
	path string
}

// runLogTimeFormat sorts lexically in chronological order.
const runLogTimeFormat = "20060102-150405"

// OpenRunLog creates <dir>/<timestamp>-<name>.log. name should already be
// safe for use as a file name.
func OpenRunLog(dir, name string, now time.Time) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "runlog: create dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", now.UTC().Format(runLogTimeFormat), name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: open %s", path)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel)

	log := zap.New(zapcore.NewTee(zap.L().Core(), fileCore)).With(zap.String("run", name))
	return &RunLog{log: log, file: f, path: path}, nil
}

// NewRunLog wraps an existing logger without a backing file.
func NewRunLog(log *zap.Logger) *RunLog {
	return &RunLog{log: log}
}

// Path returns the log file path, or "" when the RunLog has no file.
func (r *RunLog) Path() string { return r.path }

func (r *RunLog) CrawlStarted(seeds []string) {
	r.log.Info("crawl started", zap.Int("seeds", len(seeds)), zap.Strings("urls", seeds))
}

func (r *RunLog) RetryScheduled(url string, attempt int, delay time.Duration, err error) {
	r.log.Warn("retry scheduled",
		zap.String("url", url),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

func (r *RunLog) PageFetched(url string, page *fetcher.Page) {
	r.log.Info("page fetched",
		zap.String("url", url),
		zap.Int("status", page.StatusCode),
		zap.Int("attempts", page.Attempts),
		zap.Int("bytes", len(page.Body)),
	)
}

func (r *RunLog) PageExtracted(url string, entries int) {
	r.log.Info("page extracted", zap.String("url", url), zap.Int("entries", entries))
}

func (r *RunLog) PageFailed(f model.PageFailure) {
	r.log.Error("page abandoned",
		zap.String("url", f.URL),
		zap.String("kind", string(f.Kind)),
		zap.Int("attempts", f.Attempts),
		zap.String("error", f.Error),
	)
}

func (r *RunLog) CrawlFinished(result *model.CrawlResult) {
	r.log.Info("crawl finished",
		zap.Int("entries", len(result.ReviewURLs)),
		zap.Int("pages", len(result.Pages)),
		zap.Int("failures", len(result.Failures)),
		zap.Bool("complete", result.Complete),
		zap.Duration("duration", result.Duration()),
	)
}

// Close flushes the logger and closes the backing file.
func (r *RunLog) Close() error {
	_ = r.log.Sync()
	if r.file == nil {
		return nil
	}
	if err := r.file.Close(); err != nil {
		return eris.Wrapf(err, "runlog: close %s", r.path)
	}
	return nil
}
