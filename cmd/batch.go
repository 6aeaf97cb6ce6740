package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/review-crawler/internal/config"
	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/pipeline"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Crawl every hotel listed in a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		file, _ := cmd.Flags().GetString("file")
		pages, _ := cmd.Flags().GetInt("pages")
		policy, _ := cmd.Flags().GetString("policy")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		snapshot, _ := cmd.Flags().GetBool("snapshot")

		if file == "" {
			return &model.ConfigError{Field: "file", Reason: "is required"}
		}
		if pages < 1 {
			return &model.ConfigError{Field: "pages", Reason: fmt.Sprintf("must be at least 1, got %d", pages)}
		}
		hotels, err := config.LoadHotels(file)
		if err != nil {
			return err
		}
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		p := pipeline.New(cfg, st)
		sum, err := processBatch(ctx, hotels, concurrency, pipeline.RunOptions{Pages: pages, Policy: policy}, snapshot, p.Run)
		if err != nil {
			return err
		}
		sum.write(os.Stdout)
		if sum.Failed > 0 {
			return eris.Errorf("batch: %d of %d hotels failed", sum.Failed, len(hotels))
		}
		if sum.Incomplete > 0 {
			return errIncomplete
		}
		return nil
	},
}

// batchSummary tallies hotel outcomes for one batch.
type batchSummary struct {
	Complete   int
	Incomplete int
	Failed     int
	Lines      []string
}

func (s *batchSummary) write(w io.Writer) {
	for _, l := range s.Lines {
		_, _ = fmt.Fprintln(w, l)
	}
	_, _ = fmt.Fprintf(w, "complete: %d  incomplete: %d  failed: %d\n", s.Complete, s.Incomplete, s.Failed)
}

// processBatch crawls hotels with at most concurrency runs in flight. A
// failed hotel never stops the rest of the batch; only cancellation does.
// Summary lines keep the input order.
func processBatch(ctx context.Context, hotels []model.Hotel, concurrency int, opts pipeline.RunOptions, snapshot bool, run runCrawl) (*batchSummary, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	zap.L().Info("processing batch",
		zap.Int("hotels", len(hotels)),
		zap.Int("concurrency", concurrency),
	)

	var (
		mu  sync.Mutex
		sum = &batchSummary{Lines: make([]string, len(hotels))}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, hotel := range hotels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hotelOpts := opts
			if snapshot {
				hotelOpts.SnapshotName = hotel.Key()
			}
			log := zap.L().With(zap.String("hotel", hotel.Key()))

			outcome, err := run(gctx, hotel, hotelOpts)
			status := model.StatusFor(nil, err)
			if outcome != nil && err == nil {
				status = outcome.Status
			}

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case model.RunStatusComplete:
				sum.Complete++
			case model.RunStatusIncomplete:
				sum.Incomplete++
			default:
				sum.Failed++
			}
			line := fmt.Sprintf("%-10s %s (%s)", status, hotel.Name, hotel.Key())
			if err != nil {
				log.Error("batch: crawl failed", zap.Error(err))
				line += ": " + err.Error()
			} else {
				log.Info("batch: crawl finished", zap.String("status", string(status)))
			}
			sum.Lines[i] = line
			return nil
		})
	}

	// Goroutines only fail on cancellation; the context error is returned as is.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("batch complete",
		zap.Int("complete", sum.Complete),
		zap.Int("incomplete", sum.Incomplete),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func init() {
	batchCmd.Flags().String("file", "hotels.yaml", "YAML file listing the hotels to crawl")
	batchCmd.Flags().Int("pages", 1, "number of listing pages to crawl per hotel")
	batchCmd.Flags().String("policy", "", "failure policy override: abort or skip")
	batchCmd.Flags().Int("concurrency", 1, "hotels crawled at the same time")
	batchCmd.Flags().Bool("snapshot", false, "save a snapshot per hotel, named by its key")
	rootCmd.AddCommand(batchCmd)
}
