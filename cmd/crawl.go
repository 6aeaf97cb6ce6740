package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/review-crawler/internal/model"
	"github.com/sells-group/review-crawler/internal/output"
	"github.com/sells-group/review-crawler/internal/pipeline"
)

const (
	snapshotStore = "store"
	snapshotLoad  = "load"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <city-id> <hotel-id> <name>",
	Short: "Crawl a hotel's review listing pages",
	Long: `Fetches the first --pages listing pages of a hotel, extracts the review
entries and writes them to <output.dir>/<name>-<key>.jsonl.

With --snapshot store the result is also saved as a snapshot. With
--snapshot load the listing is rewritten from a saved snapshot instead of
crawling.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hotel := model.Hotel{CityID: args[0], HotelID: args[1], Name: args[2]}
		pages, _ := cmd.Flags().GetInt("pages")
		mode, _ := cmd.Flags().GetString("snapshot")
		filename, _ := cmd.Flags().GetString("filename")
		policy, _ := cmd.Flags().GetString("policy")

		opts, err := crawlOptions(hotel, pages, mode, filename, policy)
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
		var outcome *pipeline.Outcome
		if mode == snapshotLoad {
			outcome, err = p.Load(ctx, opts.SnapshotName)
		} else {
			outcome, err = p.Run(ctx, hotel, opts)
		}
		if outcome != nil {
			printOutcome(os.Stdout, outcome)
		}
		if err != nil {
			return err
		}
		if outcome.Status == model.RunStatusIncomplete {
			return errIncomplete
		}
		return nil
	},
}

// crawlOptions validates the crawl flags and resolves the snapshot name.
func crawlOptions(hotel model.Hotel, pages int, mode, filename, policy string) (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{Pages: pages, Policy: policy}
	if pages < 1 {
		return opts, &model.ConfigError{Field: "pages", Reason: fmt.Sprintf("must be at least 1, got %d", pages)}
	}
	switch mode {
	case "":
		if filename != "" {
			return opts, &model.ConfigError{Field: "filename", Reason: "requires --snapshot"}
		}
	case snapshotStore, snapshotLoad:
		opts.SnapshotName = filename
		if opts.SnapshotName == "" {
			opts.SnapshotName = output.Slug(hotel.Name)
		}
	default:
		return opts, &model.ConfigError{Field: "snapshot", Reason: fmt.Sprintf("must be %q or %q, got %q", snapshotStore, snapshotLoad, mode)}
	}
	return opts, nil
}

// printOutcome writes a short human-readable summary of a run.
func printOutcome(w io.Writer, o *pipeline.Outcome) {
	_, _ = fmt.Fprintf(w, "hotel:    %s (%s)\n", o.Hotel.Name, o.Hotel.Key())
	_, _ = fmt.Fprintf(w, "status:   %s\n", o.Status)
	if o.RunID != "" {
		_, _ = fmt.Fprintf(w, "run:      %s\n", o.RunID)
	}
	if o.Result != nil {
		_, _ = fmt.Fprintf(w, "reviews:  %d\n", len(o.Result.ReviewURLs))
		_, _ = fmt.Fprintf(w, "failures: %d\n", len(o.Result.Failures))
		for _, f := range o.Result.Failures {
			_, _ = fmt.Fprintf(w, "  %s  %s  %s\n", f.Kind, f.URL, f.Error)
		}
	}
	if o.ListingPath != "" {
		_, _ = fmt.Fprintf(w, "listing:  %s\n", o.ListingPath)
	}
	if o.SnapshotPath != "" {
		_, _ = fmt.Fprintf(w, "snapshot: %s\n", o.SnapshotPath)
	}
	if o.LogPath != "" {
		_, _ = fmt.Fprintf(w, "log:      %s\n", o.LogPath)
	}
}

// runCrawl is the callback signature shared by batch and serve.
type runCrawl func(ctx context.Context, hotel model.Hotel, opts pipeline.RunOptions) (*pipeline.Outcome, error)

func init() {
	crawlCmd.Flags().Int("pages", 1, "number of listing pages to crawl")
	crawlCmd.Flags().String("snapshot", "", "snapshot mode: store or load")
	crawlCmd.Flags().String("filename", "", "snapshot name (default: slug of the hotel name)")
	crawlCmd.Flags().String("policy", "", "failure policy override: abort or skip")
	rootCmd.AddCommand(crawlCmd)
}
