package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/review-crawler/internal/config"
	"github.com/sells-group/review-crawler/internal/model"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "review-crawler",
	Short: "Collect hotel review links from paginated listing pages",
	Long:  "Fetches a hotel's review listing pages with bounded exponential-backoff retry, extracts the review entries, and writes them to a listing file with optional snapshots and run history.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// Exit codes.
const (
	exitFailure    = 1
	exitConfig     = 2
	exitIncomplete = 3
)

// errIncomplete marks a run that finished without error but abandoned pages.
var errIncomplete = errors.New("crawl incomplete")

func exitCode(err error) int {
	var ce *model.ConfigError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ce):
		return exitConfig
	case errors.Is(err, errIncomplete):
		return exitIncomplete
	default:
		return exitFailure
	}
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
