package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/fetcher/headless"
	"github.com/civicrawl/civicrawl/internal/resolver"
)

// newResolveCmd creates and configures the 'resolve' subcommand.
func newResolveCmd() *cobra.Command {
	var startIndex, endIndex int

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolves redirecting URLs to their final location",
		Long: `Loads a CSV of URLs, follows each one through server- and
client-side redirects in a headless browser, and rewrites the rows with a
Final URL column. The full working set is snapshotted at a fixed interval so
an interrupted run picks up where it left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), startIndex, endIndex)
		},
	}
	cmd.Flags().IntVar(&startIndex, "start", -1, "input slice start (overrides config)")
	cmd.Flags().IntVar(&endIndex, "end", -1, "input slice end, exclusive (overrides config)")
	return cmd
}

func runResolve(parent context.Context, startFlag, endFlag int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	start := cfg.Crawl.StartIndex
	end := cfg.Crawl.EndIndex
	if startFlag >= 0 {
		start = startFlag
	}
	if endFlag >= 0 {
		end = endFlag
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browser, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("init headless browser: %w", err)
	}
	defer browser.Close()

	runner, err := resolver.New(resolver.Config{
		InputPath:  cfg.Resolve.InputPath,
		OutputPath: cfg.Resolve.OutputPath,
		URLColumn:  cfg.Resolve.URLColumn,
		StartIndex: start,
		EndIndex:   end,
		Workers:    cfg.Headless.MaxParallel,
		SaveEvery:  cfg.Resolve.SaveEvery,
	}, browser, logger.Named("resolve"))
	if err != nil {
		return err
	}

	stats, err := runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run resolve: %w", err)
	}
	logger.Info("resolve finished",
		zap.Int("resolved", stats.Resolved),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return nil
}
