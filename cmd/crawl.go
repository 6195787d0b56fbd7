package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/api"
	"github.com/civicrawl/civicrawl/internal/checkpoint"
	"github.com/civicrawl/civicrawl/internal/config"
	"github.com/civicrawl/civicrawl/internal/crawler"
	"github.com/civicrawl/civicrawl/internal/dataset"
	"github.com/civicrawl/civicrawl/internal/extract"
	collyfetcher "github.com/civicrawl/civicrawl/internal/fetcher/colly"
	"github.com/civicrawl/civicrawl/internal/metrics"
	"github.com/civicrawl/civicrawl/internal/policy/pacing"
	"github.com/civicrawl/civicrawl/internal/progress"
	"github.com/civicrawl/civicrawl/internal/sink"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var startIndex, endIndex int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls conference article listings and collects metadata",
		Long: `Walks the paginated article listing of every conference in the
configured slice of the dataset, fetches each article page, and appends the
extracted records to the output CSV. A resumed run against the same output
skips records that are already present.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), startIndex, endIndex)
		},
	}
	cmd.Flags().IntVar(&startIndex, "start", -1, "dataset slice start (overrides config)")
	cmd.Flags().IntVar(&endIndex, "end", -1, "dataset slice end, exclusive (overrides config)")
	return cmd
}

func runCrawl(parent context.Context, startFlag, endFlag int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if startFlag >= 0 {
		cfg.Crawl.StartIndex = startFlag
	}
	if endFlag >= 0 {
		cfg.Crawl.EndIndex = endFlag
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rows, err := dataset.Load(cfg.Site.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if cfg.Output.FilteredPath != "" {
		if err := dataset.WriteFiltered(cfg.Output.FilteredPath, rows); err != nil {
			logger.Warn("write filtered dataset failed", zap.Error(err))
		}
	}

	end := cfg.Crawl.EndIndex
	if end == 0 {
		end = len(rows)
	}
	if err := crawler.ValidateRange(cfg.Crawl.StartIndex, end); err != nil {
		return err
	}
	ids := dataset.Slice(rows, cfg.Crawl.StartIndex, end)
	logger.Info("dataset sliced",
		zap.Int("total", len(rows)),
		zap.Int("start", cfg.Crawl.StartIndex),
		zap.Int("end", end),
		zap.Int("selected", len(ids)),
	)

	m := metrics.New()
	tracker := progress.NewTracker(cfg.Crawl.LogEvery, logger)

	resultSink, done, closeSink, err := buildSink(ctx, cfg, m, tracker, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	extractor, err := extract.NewCivilica(cfg.Site.BaseURL)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	delayMin, delayMax := cfg.DelayRange()
	fetch := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.RequestTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, logger.Named("fetcher")).WithMetrics(m)

	pacer := pacing.New(pacing.Config{
		DelayMin: delayMin,
		DelayMax: delayMax,
	})

	failures := sink.NewFailureLog(cfg.Output.FailuresPath, logger.Named("failures"))

	orch := crawler.NewOrchestrator(
		crawler.RunConfig{
			StartIndex:     cfg.Crawl.StartIndex,
			EndIndex:       end,
			Workers:        cfg.Crawl.Workers,
			RequestTimeout: cfg.RequestTimeout(),
			MaxRetries:     cfg.HTTP.MaxRetries,
			DelayMin:       delayMin,
			DelayMax:       delayMax,
			FlushThreshold: cfg.Crawl.FlushThreshold,
			MaxPages:       cfg.Crawl.MaxPages,
		},
		crawler.ListingURL(cfg.Site.BaseURL),
		fetch,
		extractor,
		resultSink,
		failures,
		pacer,
		m,
		tracker,
		logger.Named("crawl"),
	)
	if done != nil {
		orch = orch.WithDoneKeys(done)
	}

	stopServer := startStatusServer(cfg, tracker, m, logger)
	defer stopServer()

	stats, err := orch.Run(ctx, ids)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl finished",
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return nil
}

// buildSink picks the Postgres sink when the DB is enabled, falling back to
// the CSV sink. Under the snapshot-resume policy it also returns the
// done-set of previously collected item URLs; the sink uses it to drop
// duplicate writes and the orchestrator to skip fetching them at all.
func buildSink(
	ctx context.Context,
	cfg config.Config,
	m *metrics.Metrics,
	tracker *progress.Tracker,
	logger *zap.Logger,
) (crawler.ResultSink, checkpoint.DoneSet, func(), error) {
	resume := cfg.Crawl.ResumePolicy == "snapshot-resume"

	if cfg.DB.Enabled {
		pgSink, err := sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:   cfg.DB.DSN,
			Table: cfg.DB.Table,
		}, cfg.Crawl.FlushThreshold)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres sink: %w", err)
		}
		var done checkpoint.DoneSet
		if resume {
			urls, err := pgSink.DoneURLs(ctx)
			if err != nil {
				logger.Warn("prior rows unreadable, resuming from scratch", zap.Error(err))
			}
			done = checkpoint.DoneSet(urls)
		}
		logger.Info("using postgres sink", zap.String("table", cfg.DB.Table))
		return pgSink, done, func() {
			if err := pgSink.Close(); err != nil {
				logger.Warn("postgres sink close failed", zap.Error(err))
			}
		}, nil
	}

	opts := []sink.CSVOption{
		sink.WithFlushCallback(func(rows int) {
			tracker.RecordsFlushed(rows)
			m.FlushesTotal.Inc()
		}),
		sink.WithBufferCallback(func(buffered int) {
			m.SetBufferedRecords(buffered)
		}),
	}
	var done checkpoint.DoneSet
	if resume {
		done = checkpoint.LoadDone(cfg.Output.ResultsPath, "Link", logger)
		opts = append(opts, sink.WithDoneKeys(done))
	}
	csvSink, err := sink.NewCSVSink(cfg.Output.ResultsPath, cfg.Crawl.FlushThreshold, logger.Named("sink"), opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init csv sink: %w", err)
	}
	logger.Info("using csv sink", zap.String("path", cfg.Output.ResultsPath))
	return csvSink, done, func() {
		if err := csvSink.Close(); err != nil {
			logger.Warn("csv sink close failed", zap.Error(err))
		}
	}, nil
}

// startStatusServer runs the status API when enabled and returns a shutdown
// func; disabled means both are no-ops.
func startStatusServer(cfg config.Config, tracker *progress.Tracker, m *metrics.Metrics, logger *zap.Logger) func() {
	if !cfg.Server.Enabled {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(tracker, m, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", zap.Error(err))
		}
	}
}
