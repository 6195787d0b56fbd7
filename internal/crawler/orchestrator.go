package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicrawl/civicrawl/internal/metrics"
	"github.com/civicrawl/civicrawl/internal/progress"
)

// ConfigError marks a fatal configuration problem detected before any work
// is scheduled.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// ValidateRange enforces the index-range invariant shared by both run modes.
func ValidateRange(start, end int) error {
	if start < 0 {
		return &ConfigError{Reason: fmt.Sprintf("start index %d must be >= 0", start)}
	}
	if end <= start {
		return &ConfigError{Reason: fmt.Sprintf("end index %d must be greater than start index %d", end, start)}
	}
	return nil
}

// Orchestrator fans pagination walks out across the collection set under a
// bounded worker budget and finalizes the shared sink and failure log once
// every walk has completed.
type Orchestrator struct {
	cfg        RunConfig
	listingURL func(CollectionID, int) string
	fetcher    Fetcher
	extractor  Extractor
	sink       ResultSink
	failures   FailureLog
	pacer      Pacer
	done       DoneSet
	metrics    *metrics.Metrics
	tracker    *progress.Tracker
	logger     *zap.Logger
}

// NewOrchestrator wires a crawl run.
func NewOrchestrator(
	cfg RunConfig,
	listingURL func(CollectionID, int) string,
	fetcher Fetcher,
	extractor Extractor,
	sink ResultSink,
	failures FailureLog,
	pacer Pacer,
	m *metrics.Metrics,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		listingURL: listingURL,
		fetcher:    fetcher,
		extractor:  extractor,
		sink:       sink,
		failures:   failures,
		pacer:      pacer,
		metrics:    m,
		tracker:    tracker,
		logger:     logger,
	}
}

// WithDoneKeys seeds item URLs collected by a previous run so resumed runs
// skip them without fetching.
func (o *Orchestrator) WithDoneKeys(done DoneSet) *Orchestrator {
	o.done = done
	return o
}

// Run walks every collection and returns the processed and failed counts.
// Failures inside one collection never affect its siblings; only context
// cancellation or a sink finalization error surfaces as the run error.
func (o *Orchestrator) Run(ctx context.Context, ids []CollectionID) (RunStats, error) {
	start := time.Now()
	if err := ValidateRange(o.cfg.StartIndex, o.cfg.EndIndex); err != nil {
		return RunStats{}, err
	}
	if o.cfg.Workers <= 0 {
		return RunStats{}, &ConfigError{Reason: "worker count must be > 0"}
	}

	o.logger.Info("crawl starting",
		zap.Int("collections", len(ids)),
		zap.Int("workers", o.cfg.Workers),
		zap.Int("start_index", o.cfg.StartIndex),
		zap.Int("end_index", o.cfg.EndIndex),
	)

	processor := NewProcessor(o.fetcher, o.extractor, o.sink, o.failures, o.metrics, o.tracker, o.logger)
	if o.done != nil {
		processor = processor.WithDoneKeys(o.done)
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for _, id := range ids {
		walker := NewWalker(
			id,
			o.listingURL,
			o.fetcher,
			o.extractor,
			processor,
			o.failures,
			o.pacer,
			o.cfg.MaxPages,
			o.cfg.Workers,
			o.metrics,
			o.logger,
		)
		g.Go(func() error {
			if o.metrics != nil {
				o.metrics.ActiveWalkers.Inc()
				defer o.metrics.ActiveWalkers.Dec()
			}
			return o.safeWalk(ctx, walker)
		})
	}
	walkErr := g.Wait()

	if err := o.sink.Flush(); err != nil {
		return o.stats(start), fmt.Errorf("final flush: %w", err)
	}
	if err := o.failures.Finalize(); err != nil {
		return o.stats(start), fmt.Errorf("finalize failure log: %w", err)
	}

	stats := o.stats(start)
	if o.tracker != nil {
		o.tracker.Summary(failurePath(o.failures))
	}
	if walkErr != nil && ctx.Err() != nil {
		return stats, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	return stats, walkErr
}

// safeWalk isolates a panicking walk so one misbehaving collection cannot
// take down the run.
func (o *Orchestrator) safeWalk(ctx context.Context, walker *Walker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("walker panic recovered",
				zap.String("collection", string(walker.id)),
				zap.Any("panic", r),
			)
			o.failures.Record(FailureRecord{
				CollectionID: walker.id,
				URL:          o.listingURL(walker.id, 1),
				Error:        fmt.Sprintf("panic: %v", r),
			})
			err = nil
		}
	}()
	return walker.Walk(ctx)
}

func (o *Orchestrator) stats(start time.Time) RunStats {
	processed := 0
	if o.tracker != nil {
		processed = o.tracker.Processed()
	}
	return RunStats{
		Processed: processed,
		Failed:    o.failures.Count(),
		Elapsed:   time.Since(start),
	}
}

func failurePath(l FailureLog) string {
	type pather interface {
		Path() string
	}
	if p, ok := l.(pather); ok {
		return p.Path()
	}
	return ""
}
