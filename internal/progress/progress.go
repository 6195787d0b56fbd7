// Package progress tracks run counters and emits periodic status reports.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/clock"
	"github.com/civicrawl/civicrawl/internal/clock/system"
	"github.com/civicrawl/civicrawl/internal/id"
	"github.com/civicrawl/civicrawl/internal/id/uuid"
)

// Tracker counts processed items, flushes and failures for one run and logs
// a progress line every LogEvery processed items. It is safe for concurrent
// use; all mutation is atomic.
type Tracker struct {
	runID     string
	clk       clock.Clock
	start     time.Time
	logEvery  int64
	logger    *zap.Logger
	processed atomic.Int64
	flushed   atomic.Int64
	failed    atomic.Int64
}

// Option customizes a Tracker.
type Option func(*options)

type options struct {
	clk   clock.Clock
	idGen id.Generator
}

// WithClock substitutes the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithIDGenerator substitutes the run ID source.
func WithIDGenerator(g id.Generator) Option {
	return func(o *options) { o.idGen = g }
}

// NewTracker starts tracking a run. logEvery <= 0 disables periodic reports.
func NewTracker(logEvery int, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		clk:   system.New(),
		idGen: uuid.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	runID, err := o.idGen.NewID()
	if err != nil {
		logger.Warn("run id generation failed", zap.Error(err))
		runID = "unknown"
	}
	return &Tracker{
		runID:    runID,
		clk:      o.clk,
		start:    o.clk.Now(),
		logEvery: int64(logEvery),
		logger:   logger,
	}
}

// RunID returns the identifier attached to this run's log lines.
func (t *Tracker) RunID() string {
	return t.runID
}

// ItemProcessed records one emitted record and maybe logs progress.
func (t *Tracker) ItemProcessed() {
	n := t.processed.Add(1)
	if t.logEvery > 0 && n%t.logEvery == 0 {
		t.logger.Info("progress",
			zap.String("run_id", t.runID),
			zap.Int64("processed", n),
			zap.Duration("elapsed", t.Elapsed().Round(time.Millisecond)),
		)
	}
}

// RecordsFlushed adds to the durable-row count.
func (t *Tracker) RecordsFlushed(n int) {
	t.flushed.Add(int64(n))
}

// Failure records one permanent failure.
func (t *Tracker) Failure() {
	t.failed.Add(1)
}

// Processed returns the current processed-item count.
func (t *Tracker) Processed() int {
	return int(t.processed.Load())
}

// Failed returns the current failure count.
func (t *Tracker) Failed() int {
	return int(t.failed.Load())
}

// Elapsed returns time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	return t.clk.Now().Sub(t.start)
}

// Summary logs the end-of-run counts.
func (t *Tracker) Summary(failureLogPath string) {
	fields := []zap.Field{
		zap.String("run_id", t.runID),
		zap.Int64("processed", t.processed.Load()),
		zap.Int64("flushed", t.flushed.Load()),
		zap.Int64("failed", t.failed.Load()),
		zap.Duration("elapsed", t.Elapsed().Round(time.Millisecond)),
	}
	if t.failed.Load() > 0 && failureLogPath != "" {
		fields = append(fields, zap.String("failure_log", failureLogPath))
	}
	t.logger.Info("run complete", fields...)
}
