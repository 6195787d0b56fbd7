package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/metrics"
	"github.com/civicrawl/civicrawl/internal/progress"
)

// Processor fetches one item page and extracts its record. A permanent
// fetch failure is logged to the failure log and the item yields nothing;
// extraction gaps degrade to empty fields and are never treated as failures.
type Processor struct {
	fetcher   Fetcher
	extractor Extractor
	sink      ResultSink
	failures  FailureLog
	done      DoneSet
	metrics   *metrics.Metrics
	tracker   *progress.Tracker
	logger    *zap.Logger
}

// NewProcessor wires the item pipeline.
func NewProcessor(
	fetcher Fetcher,
	extractor Extractor,
	sink ResultSink,
	failures FailureLog,
	m *metrics.Metrics,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetcher:   fetcher,
		extractor: extractor,
		sink:      sink,
		failures:  failures,
		metrics:   m,
		tracker:   tracker,
		logger:    logger,
	}
}

// WithDoneKeys seeds item URLs collected by a previous run. The processor
// skips them before any fetch is issued, so a resumed run spends requests
// only on items that are still missing from the output.
func (p *Processor) WithDoneKeys(done DoneSet) *Processor {
	p.done = done
	return p
}

// Process handles one discovered item. The returned error is reserved for
// context cancellation and sink write failures; fetch failures are recorded
// and absorbed so the collection's walk continues.
func (p *Processor) Process(ctx context.Context, ref ItemRef, id CollectionID) error {
	if p.done != nil && p.done.Contains(ref.URL) {
		p.logger.Debug("item already collected", zap.String("url", ref.URL))
		return nil
	}

	start := time.Now()
	content, err := p.fetcher.Fetch(ctx, ref.URL)
	if p.metrics != nil {
		p.metrics.ObserveFetch(time.Since(start))
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("process %s: %w", ref.URL, ctx.Err())
		}
		p.recordItemFailure(ref, id, err)
		return nil
	}

	record, err := p.extractor.ItemFields(content, ref, id)
	if err != nil {
		// Extraction problems are not failures; the record keeps its
		// defaults for whatever could not be parsed.
		p.logger.Debug("partial extraction", zap.String("url", ref.URL), zap.Error(err))
	}

	if err := p.sink.Append(record); err != nil {
		return fmt.Errorf("append record for %s: %w", ref.URL, err)
	}
	if p.metrics != nil {
		p.metrics.ItemsTotal.Inc()
	}
	if p.tracker != nil {
		p.tracker.ItemProcessed()
	}
	return nil
}

func (p *Processor) recordItemFailure(ref ItemRef, id CollectionID, err error) {
	if p.metrics != nil {
		p.metrics.FailuresTotal.WithLabelValues("item").Inc()
	}
	if p.tracker != nil {
		p.tracker.Failure()
	}
	p.logger.Error("item fetch failed",
		zap.String("url", ref.URL),
		zap.String("collection", string(id)),
		zap.Error(err),
	)
	p.failures.Record(FailureRecord{
		CollectionID: id,
		URL:          ref.URL,
		Error:        err.Error(),
	})
}
