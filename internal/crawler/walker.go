package crawler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicrawl/civicrawl/internal/metrics"
)

// ListingURL returns the canonical listing-page URL builder for base.
func ListingURL(base string) func(CollectionID, int) string {
	base = strings.TrimRight(base, "/")
	return func(id CollectionID, page int) string {
		return fmt.Sprintf("%s/l/%s/pgn-%d/", base, id, page)
	}
}

// Walker drives one collection's pagination sequence. Pages are fetched in
// strictly increasing order starting at 1; the walk ends on the first empty
// listing (success), on a listing fetch failure (recorded, not fatal to the
// run), or at the MaxPages safety bound.
type Walker struct {
	id          CollectionID
	listingURL  func(CollectionID, int) string
	fetcher     Fetcher
	extractor   Extractor
	processor   *Processor
	failures    FailureLog
	pacer       Pacer
	maxPages    int
	itemWorkers int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewWalker builds a walker for one collection.
func NewWalker(
	id CollectionID,
	listingURL func(CollectionID, int) string,
	fetcher Fetcher,
	extractor Extractor,
	processor *Processor,
	failures FailureLog,
	pacer Pacer,
	maxPages int,
	itemWorkers int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Walker {
	if itemWorkers <= 0 {
		itemWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		id:          id,
		listingURL:  listingURL,
		fetcher:     fetcher,
		extractor:   extractor,
		processor:   processor,
		failures:    failures,
		pacer:       pacer,
		maxPages:    maxPages,
		itemWorkers: itemWorkers,
		metrics:     m,
		logger:      logger.With(zap.String("collection", string(id))),
	}
}

// Walk runs the pagination loop to completion. The only error it returns is
// context cancellation; every crawl-level failure is recorded and absorbed
// so sibling collections keep running.
func (w *Walker) Walk(ctx context.Context) error {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk %s: %w", w.id, err)
		}
		if w.maxPages > 0 && page > w.maxPages {
			w.logger.Warn("page safety bound reached", zap.Int("max_pages", w.maxPages))
			return nil
		}

		url := w.listingURL(w.id, page)
		content, err := w.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("walk %s: %w", w.id, ctx.Err())
			}
			w.recordListingFailure(url, err)
			return nil
		}

		refs, err := w.extractor.ListingRefs(content, w.id)
		if err != nil {
			w.recordListingFailure(url, err)
			return nil
		}
		if len(refs) == 0 {
			if w.metrics != nil {
				w.metrics.PagesTotal.WithLabelValues("empty").Inc()
			}
			w.logger.Debug("collection exhausted", zap.Int("pages", page-1))
			return nil
		}
		if w.metrics != nil {
			w.metrics.PagesTotal.WithLabelValues("ok").Inc()
		}

		if err := w.processPage(ctx, refs); err != nil {
			return err
		}
	}
}

// processPage dispatches the page's items under the item budget, pacing
// successive dispatches. It waits for the whole page before the walker
// advances, keeping page order strict.
func (w *Walker) processPage(ctx context.Context, refs []ItemRef) error {
	g := new(errgroup.Group)
	g.SetLimit(w.itemWorkers)

	for _, ref := range refs {
		if w.pacer != nil {
			if err := w.pacer.Wait(ctx, ref.URL); err != nil {
				return fmt.Errorf("walk %s: %w", w.id, err)
			}
		}
		g.Go(func() error {
			return w.processor.Process(ctx, ref, w.id)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("walk %s: %w", w.id, err)
	}
	return nil
}

func (w *Walker) recordListingFailure(url string, err error) {
	if w.metrics != nil {
		w.metrics.PagesTotal.WithLabelValues("failed").Inc()
		w.metrics.FailuresTotal.WithLabelValues("listing").Inc()
	}
	w.logger.Error("listing fetch failed", zap.String("url", url), zap.Error(err))
	w.failures.Record(FailureRecord{
		CollectionID: w.id,
		URL:          url,
		Error:        err.Error(),
	})
}
