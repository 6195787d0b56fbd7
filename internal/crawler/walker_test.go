package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/metrics"
	"github.com/civicrawl/civicrawl/internal/progress"
)

type fakeFetcher struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	err := f.errs[url]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []byte(url), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeExtractor keys listing contents by the fetched URL, which the fake
// fetcher echoes back as the page body.
type fakeExtractor struct {
	listings  map[string][]ItemRef
	fieldsErr map[string]error
	panicOn   string
}

func (e *fakeExtractor) ListingRefs(content []byte, _ CollectionID) ([]ItemRef, error) {
	url := string(content)
	if url == e.panicOn && e.panicOn != "" {
		panic("extractor exploded")
	}
	return e.listings[url], nil
}

func (e *fakeExtractor) ItemFields(content []byte, ref ItemRef, id CollectionID) (ItemRecord, error) {
	record := ItemRecord{CollectionID: id, URL: ref.URL, Title: ref.Title}
	if err := e.fieldsErr[ref.URL]; err != nil {
		return ItemRecord{CollectionID: id, URL: ref.URL}, err
	}
	_ = content
	return record, nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []ItemRecord
	flushes int
}

func (s *fakeSink) Append(record ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *fakeSink) Close() error { return s.Flush() }

func (s *fakeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeFailureLog struct {
	mu       sync.Mutex
	failures []FailureRecord
}

func (l *fakeFailureLog) Record(failure FailureRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, failure)
}

func (l *fakeFailureLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

func (l *fakeFailureLog) Finalize() error { return nil }

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) Wait(ctx context.Context, _ string) error {
	p.mu.Lock()
	p.waits++
	p.mu.Unlock()
	return ctx.Err()
}

func newTestWalker(t *testing.T, id CollectionID, fetch *fakeFetcher, ext *fakeExtractor, sink *fakeSink, failures *fakeFailureLog, maxPages int) *Walker {
	t.Helper()
	m := metrics.New()
	tracker := progress.NewTracker(0, zap.NewNop())
	processor := NewProcessor(fetch, ext, sink, failures, m, tracker, zap.NewNop())
	return NewWalker(
		id,
		ListingURL("https://example.com"),
		fetch,
		ext,
		processor,
		failures,
		&countingPacer{},
		maxPages,
		2,
		m,
		zap.NewNop(),
	)
}

func listingPage(id CollectionID, page int) string {
	return fmt.Sprintf("https://example.com/l/%s/pgn-%d/", id, page)
}

func TestListingURLFormat(t *testing.T) {
	t.Parallel()

	build := ListingURL("https://example.com/")
	require.Equal(t, "https://example.com/l/c42/pgn-7/", build("c42", 7))
}

func TestWalkerStopsOnEmptyListing(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	ext := &fakeExtractor{
		listings: map[string][]ItemRef{
			listingPage("c1", 1): {
				{Title: "a", URL: "https://example.com/doc/a"},
				{Title: "b", URL: "https://example.com/doc/b"},
			},
			listingPage("c1", 2): {
				{Title: "c", URL: "https://example.com/doc/c"},
			},
			// page 3 is absent, so the extractor reports no refs
		},
	}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}

	walker := newTestWalker(t, "c1", fetch, ext, sink, failures, 0)
	require.NoError(t, walker.Walk(context.Background()))

	// 3 listing pages + 3 item pages
	require.Equal(t, 6, fetch.callCount())
	require.Equal(t, 3, sink.len())
	require.Zero(t, failures.Count())
}

func TestWalkerRecordsListingFailure(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{
		errs: map[string]error{
			listingPage("c1", 1): errors.New("status 500"),
		},
	}
	ext := &fakeExtractor{}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}

	walker := newTestWalker(t, "c1", fetch, ext, sink, failures, 0)
	require.NoError(t, walker.Walk(context.Background()))

	require.Zero(t, sink.len())
	require.Equal(t, 1, failures.Count())
	require.Equal(t, listingPage("c1", 1), failures.failures[0].URL)
	require.Equal(t, CollectionID("c1"), failures.failures[0].CollectionID)
}

func TestWalkerMaxPagesBound(t *testing.T) {
	t.Parallel()

	// Every page claims more items, simulating a listing that never ends.
	listings := map[string][]ItemRef{}
	for page := 1; page <= 10; page++ {
		listings[listingPage("c1", page)] = []ItemRef{
			{Title: "x", URL: fmt.Sprintf("https://example.com/doc/p%d", page)},
		}
	}
	fetch := &fakeFetcher{}
	ext := &fakeExtractor{listings: listings}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}

	walker := newTestWalker(t, "c1", fetch, ext, sink, failures, 3)
	require.NoError(t, walker.Walk(context.Background()))

	// 3 listing fetches + 3 item fetches, pages 4+ never touched
	require.Equal(t, 6, fetch.callCount())
	require.Equal(t, 3, sink.len())
}

func TestWalkerItemFailureDoesNotStopPage(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{
		errs: map[string]error{
			"https://example.com/doc/b": errors.New("status 404"),
		},
	}
	ext := &fakeExtractor{
		listings: map[string][]ItemRef{
			listingPage("c1", 1): {
				{Title: "a", URL: "https://example.com/doc/a"},
				{Title: "b", URL: "https://example.com/doc/b"},
				{Title: "c", URL: "https://example.com/doc/c"},
			},
		},
	}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}

	walker := newTestWalker(t, "c1", fetch, ext, sink, failures, 0)
	require.NoError(t, walker.Walk(context.Background()))

	// Every discovered item is accounted for exactly once.
	require.Equal(t, 2, sink.len())
	require.Equal(t, 1, failures.Count())
}

func TestWalkerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch := &fakeFetcher{}
	walker := newTestWalker(t, "c1", fetch, &fakeExtractor{}, &fakeSink{}, &fakeFailureLog{}, 0)

	err := walker.Walk(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fetch.callCount())
}

type doneSet map[string]struct{}

func (d doneSet) Contains(key string) bool {
	_, ok := d[key]
	return ok
}

func TestProcessorSkipsPreviouslyCollectedItems(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	ext := &fakeExtractor{}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}
	done := doneSet{"https://example.com/doc/a": {}}
	processor := NewProcessor(fetch, ext, sink, failures, nil, nil, zap.NewNop()).WithDoneKeys(done)

	// An already-collected item is skipped before the fetch, not after.
	ref := ItemRef{Title: "a", URL: "https://example.com/doc/a"}
	require.NoError(t, processor.Process(context.Background(), ref, "c1"))
	require.Zero(t, fetch.callCount())
	require.Zero(t, sink.len())

	// A fresh item still goes through the full pipeline.
	ref = ItemRef{Title: "b", URL: "https://example.com/doc/b"}
	require.NoError(t, processor.Process(context.Background(), ref, "c1"))
	require.Equal(t, 1, fetch.callCount())
	require.Equal(t, 1, sink.len())
	require.Zero(t, failures.Count())
}

func TestProcessorPartialExtraction(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	ext := &fakeExtractor{
		fieldsErr: map[string]error{
			"https://example.com/doc/broken": errors.New("abstract container missing"),
		},
	}
	sink := &fakeSink{}
	failures := &fakeFailureLog{}
	processor := NewProcessor(fetch, ext, sink, failures, nil, nil, zap.NewNop())

	ref := ItemRef{Title: "broken", URL: "https://example.com/doc/broken"}
	require.NoError(t, processor.Process(context.Background(), ref, "c1"))

	// Extraction gaps still emit a record and never count as failures.
	require.Equal(t, 1, sink.len())
	require.Zero(t, failures.Count())
	require.Equal(t, "https://example.com/doc/broken", sink.records[0].URL)
	require.Empty(t, sink.records[0].Title)
}
