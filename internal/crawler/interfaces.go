package crawler

import (
	"context"
)

// Fetcher retrieves the raw content of a URL. Implementations retry
// transient failures internally; the error returned to the caller is
// permanent from the crawl's point of view.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns raw page content into domain values. Implementations may
// return partial or empty fields without reporting an error; only structural
// impossibility (nil content) should fail.
type Extractor interface {
	ListingRefs(content []byte, id CollectionID) ([]ItemRef, error)
	ItemFields(content []byte, ref ItemRef, id CollectionID) (ItemRecord, error)
}

// ResultSink buffers extracted records and persists them incrementally.
// Append may trigger a flush once the configured threshold is reached;
// Flush persists whatever is buffered regardless of size.
type ResultSink interface {
	Append(record ItemRecord) error
	Flush() error
	Close() error
}

// FailureLog accumulates fetch failures during a run and merges them with
// any previously persisted log on finalize.
type FailureLog interface {
	Record(failure FailureRecord)
	Count() int
	Finalize() error
}

// Pacer bounds the request rate between successive dispatches.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// DoneSet reports keys that were already resolved in a previous run.
type DoneSet interface {
	Contains(key string) bool
}
