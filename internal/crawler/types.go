// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// CollectionID identifies one paginated collection of items.
type CollectionID string

// ItemRef is a single item discovered on a listing page.
type ItemRef struct {
	Title string
	URL   string
}

// ItemRecord is the structured result extracted from one item page.
// All fields other than CollectionID, Title and URL may be empty when
// extraction is incomplete; AuthorNames preserves the order authors were
// seen on the page so output stays deterministic.
type ItemRecord struct {
	CollectionID   CollectionID
	Title          string
	URL            string
	Abstract       string
	Citation       string
	Authors        string
	CollectionName string
	Year           string
	Keywords       string
	ViewCount      string
	PageCount      string
	AuthorsMap     map[string]string
	AuthorNames    []string
}

// FailureRecord captures a fetch failure with enough context to retry later.
type FailureRecord struct {
	CollectionID CollectionID
	URL          string
	Error        string
	At           time.Time
}

// Key returns the tuple used for exact-duplicate removal at merge time.
func (f FailureRecord) Key() string {
	return string(f.CollectionID) + "\x00" + f.URL + "\x00" + f.Error
}

// RunConfig carries the validated knobs the orchestrator needs for one run.
type RunConfig struct {
	StartIndex     int
	EndIndex       int
	Workers        int
	RequestTimeout time.Duration
	MaxRetries     int
	DelayMin       time.Duration
	DelayMax       time.Duration
	FlushThreshold int
	MaxPages       int
}

// RunStats summarizes a finished crawl.
type RunStats struct {
	Processed int
	Failed    int
	Elapsed   time.Duration
}
