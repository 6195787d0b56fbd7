package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/clock"
	"github.com/civicrawl/civicrawl/internal/clock/system"
	"github.com/civicrawl/civicrawl/internal/crawler"
	"github.com/civicrawl/civicrawl/internal/csvutil"
)

var failureHeader = []string{"conference_id", "url", "error", "at"}

// FailureLog accumulates permanent fetch failures in memory and merges them
// with any previously persisted log on Finalize, dropping exact-duplicate
// tuples so repeated runs stay idempotent.
type FailureLog struct {
	mu       sync.Mutex
	path     string
	clk      clock.Clock
	failures []crawler.FailureRecord
	logger   *zap.Logger
}

// NewFailureLog creates a log that finalizes to path.
func NewFailureLog(path string, logger *zap.Logger) *FailureLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailureLog{path: path, clk: system.New(), logger: logger}
}

// WithClock substitutes the timestamp source.
func (l *FailureLog) WithClock(c clock.Clock) *FailureLog {
	l.clk = c
	return l
}

// Record appends one failure. Duplicates are allowed here; dedup happens at
// merge time.
func (l *FailureLog) Record(failure crawler.FailureRecord) {
	if failure.At.IsZero() {
		failure.At = l.clk.Now()
	}
	l.mu.Lock()
	l.failures = append(l.failures, failure)
	l.mu.Unlock()
}

// Count returns the number of failures recorded this run.
func (l *FailureLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

// Path returns the finalize target.
func (l *FailureLog) Path() string {
	return l.path
}

// Finalize merges this run's failures with any existing log at the target
// path and rewrites the deduplicated union. With zero recorded failures and
// no prior log it writes nothing.
func (l *FailureLog) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prior, err := readFailures(l.path)
	if err != nil {
		return err
	}
	if len(prior) == 0 && len(l.failures) == 0 {
		return nil
	}

	merged := make([]crawler.FailureRecord, 0, len(prior)+len(l.failures))
	seen := make(map[string]struct{}, len(prior)+len(l.failures))
	for _, f := range append(prior, l.failures...) {
		key := f.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, f)
	}

	if err := writeFailures(l.path, merged); err != nil {
		return err
	}
	l.logger.Warn("failures persisted",
		zap.Int("run_failures", len(l.failures)),
		zap.Int("total", len(merged)),
		zap.String("path", l.path),
	)
	return nil
}

// readFailures loads a prior failure log. A missing file is not an error.
func readFailures(path string) ([]crawler.FailureRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open failure log %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(csvutil.NewBOMReader(f))
	r.FieldsPerRecord = -1

	var out []crawler.FailureRecord
	header := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read failure log %s: %w", path, err)
		}
		if header {
			header = false
			continue
		}
		if len(row) < 3 {
			continue
		}
		rec := crawler.FailureRecord{
			CollectionID: crawler.CollectionID(row[0]),
			URL:          row[1],
			Error:        row[2],
		}
		if len(row) > 3 {
			if at, err := time.Parse(time.RFC3339, row[3]); err == nil {
				rec.At = at
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func writeFailures(path string, failures []crawler.FailureRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create failure log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return fmt.Errorf("write byte order mark: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(failureHeader); err != nil {
		return fmt.Errorf("write failure header: %w", err)
	}
	for _, rec := range failures {
		at := ""
		if !rec.At.IsZero() {
			at = rec.At.UTC().Format(time.RFC3339)
		}
		row := []string{string(rec.CollectionID), rec.URL, rec.Error, at}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write failure row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush failure log: %w", err)
	}
	return nil
}
