// Package sink persists extracted records and failure logs.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/crawler"
)

// Header is the fixed column order of the primary output file.
var Header = []string{
	"Conference_ID", "Title", "Link", "Abstract", "Citation",
	"Authors", "Conference_Name", "Year", "Keywords",
	"View_Count", "Page_Count", "Authors_Map",
}

// utf8BOM matches the original output encoding so spreadsheet tools pick up
// UTF-8 for the Persian text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSink buffers records and appends them to a CSV file. The header row is
// written exactly once per output file: only when the file is new or empty,
// so restarting against the same target never repeats it. Records are
// deduplicated per (collection, url) within the run.
type CSVSink struct {
	mu        sync.Mutex
	path      string
	threshold int
	buffer    []crawler.ItemRecord
	seen      map[string]struct{}
	skip      map[string]struct{}
	onFlush   func(rows int)
	onBuffer  func(buffered int)
	logger    *zap.Logger
}

// CSVOption customizes a CSVSink.
type CSVOption func(*CSVSink)

// WithFlushCallback registers fn to observe each durable flush.
func WithFlushCallback(fn func(rows int)) CSVOption {
	return func(s *CSVSink) { s.onFlush = fn }
}

// WithBufferCallback registers fn to observe the buffer depth after every
// append and flush.
func WithBufferCallback(fn func(buffered int)) CSVOption {
	return func(s *CSVSink) { s.onBuffer = fn }
}

// WithDoneKeys seeds already-resolved item URLs; appends for them are
// silently dropped so a resumed run never duplicates prior output.
func WithDoneKeys(done map[string]struct{}) CSVOption {
	return func(s *CSVSink) { s.skip = done }
}

// NewCSVSink creates a sink writing to path, flushing whenever threshold
// records are buffered and once more on Close.
func NewCSVSink(path string, threshold int, logger *zap.Logger, opts ...CSVOption) (*CSVSink, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("flush threshold must be > 0")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CSVSink{
		path:      path,
		threshold: threshold,
		seen:      make(map[string]struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append buffers one record, flushing when the threshold is reached.
func (s *CSVSink) Append(record crawler.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(record.CollectionID) + "\x00" + record.URL
	if _, done := s.skip[record.URL]; done {
		return nil
	}
	if _, dup := s.seen[key]; dup {
		return nil
	}
	s.seen[key] = struct{}{}

	s.buffer = append(s.buffer, record)
	if s.onBuffer != nil {
		s.onBuffer(len(s.buffer))
	}
	if len(s.buffer) >= s.threshold {
		return s.flushLocked()
	}
	return nil
}

// Flush persists whatever is buffered regardless of size.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close performs the final flush.
func (s *CSVSink) Close() error {
	return s.Flush()
}

// Buffered reports the number of records not yet persisted.
func (s *CSVSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *CSVSink) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open output %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("write byte order mark: %w", err)
		}
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, record := range s.buffer {
		if err := w.Write(recordRow(record)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	rows := len(s.buffer)
	s.buffer = s.buffer[:0]
	if s.onFlush != nil {
		s.onFlush(rows)
	}
	if s.onBuffer != nil {
		s.onBuffer(0)
	}
	s.logger.Debug("flushed records", zap.Int("rows", rows), zap.String("path", s.path))
	return nil
}

func recordRow(r crawler.ItemRecord) []string {
	return []string{
		string(r.CollectionID),
		r.Title,
		r.URL,
		r.Abstract,
		r.Citation,
		r.Authors,
		r.CollectionName,
		r.Year,
		r.Keywords,
		r.ViewCount,
		r.PageCount,
		encodeAuthorsMap(r.AuthorNames, r.AuthorsMap),
	}
}
