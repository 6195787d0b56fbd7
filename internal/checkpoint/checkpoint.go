// Package checkpoint derives the already-done key set from prior output so
// resumed runs skip work instead of repeating it.
package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/civicrawl/civicrawl/internal/csvutil"
)

// DoneSet is the set of keys resolved by an earlier run.
type DoneSet map[string]struct{}

// Contains reports whether key was already resolved.
func (d DoneSet) Contains(key string) bool {
	_, ok := d[key]
	return ok
}

// LoadDone reads prior output at path and returns the non-empty values of
// keyColumn. A missing or unreadable file degrades to an empty set: the
// caller simply reprocesses everything.
func LoadDone(path, keyColumn string, logger *zap.Logger) DoneSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := DoneSet{}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return done
	}
	if err != nil {
		logger.Warn("prior output unreadable, resuming from scratch",
			zap.String("path", path), zap.Error(err))
		return done
	}
	defer f.Close()

	keys, err := readColumn(f, keyColumn)
	if err != nil {
		logger.Warn("prior output unparsable, resuming from scratch",
			zap.String("path", path), zap.Error(err))
		return DoneSet{}
	}
	for _, k := range keys {
		done[k] = struct{}{}
	}
	if len(done) > 0 {
		logger.Info("loaded previously saved results",
			zap.Int("count", len(done)), zap.String("path", path))
	}
	return done
}

func readColumn(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(csvutil.NewBOMReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := csvutil.ColumnIndex(header, column)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", column)
	}

	var out []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx < len(row) && row[idx] != "" {
			out = append(out, row[idx])
		}
	}
	return out, nil
}
