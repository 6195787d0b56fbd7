// Package dataset loads collection identifiers from the tabular input file.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/civicrawl/civicrawl/internal/crawler"
	"github.com/civicrawl/civicrawl/internal/csvutil"
)

// Row is one eligible input row: an identifier plus its keyword list.
type Row struct {
	ID       string
	Keywords string
}

// Load reads the input CSV and returns the rows whose keywords column is
// non-empty, in file order. The file must carry `id` and `keywords` columns.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(csvutil.NewBOMReader(f))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}
	idIdx := csvutil.ColumnIndex(header, "id")
	kwIdx := csvutil.ColumnIndex(header, "keywords")
	if idIdx < 0 || kwIdx < 0 {
		return nil, fmt.Errorf("input %s must have id and keywords columns", path)
	}

	var rows []Row
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input row: %w", err)
		}
		if idIdx >= len(row) || kwIdx >= len(row) {
			continue
		}
		if row[kwIdx] == "" {
			continue
		}
		rows = append(rows, Row{ID: row[idIdx], Keywords: row[kwIdx]})
	}
	return rows, nil
}

// WriteFiltered persists the eligible {id, keywords} rows as a side artifact.
func WriteFiltered(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create filtered output %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "keywords"}); err != nil {
		return fmt.Errorf("write filtered header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row.ID, row.Keywords}); err != nil {
			return fmt.Errorf("write filtered row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush filtered output: %w", err)
	}
	return nil
}

// Slice applies the [start, end) index range to the eligible IDs. end past
// the end of the list is clamped; an empty result is not an error.
func Slice(rows []Row, start, end int) []crawler.CollectionID {
	if start < 0 {
		start = 0
	}
	if end > len(rows) || end < 0 {
		end = len(rows)
	}
	if start >= end {
		return nil
	}
	ids := make([]crawler.CollectionID, 0, end-start)
	for _, row := range rows[start:end] {
		ids = append(ids, crawler.CollectionID(row.ID))
	}
	return ids
}
