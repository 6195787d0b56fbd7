// Package csvutil holds small helpers shared by the CSV-reading subsystems.
package csvutil

import (
	"bufio"
	"io"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// NewBOMReader wraps r, transparently skipping a leading UTF-8 byte order
// mark if present. Output files are written with a BOM for spreadsheet
// compatibility, so every reader has to tolerate one.
func NewBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, err := br.Peek(3)
	if err == nil && head[0] == bom[0] && head[1] == bom[1] && head[2] == bom[2] {
		br.Discard(3)
	}
	return br
}

// ColumnIndex returns the index of name in header, or -1.
func ColumnIndex(header []string, name string) int {
	for i, col := range header {
		if col == name {
			return i
		}
	}
	return -1
}
