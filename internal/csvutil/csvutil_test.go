package csvutil

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBOMReaderStripsBOM(t *testing.T) {
	t.Parallel()

	r := NewBOMReader(strings.NewReader("\xEF\xBB\xBFid,keywords"))
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "id,keywords", string(out))
}

func TestNewBOMReaderPassthrough(t *testing.T) {
	t.Parallel()

	r := NewBOMReader(strings.NewReader("id,keywords"))
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "id,keywords", string(out))
}

func TestNewBOMReaderShortInput(t *testing.T) {
	t.Parallel()

	r := NewBOMReader(strings.NewReader("ab"))
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "ab", string(out))
}

func TestColumnIndex(t *testing.T) {
	t.Parallel()

	header := []string{"id", "title", "keywords"}
	require.Equal(t, 0, ColumnIndex(header, "id"))
	require.Equal(t, 2, ColumnIndex(header, "keywords"))
	require.Equal(t, -1, ColumnIndex(header, "absent"))
}
