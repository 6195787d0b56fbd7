package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCitationDetails(t *testing.T) {
	t.Parallel()

	d := parseCitationDetails(sampleCitation)
	require.Equal(t, "علی رضایی", d.Authors)
	require.Equal(t, "دومین کنفرانس ملی هوش مصنوعی", d.Collection)
	require.Equal(t, "1402", d.Year)
	require.Equal(t, "هوش مصنوعی، یادگیری ماشین", d.Keywords)
	require.Equal(t, "25", d.ViewCount)
	require.Equal(t, "12", d.PageCount)
}

func TestParseCitationDetailsEmpty(t *testing.T) {
	t.Parallel()

	d := parseCitationDetails("")
	require.Empty(t, d.Authors)
	require.Empty(t, d.Year)
}

func TestParseCitationDetailsPartial(t *testing.T) {
	t.Parallel()

	d := parseCitationDetails("این مقاله در سال 1399 ارائه شد")
	require.Equal(t, "1399", d.Year)
	require.Empty(t, d.Authors)
	require.Empty(t, d.Keywords)
	require.Empty(t, d.PageCount)
}
