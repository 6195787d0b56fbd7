package sink

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/civicrawl/civicrawl/internal/crawler"
)

func TestPostgresSinkFlushesAtThreshold(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresSinkWithPool(mock, "papers", 2)
	require.NoError(t, err)

	rec := crawler.ItemRecord{
		CollectionID: "c1",
		Title:        "paper one",
		URL:          "https://example.com/doc/1",
		AuthorsMap:   map[string]string{"Ali": "Uni A"},
		AuthorNames:  []string{"Ali"},
	}
	rec2 := rec
	rec2.Title = "paper two"
	rec2.URL = "https://example.com/doc/2"

	mock.ExpectExec("INSERT INTO papers").
		WithArgs(
			"c1", rec.Title, rec.URL, "", "", "", "", "", "", "", "",
			[]byte(`{"Ali": "Uni A"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO papers").
		WithArgs(
			"c1", rec2.Title, rec2.URL, "", "", "", "", "", "", "", "",
			[]byte(`{"Ali": "Uni A"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// First append stays buffered; the second crosses the threshold.
	require.NoError(t, s.Append(rec))
	require.NoError(t, s.Append(rec2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkDeduplicates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresSinkWithPool(mock, "papers", 10)
	require.NoError(t, err)

	rec := crawler.ItemRecord{CollectionID: "c1", URL: "https://example.com/doc/1"}
	require.NoError(t, s.Append(rec))
	require.NoError(t, s.Append(rec))

	mock.ExpectExec("INSERT INTO papers").
		WithArgs(
			"c1", "", rec.URL, "", "", "", "", "", "", "", "",
			[]byte(`{}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Flush())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkDoneURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresSinkWithPool(mock, "papers", 10)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT link FROM papers").
		WillReturnRows(pgxmock.NewRows([]string{"link"}).
			AddRow("https://example.com/doc/1").
			AddRow("https://example.com/doc/2"))

	done, err := s.DoneURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, done, 2)
	require.Contains(t, done, "https://example.com/doc/1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSinkWithPool(mock, "papers; DROP TABLE papers", 10)
	require.Error(t, err)
}
