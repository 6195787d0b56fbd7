package resolver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeURLResolver struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeURLResolver) Resolve(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	err := f.errs[url]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return url + "final", nil
}

func (f *fakeURLResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeInput(t *testing.T, dir string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, "input.csv")
	content := "name,website\n"
	for _, r := range rows {
		content += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func newRunner(t *testing.T, cfg Config, res URLResolver) *Runner {
	t.Helper()
	runner, err := New(cfg, res, zap.NewNop())
	require.NoError(t, err)
	return runner
}

func TestResolverAppendsFinalURLColumn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeInput(t, dir, "a,https://a.test", "b,https://b.test")
	output := filepath.Join(dir, "resolved.csv")

	runner := newRunner(t, Config{
		InputPath:  input,
		OutputPath: output,
		Workers:    2,
		SaveEvery:  10,
	}, &fakeURLResolver{})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Resolved)
	require.Zero(t, stats.Failed)

	rows := readOutput(t, output)
	require.Equal(t, []string{"name", "website", FinalURLColumn}, rows[0])
	require.Len(t, rows, 3)
	require.Equal(t, "https://a.testfinal", rows[1][2])
	require.Equal(t, "https://b.testfinal", rows[2][2])
}

func TestResolverSkipsAlreadyResolved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeInput(t, dir, "a,https://a.test", "b,https://b.test", "c,https://c.test")
	output := filepath.Join(dir, "resolved.csv")

	prior := "name,website,Final URL\n" +
		"a,https://a.test,https://a.testfinal\n" +
		"b,https://b.test,https://b.testfinal\n" +
		"c,https://c.test,\n"
	require.NoError(t, os.WriteFile(output, []byte(prior), 0o640))

	res := &fakeURLResolver{}
	runner := newRunner(t, Config{
		InputPath:  input,
		OutputPath: output,
		Workers:    1,
		SaveEvery:  10,
	}, res)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, 1, stats.Resolved)
	require.Equal(t, 1, res.callCount())
	require.Equal(t, "https://c.test", res.calls[0])

	// Previously resolved rows stay intact in the rewritten snapshot.
	rows := readOutput(t, output)
	require.Len(t, rows, 4)
	require.Equal(t, "https://a.testfinal", rows[1][2])
	require.Equal(t, "https://c.testfinal", rows[3][2])
}

func TestResolverFailureLeavesEmptyFinalURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeInput(t, dir, "a,https://a.test", "b,https://b.test")
	output := filepath.Join(dir, "resolved.csv")

	res := &fakeURLResolver{errs: map[string]error{
		"https://b.test": errors.New("navigation timeout"),
	}}
	runner := newRunner(t, Config{
		InputPath:  input,
		OutputPath: output,
		Workers:    1,
		SaveEvery:  10,
	}, res)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Resolved)
	require.Equal(t, 1, stats.Failed)

	rows := readOutput(t, output)
	require.Equal(t, "https://a.testfinal", rows[1][2])
	require.Empty(t, rows[2][2])
}

func TestResolverSlicesInputRange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := writeInput(t, dir, "a,https://a.test", "b,https://b.test", "c,https://c.test", "d,https://d.test")
	output := filepath.Join(dir, "resolved.csv")

	res := &fakeURLResolver{}
	runner := newRunner(t, Config{
		InputPath:  input,
		OutputPath: output,
		StartIndex: 1,
		EndIndex:   3,
		Workers:    1,
		SaveEvery:  10,
	}, res)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.callCount())

	// The snapshot covers only the sliced working set.
	rows := readOutput(t, output)
	require.Len(t, rows, 3)
	require.Equal(t, "b", rows[1][0])
	require.Equal(t, "c", rows[2][0])
}

func TestResolverConcurrentCheckpoints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var inputs []string
	for i := 0; i < 20; i++ {
		inputs = append(inputs, fmt.Sprintf("n%d,https://u%d.test", i, i))
	}
	input := writeInput(t, dir, inputs...)
	output := filepath.Join(dir, "resolved.csv")

	// SaveEvery 1 forces a snapshot per completion while 8 workers race on
	// the shared completion counter.
	res := &fakeURLResolver{}
	runner := newRunner(t, Config{
		InputPath:  input,
		OutputPath: output,
		Workers:    8,
		SaveEvery:  1,
	}, res)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, stats.Resolved)
	require.Zero(t, stats.Failed)
	require.Equal(t, 20, res.callCount())

	rows := readOutput(t, output)
	require.Len(t, rows, 21)
	for _, row := range rows[1:] {
		require.Equal(t, row[1]+"final", row[2])
	}
}

func TestResolverRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Workers: 0, SaveEvery: 10}, &fakeURLResolver{}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{Workers: 1, SaveEvery: 0}, &fakeURLResolver{}, zap.NewNop())
	require.Error(t, err)
}
