// Package resolver implements the redirect-resolution run mode: it follows
// each input URL through client-side redirects and snapshots the input rows
// plus a Final URL column at every checkpoint interval.
package resolver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicrawl/civicrawl/internal/crawler"
	"github.com/civicrawl/civicrawl/internal/csvutil"
)

// FinalURLColumn is the column appended to the snapshot output.
const FinalURLColumn = "Final URL"

// URLResolver resolves one URL to its final location.
type URLResolver interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// Config controls a resolve run.
type Config struct {
	InputPath  string
	OutputPath string
	URLColumn  string
	StartIndex int
	EndIndex   int
	Workers    int
	SaveEvery  int
}

// Stats summarizes a finished resolve run.
type Stats struct {
	Resolved int
	Skipped  int
	Failed   int
}

// Runner drives the resolve run.
type Runner struct {
	cfg      Config
	resolver URLResolver
	logger   *zap.Logger

	mu        sync.Mutex
	results   map[string]string
	completed int
}

// New builds a Runner.
func New(cfg Config, res URLResolver, logger *zap.Logger) (*Runner, error) {
	if cfg.URLColumn == "" {
		cfg.URLColumn = "website"
	}
	if cfg.Workers <= 0 {
		return nil, &crawler.ConfigError{Reason: "worker count must be > 0"}
	}
	if cfg.SaveEvery <= 0 {
		return nil, &crawler.ConfigError{Reason: "save interval must be > 0"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		resolver: res,
		logger:   logger,
		results:  map[string]string{},
	}, nil
}

// Run resolves every not-yet-done URL in the sliced input range. The whole
// working set, previously resolved rows included, is rewritten as a full
// snapshot every SaveEvery completions and once more at the end.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	header, rows, urlIdx, err := r.loadInput()
	if err != nil {
		return Stats{}, err
	}

	end := r.cfg.EndIndex
	if end <= 0 || end > len(rows) {
		end = len(rows)
	}
	if len(rows) > 0 {
		if err := crawler.ValidateRange(r.cfg.StartIndex, end); err != nil {
			return Stats{}, err
		}
	}
	if r.cfg.StartIndex < len(rows) {
		rows = rows[r.cfg.StartIndex:end]
	} else {
		rows = nil
	}

	r.seedFromPriorOutput()

	var pending []string
	seen := map[string]struct{}{}
	skipped := 0
	for _, row := range rows {
		url := row[urlIdx]
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		if _, done := r.results[url]; done {
			skipped++
			continue
		}
		pending = append(pending, url)
	}

	r.logger.Info("resolve starting",
		zap.Int("rows", len(rows)),
		zap.Int("pending", len(pending)),
		zap.Int("previously_done", skipped),
		zap.Int("workers", r.cfg.Workers),
	)

	failed := 0
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)
	for _, url := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("resolve canceled: %w", err)
			}
			final, err := r.resolver.Resolve(ctx, url)
			r.mu.Lock()
			if err != nil {
				r.logger.Warn("resolve failed", zap.String("url", url), zap.Error(err))
				failed++
				r.results[url] = ""
			} else {
				r.logger.Debug("resolved", zap.String("url", url), zap.String("final", final))
				r.results[url] = final
			}
			r.completed++
			completed := r.completed
			r.mu.Unlock()

			if completed%r.cfg.SaveEvery == 0 {
				if err := r.snapshot(header, rows, urlIdx); err != nil {
					return err
				}
				r.logger.Info("checkpoint saved", zap.Int("completed", completed))
			}
			return nil
		})
	}
	runErr := g.Wait()

	if err := r.snapshot(header, rows, urlIdx); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Resolved: len(pending) - failed,
		Skipped:  skipped,
		Failed:   failed,
	}
	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

func (r *Runner) loadInput() ([]string, [][]string, int, error) {
	f, err := os.Open(r.cfg.InputPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open input %s: %w", r.cfg.InputPath, err)
	}
	defer f.Close()

	cr := csv.NewReader(csvutil.NewBOMReader(f))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read input header: %w", err)
	}
	urlIdx := csvutil.ColumnIndex(header, r.cfg.URLColumn)
	if urlIdx < 0 {
		return nil, nil, 0, fmt.Errorf("column %q not found in %s", r.cfg.URLColumn, r.cfg.InputPath)
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("read input row: %w", err)
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	return header, rows, urlIdx, nil
}

// seedFromPriorOutput loads already-resolved pairs from an existing
// snapshot; absence or unreadability degrades to a fresh start.
func (r *Runner) seedFromPriorOutput() {
	f, err := os.Open(r.cfg.OutputPath)
	if err != nil {
		return
	}
	defer f.Close()

	cr := csv.NewReader(csvutil.NewBOMReader(f))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return
	}
	urlIdx := csvutil.ColumnIndex(header, r.cfg.URLColumn)
	finalIdx := csvutil.ColumnIndex(header, FinalURLColumn)
	if urlIdx < 0 || finalIdx < 0 {
		return
	}

	loaded := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return
		}
		if urlIdx >= len(row) || finalIdx >= len(row) {
			continue
		}
		if row[urlIdx] == "" || row[finalIdx] == "" {
			continue
		}
		r.results[row[urlIdx]] = row[finalIdx]
		loaded++
	}
	if loaded > 0 {
		r.logger.Info("loaded previously resolved results", zap.Int("count", loaded))
	}
}

// snapshot rewrites the entire working set plus the Final URL column.
func (r *Runner) snapshot(header []string, rows [][]string, urlIdx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Create(r.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", r.cfg.OutputPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	out := make([]string, 0, len(header)+1)
	out = append(out, header...)
	out = append(out, FinalURLColumn)
	if err := w.Write(out); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	for _, row := range rows {
		out = out[:0]
		out = append(out, row...)
		out = append(out, r.results[row[urlIdx]])
		if err := w.Write(out); err != nil {
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}
