package sink

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicrawl/civicrawl/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for record rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PgxPool is the subset of pgxpool.Pool the sink needs; pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresSink buffers records and batch-inserts them into Postgres at the
// flush threshold. It honors the same Append/Flush contract as CSVSink and
// doubles as the done-key source for resumed runs.
type PostgresSink struct {
	mu        sync.Mutex
	pool      PgxPool
	table     string
	threshold int
	buffer    []crawler.ItemRecord
	seen      map[string]struct{}
}

// NewPostgresSink connects a pool from cfg and returns the sink.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, threshold int) (*PostgresSink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresSinkWithPool(pool, cfg.Table, threshold)
}

// NewPostgresSinkWithPool constructs a sink from an existing pool
// (primarily for testing).
func NewPostgresSinkWithPool(pool PgxPool, table string, threshold int) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("flush threshold must be > 0")
	}
	return &PostgresSink{
		pool:      pool,
		table:     table,
		threshold: threshold,
		seen:      make(map[string]struct{}),
	}, nil
}

// Append buffers one record, flushing at the threshold.
func (s *PostgresSink) Append(record crawler.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(record.CollectionID) + "\x00" + record.URL
	if _, dup := s.seen[key]; dup {
		return nil
	}
	s.seen[key] = struct{}{}

	s.buffer = append(s.buffer, record)
	if len(s.buffer) >= s.threshold {
		return s.flushLocked()
	}
	return nil
}

// Flush inserts all buffered rows.
func (s *PostgresSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close flushes and releases the pool.
func (s *PostgresSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.pool.Close()
	return nil
}

// DoneURLs returns the item URLs already stored for resume-without-reprocessing.
func (s *PostgresSink) DoneURLs(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT link FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query done urls: %w", err)
	}
	defer rows.Close()

	done := make(map[string]struct{})
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan done url: %w", err)
		}
		done[link] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate done urls: %w", err)
	}
	return done, nil
}

func (s *PostgresSink) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	conference_id,
	title,
	link,
	abstract,
	citation,
	authors,
	conference_name,
	year,
	keywords,
	view_count,
	page_count,
	authors_map
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
) ON CONFLICT (link) DO NOTHING`, s.table)

	ctx := context.Background()
	for _, r := range s.buffer {
		args := []any{
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
			[]byte(encodeAuthorsMap(r.AuthorNames, r.AuthorsMap)),
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	s.buffer = s.buffer[:0]
	return nil
}
