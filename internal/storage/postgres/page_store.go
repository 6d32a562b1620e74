// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// DefaultTable holds captured pages.
const DefaultTable = "all_data"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var pageColumns = []string{"Title", "URL", "Content", "Last_Ingested"}

// PageStoreConfig controls the Postgres connection pool used for page rows.
type PageStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// CreateSchema creates the table and URL index when missing.
	CreateSchema bool
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// PageStore reads and writes captured pages in Postgres. Every call acquires
// a pooled connection and releases it on return.
type PageStore struct {
	pool  querier
	table string
	sb    sq.StatementBuilderType
}

// NewPageStore creates a Postgres-backed PageStore and verifies connectivity.
func NewPageStore(ctx context.Context, cfg PageStoreConfig) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	store, err := NewPageStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.CreateSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(pool querier, table string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{
		pool:  pool,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// EnsureSchema creates the page table and its URL index if they do not exist.
func (s *PageStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	Title TEXT NOT NULL,
	URL TEXT NOT NULL,
	Content TEXT NOT NULL,
	Last_Ingested TIMESTAMPTZ NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_url_idx ON %s (URL)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// URLExists reports whether a row with exactly url exists.
func (s *PageStore) URLExists(ctx context.Context, url string) (bool, error) {
	query, args, err := s.sb.Select("URL").From(s.table).Where(sq.Eq{"URL": url}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}
	var found string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query url: %w", err)
	}
	return true, nil
}

// DistinctURLs streams every distinct URL to fn in batches of batchSize.
func (s *PageStore) DistinctURLs(ctx context.Context, batchSize int, fn func([]string) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	query, args, err := s.sb.Select("URL").Distinct().From(s.table).ToSql()
	if err != nil {
		return fmt.Errorf("build distinct query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query distinct urls: %w", err)
	}
	defer rows.Close()

	batch := make([]string, 0, batchSize)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return fmt.Errorf("scan url: %w", err)
		}
		batch = append(batch, url)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]string, 0, batchSize)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate distinct urls: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// InsertPage adds a new row and returns it as stored.
func (s *PageStore) InsertPage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	query, args, err := s.sb.Insert(s.table).
		Columns(pageColumns...).
		Values(page.Title, page.URL, page.Content, page.CapturedAt).
		Suffix("RETURNING Title, URL, Content, Last_Ingested").
		ToSql()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build insert: %w", err)
	}
	stored, err := scanPage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return stored, nil
}

// UpdatePage overwrites title, content and ingestion time for page.URL.
func (s *PageStore) UpdatePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	query, args, err := s.sb.Update(s.table).
		Set("Title", page.Title).
		Set("Content", page.Content).
		Set("Last_Ingested", page.CapturedAt).
		Where(sq.Eq{"URL": page.URL}).
		Suffix("RETURNING Title, URL, Content, Last_Ingested").
		ToSql()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build update: %w", err)
	}
	stored, err := scanPage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Page{}, crawler.ErrPageNotFound
		}
		return crawler.Page{}, fmt.Errorf("update page: %w", err)
	}
	return stored, nil
}

func scanPage(row pgx.Row) (crawler.Page, error) {
	var p crawler.Page
	if err := row.Scan(&p.Title, &p.URL, &p.Content, &p.CapturedAt); err != nil {
		return crawler.Page{}, err //nolint:wrapcheck // wrapped by callers
	}
	return p, nil
}
