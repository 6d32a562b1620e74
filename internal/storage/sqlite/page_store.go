// Package sqlite stores captured pages in a single SQLite file, for local
// runs without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// DefaultTable holds captured pages.
const DefaultTable = "all_data"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PageStore implements crawler.PageStore on SQLite. SQLite allows a single
// writer, so the pool is limited to one connection and callers serialize.
type PageStore struct {
	db    *sql.DB
	table string
	sb    sq.StatementBuilderType
}

// Open creates (if needed) and opens the database at path.
func Open(ctx context.Context, path, table string) (*PageStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &PageStore{
		db:    db,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PageStore) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		Title TEXT NOT NULL,
		URL TEXT NOT NULL,
		Content TEXT NOT NULL,
		Last_Ingested TEXT NOT NULL
	)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_url_idx ON %s (URL)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *PageStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// URLExists reports whether a row with exactly url exists.
func (s *PageStore) URLExists(ctx context.Context, url string) (bool, error) {
	query, args, err := s.sb.Select("URL").From(s.table).Where(sq.Eq{"URL": url}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}
	var found string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query url: %w", err)
	}
	return true, nil
}

// DistinctURLs streams every distinct URL to fn in batches of batchSize. The
// single connection stays busy until iteration ends, so fn must not call
// back into the store.
func (s *PageStore) DistinctURLs(ctx context.Context, batchSize int, fn func([]string) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	query, args, err := s.sb.Select("URL").Distinct().From(s.table).ToSql()
	if err != nil {
		return fmt.Errorf("build distinct query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query distinct urls: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
		Columns("Title", "URL", "Content", "Last_Ingested").
		Values(page.Title, page.URL, page.Content, formatTime(page.CapturedAt)).
		Suffix("RETURNING Title, URL, Content, Last_Ingested").
		ToSql()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build insert: %w", err)
	}
	stored, err := scanPage(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return stored, nil
}

// UpdatePage overwrites title, content and ingestion time of every row
// matching page.URL and returns the first updated row.
func (s *PageStore) UpdatePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	query, args, err := s.sb.Update(s.table).
		Set("Title", page.Title).
		Set("Content", page.Content).
		Set("Last_Ingested", formatTime(page.CapturedAt)).
		Where(sq.Eq{"URL": page.URL}).
		Suffix("RETURNING Title, URL, Content, Last_Ingested").
		ToSql()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build update: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("update page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		first crawler.Page
		seen  bool
	)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return crawler.Page{}, fmt.Errorf("update page: %w", err)
		}
		if !seen {
			first, seen = p, true
		}
	}
	if err := rows.Err(); err != nil {
		return crawler.Page{}, fmt.Errorf("update page: %w", err)
	}
	if !seen {
		return crawler.Page{}, crawler.ErrPageNotFound
	}
	return first, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (crawler.Page, error) {
	var (
		p        crawler.Page
		ingested string
	)
	if err := row.Scan(&p.Title, &p.URL, &p.Content, &ingested); err != nil {
		return crawler.Page{}, err //nolint:wrapcheck // wrapped by callers
	}
	t, err := time.Parse(time.RFC3339Nano, ingested)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse Last_Ingested %q: %w", ingested, err)
	}
	p.CapturedAt = t
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
