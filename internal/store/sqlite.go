package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	token        TEXT PRIMARY KEY,
	version      TEXT NOT NULL DEFAULT '',
	data         TEXT,
	product_slug TEXT NOT NULL DEFAULT '',
	submitted    INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);
`

// SQLite stores drafts in a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path. ":memory:" keeps it in
// memory for the life of the store.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store needs a database path")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, token string) (Draft, error) {
	var (
		d         Draft
		version   string
		data      sql.NullString
		submitted int
		updated   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, version, data, product_slug, submitted, updated_at FROM drafts WHERE token = ?`, token,
	).Scan(&d.Token, &version, &data, &d.ProductSlug, &submitted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}

	if version != "" {
		if d.Version, err = quest.ParseFormType(version); err != nil {
			return Draft{}, fmt.Errorf("get draft: %w", err)
		}
	}
	if data.Valid {
		d.Data = json.RawMessage(data.String)
	}
	d.Submitted = submitted != 0
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

func (s *SQLite) SetVersion(ctx context.Context, token string, v quest.FormType) error {
	return s.exec(ctx, "set version",
		`INSERT INTO drafts (token, version, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
		 WHERE drafts.submitted = 0`,
		token, string(v), s.now().UnixMilli())
}

func (s *SQLite) SaveData(ctx context.Context, token string, data json.RawMessage) error {
	return s.exec(ctx, "save draft",
		`INSERT INTO drafts (token, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		 WHERE drafts.submitted = 0`,
		token, string(data), s.now().UnixMilli())
}

func (s *SQLite) Submit(ctx context.Context, token, slug string, data json.RawMessage) error {
	return s.exec(ctx, "submit draft",
		`INSERT INTO drafts (token, data, product_slug, submitted, updated_at) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(token) DO UPDATE SET data = excluded.data, product_slug = excluded.product_slug,
		   submitted = 1, updated_at = excluded.updated_at
		 WHERE drafts.submitted = 0`,
		token, string(data), slug, s.now().UnixMilli())
}

// exec runs an upsert guarded by submitted = 0. No affected row means the
// draft was already submitted.
func (s *SQLite) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrSubmitted
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
