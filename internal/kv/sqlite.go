package kv

import (
	"context"
	"database/sql"
	"errors"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// SQLite is a Store backed by a single table in an embedded database file.
type SQLite struct {
	db     *sql.DB
	closes bool
}

// OpenSQLite opens (or creates) the database at path. Close closes the database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closes = true
	return s, nil
}

// OpenDB opens the sqlite3 database at path with settings suited to a single writer.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, &PersistenceError{Op: "open", Key: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// sqliteDSN builds a file: URI for path. The path is percent-escaped so that
// '?', '#' and '%' in a file name are not read as URI syntax.
func sqliteDSN(path string) string {
	u := url.URL{
		Scheme:   "file",
		Opaque:   url.PathEscape(path),
		RawQuery: "_busy_timeout=5000&_journal_mode=WAL",
	}
	return u.String()
}

// NewSQLite uses an existing handle and creates the kv table if needed.
// The caller keeps ownership of db.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		return nil, &PersistenceError{Op: "migrate", Key: "kv", Err: err}
	}
	return &SQLite{db: db}, nil
}

// DB exposes the handle so other tables can share the file.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Key: key, Err: err}
	}
	return v, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return &PersistenceError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return &PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *SQLite) Close() error {
	if !s.closes {
		return nil
	}
	return s.db.Close()
}
