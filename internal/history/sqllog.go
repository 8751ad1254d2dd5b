package history

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/reading"
)

const readingsSchema = `CREATE TABLE IF NOT EXISTS readings (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	value     INTEGER NOT NULL
)`

// SQLLog stores one row per reading, so Append costs a single insert.
type SQLLog struct {
	db     *sql.DB
	logger *logrus.Logger
}

var _ Store = (*SQLLog)(nil)

// NewSQLLog uses db (sqlite3) for the readings table. The caller owns db.
func NewSQLLog(db *sql.DB, logger *logrus.Logger) *SQLLog {
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLLog{db: db, logger: logger}
}

// Load creates the readings table if it does not exist.
func (l *SQLLog) Load(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, readingsSchema); err != nil {
		return &kv.PersistenceError{Op: "migrate", Key: "readings", Err: err}
	}
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return &kv.PersistenceError{Op: "count", Key: "readings", Err: err}
	}
	l.logger.WithField("count", n).Debug("History loaded")
	return nil
}

func (l *SQLLog) Append(ctx context.Context, r reading.Reading) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO readings (timestamp, value) VALUES (?, ?)`, r.Timestamp, r.Value)
	if err != nil {
		return &kv.PersistenceError{Op: "append", Key: "readings", Err: err}
	}
	return nil
}

func (l *SQLLog) All(ctx context.Context) ([]reading.Reading, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT timestamp, value FROM readings ORDER BY id`)
	if err != nil {
		return nil, &kv.PersistenceError{Op: "query", Key: "readings", Err: err}
	}
	defer rows.Close()

	out := []reading.Reading{}
	for rows.Next() {
		var r reading.Reading
		if err := rows.Scan(&r.Timestamp, &r.Value); err != nil {
			return nil, &kv.PersistenceError{Op: "scan", Key: "readings", Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &kv.PersistenceError{Op: "query", Key: "readings", Err: err}
	}
	return out, nil
}

func (l *SQLLog) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM readings`); err != nil {
		return &kv.PersistenceError{Op: "clear", Key: "readings", Err: err}
	}
	return nil
}
