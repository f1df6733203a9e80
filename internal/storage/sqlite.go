package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "actionqueue/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS journal (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	at        INTEGER NOT NULL,
	id        TEXT    NOT NULL,
	name      TEXT,
	mode      TEXT,
	outcome   TEXT    NOT NULL,
	enqueued  INTEGER NOT NULL,
	started   INTEGER,
	delay_ns  INTEGER NOT NULL DEFAULT 0,
	took_ns   INTEGER NOT NULL DEFAULT 0,
	err       TEXT,
	extra     TEXT
);
CREATE INDEX IF NOT EXISTS journal_at ON journal(at);
CREATE INDEX IF NOT EXISTS journal_name ON journal(name);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal(at, id, name, mode, outcome, enqueued, started, delay_ns, took_ns, err, extra)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UnixNano(), r.ID, nullStr(r.Name), nullStr(r.Mode), r.Outcome, r.Enqueued.UnixNano(),
		nullTime(r.Started), int64(r.Delay), int64(r.Took), nullStr(r.Error), nullStr(r.Extra),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, id, name, mode, outcome, enqueued, started, delay_ns, took_ns, err, extra
		 FROM (SELECT * FROM journal ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                       Record
			at, enq                 int64
			started                 sql.NullInt64
			delay, took             int64
			name, mode, msg, extras sql.NullString
		)
		if err := rows.Scan(&at, &r.ID, &name, &mode, &r.Outcome, &enq, &started, &delay, &took, &msg, &extras); err != nil {
			return nil, err
		}
		r.At = time.Unix(0, at)
		r.Enqueued = time.Unix(0, enq)
		if started.Valid {
			r.Started = time.Unix(0, started.Int64)
		}
		r.Delay, r.Took = time.Duration(delay), time.Duration(took)
		r.Name, r.Mode, r.Error, r.Extra = name.String, mode.String, msg.String, extras.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal WHERE at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Debug("journal pruned", logx.Int64("removed", n))
	}
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
