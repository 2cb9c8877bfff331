package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id  TEXT NOT NULL,
	started  TEXT NOT NULL,
	took_ms  INTEGER NOT NULL,
	attempt  INTEGER NOT NULL,
	timeout  INTEGER NOT NULL DEFAULT 0,
	err      TEXT
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started);
`

type Config struct {
	Path        string
	BusyTimeout time.Duration

	// MaxRecords bounds the table; older rows are pruned opportunistically.
	MaxRecords int
}

type sqliteStore struct {
	db         *sql.DB
	maxRecords int

	mu         sync.Mutex
	appends    uint64
	pruneEvery uint64
}

// OpenSQLite opens (creating if needed) a SQLite-backed run-history store.
func OpenSQLite(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
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

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = 5000
	}
	return &sqliteStore{db: db, maxRecords: maxRecords, pruneEvery: 500}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(task_id, started, took_ms, attempt, timeout, err)
		 VALUES(?,?,?,?,?,?)`,
		r.TaskID, r.Started.Format(time.RFC3339Nano), r.Duration.Milliseconds(),
		r.Attempt, boolInt(r.Timeout), nullStr(r.Error),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.appends++
	shouldPrune := s.appends%s.pruneEvery == 0
	s.mu.Unlock()

	if shouldPrune {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.prune(pctx)
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, started, took_ms, attempt, timeout, err
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			started string
			tookMS  int64
			timeout int
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.TaskID, &started, &tookMS, &r.Attempt, &timeout, &errStr); err != nil {
			return nil, err
		}
		if ts, perr := time.Parse(time.RFC3339Nano, started); perr == nil {
			r.Started = ts
		}
		r.Duration = time.Duration(tookMS) * time.Millisecond
		r.Timeout = timeout != 0
		if errStr.Valid {
			r.Error = errStr.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`,
		s.maxRecords)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
