package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngine implements Engine on a single SQLite database file — the
// fixed-location storage image the bootstrap sequencer points at.
type SQLiteEngine struct {
	db *sql.DB
}

// NewSQLiteEngine opens (or creates) the storage image at path.
func NewSQLiteEngine(path string) (*SQLiteEngine, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteEngine{db: db}, nil
}

func (s *SQLiteEngine) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS module_state (
		key         TEXT PRIMARY KEY,
		value       BLOB,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intercepts (
		id          TEXT PRIMARY KEY,
		timestamp   DATETIME NOT NULL,
		method      TEXT NOT NULL,
		url         TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		status_code INTEGER DEFAULT 0,
		latency_ms  INTEGER DEFAULT 0,
		error       TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_intercepts_timestamp ON intercepts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_intercepts_outcome ON intercepts(outcome);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteEngine) Close() error {
	return s.db.Close()
}

func (s *SQLiteEngine) Put(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO module_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Get returns the value for key, or nil with no error when the key is
// absent.
func (s *SQLiteEngine) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM module_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteEngine) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM module_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteEngine) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM module_state WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteEngine) RecordIntercept(rec *Intercept) error {
	_, err := s.db.Exec(`
		INSERT INTO intercepts (id, timestamp, method, url, outcome, status_code, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp, rec.Method, rec.URL, rec.Outcome,
		rec.StatusCode, rec.LatencyMs, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to record intercept %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteEngine) ListIntercepts(filter InterceptFilter) ([]*Intercept, int, error) {
	var conds []string
	args := []any{}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Method != "" {
		conds = append(conds, "method = ?")
		args = append(args, filter.Method)
	}
	if filter.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *filter.Since)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM intercepts "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count intercepts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(
		"SELECT id, timestamp, method, url, outcome, status_code, latency_ms, COALESCE(error, '') "+
			"FROM intercepts "+where+" ORDER BY timestamp DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list intercepts: %w", err)
	}
	defer rows.Close()

	var recs []*Intercept
	for rows.Next() {
		rec := &Intercept{}
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &rec.URL,
			&rec.Outcome, &rec.StatusCode, &rec.LatencyMs, &rec.Error); err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func (s *SQLiteEngine) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM intercepts WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune intercepts: %w", err)
	}
	return res.RowsAffected()
}

// escapeLike escapes LIKE metacharacters so a prefix behaves literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
