package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores records in a SQLite database. Every process run is tagged
// with its own run ID so that histories from separate runs can be told apart.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// NewSQLiteSink opens (or creates) the SQLite database at path and ensures the schema exists
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite sink: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite sink: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: schema: %w", err)
	}
	return &SQLiteSink{db: db, runID: uuid.NewString()}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS latency_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    latency_ms REAL,
    failed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_latency_samples_endpoint
    ON latency_samples (endpoint, observed_at);`
	_, err := db.Exec(schema)
	return err
}

// Name returns the sink name used in metrics
func (s *SQLiteSink) Name() string {
	return "sqlite"
}

// RunID returns the identifier stamped on rows written by this sink
func (s *SQLiteSink) RunID() string {
	return s.runID
}

// Write inserts one row. observed_at is Unix milliseconds; latency_ms is NULL for failures.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	var latency sql.NullFloat64
	if !rec.Failed {
		latency = sql.NullFloat64{Float64: float64(rec.Latency) / float64(time.Millisecond), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO latency_samples (run_id, endpoint, observed_at, latency_ms, failed)
VALUES (?, ?, ?, ?, ?)`,
		s.runID,
		rec.Endpoint,
		rec.Timestamp.UTC().UnixMilli(),
		latency,
		boolToInt(rec.Failed),
	)
	if err != nil {
		return fmt.Errorf("sqlite sink: insert: %w", err)
	}
	return nil
}

// History returns up to limit of the most recent records for endpoint, oldest first
func (s *SQLiteSink) History(ctx context.Context, endpoint string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT observed_at, latency_ms, failed FROM (
    SELECT id, observed_at, latency_ms, failed
    FROM latency_samples
    WHERE endpoint = ?
    ORDER BY observed_at DESC, id DESC
    LIMIT ?
) ORDER BY observed_at ASC, id ASC`, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			observed int64
			latency  sql.NullFloat64
			failed   int
		)
		if err := rows.Scan(&observed, &latency, &failed); err != nil {
			return nil, fmt.Errorf("sqlite sink: scan: %w", err)
		}
		rec := Record{
			Timestamp: time.UnixMilli(observed).UTC(),
			Endpoint:  endpoint,
			Failed:    failed != 0,
		}
		if latency.Valid {
			rec.Latency = time.Duration(latency.Float64 * float64(time.Millisecond))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
