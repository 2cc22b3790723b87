// Package history provides the SQLite-backed run history store.
//
// Helmsman never persists extracted rules; callers own those. What it does
// keep is a diagnostic record per pipeline run (operation, fallback and
// degraded-repair flags, outcome, latency) so that degraded provider
// behavior is observable after the fact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quarterdeck/helmsman/internal/pipeline"
)

// DefaultDBPath is the default history database location.
const DefaultDBPath = "~/.helmsman/history.db"

// inputExcerptLen caps how much of the input text is stored per run.
const inputExcerptLen = 240

// Run is one recorded pipeline run.
type Run struct {
	ID             string
	Operation      string
	InputExcerpt   string
	FallbackUsed   bool
	RepairDegraded bool
	Valid          bool
	Issues         []string
	Model          string
	LatencyMS      int64
	Error          string
	CreatedAt      time.Time
}

// ListOpts controls filtering and pagination for List.
type ListOpts struct {
	Operation    string
	FailuresOnly bool
	Limit        int
	Offset       int
}

// Stats summarizes recorded runs.
type Stats struct {
	Total          int64
	Failed         int64
	FallbackUsed   int64
	RepairDegraded int64
}

// Store is the run history store.
type Store struct {
	db     *sql.DB
	dbPath string
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// NewStore opens (creating if needed) the history database.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			input_excerpt TEXT NOT NULL DEFAULT '',
			fallback_used INTEGER NOT NULL DEFAULT 0,
			repair_degraded INTEGER NOT NULL DEFAULT 0,
			valid INTEGER NOT NULL DEFAULT 0,
			issues TEXT NOT NULL DEFAULT '[]',
			model TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements pipeline.Recorder.
func (s *Store) Record(ctx context.Context, rec pipeline.RunRecord) error {
	issues := rec.Issues
	if issues == nil {
		issues = []string{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encoding issues: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, operation, input_excerpt, fallback_used, repair_degraded,
			valid, issues, model, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		rec.Operation,
		excerpt(rec.Input),
		boolInt(rec.FallbackUsed),
		boolInt(rec.RepairDegraded),
		boolInt(rec.Valid),
		string(issuesJSON),
		rec.Model,
		rec.Latency.Milliseconds(),
		rec.Err,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOpts) ([]*Run, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := `SELECT id, operation, input_excerpt, fallback_used, repair_degraded,
		valid, issues, model, latency_ms, error, created_at FROM runs`
	args := []any{}
	where := []string{}
	if strings.TrimSpace(opts.Operation) != "" {
		where = append(where, "operation = ?")
		args = append(args, opts.Operation)
	}
	if opts.FailuresOnly {
		where = append(where, "valid = 0")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r          Run
			fallback   int
			degraded   int
			valid      int
			issuesJSON string
			createdAt  string
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.InputExcerpt, &fallback, &degraded,
			&valid, &issuesJSON, &r.Model, &r.LatencyMS, &r.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.FallbackUsed = fallback != 0
		r.RepairDegraded = degraded != 0
		r.Valid = valid != 0
		if err := json.Unmarshal([]byte(issuesJSON), &r.Issues); err != nil {
			r.Issues = []string{}
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			r.CreatedAt = t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Stats returns aggregate counts over all recorded runs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN valid = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(fallback_used), 0),
			COALESCE(SUM(repair_degraded), 0)
		FROM runs`).Scan(&st.Total, &st.Failed, &st.FallbackUsed, &st.RepairDegraded)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &st, nil
}

// excerpt caps the stored input, backing up to a rune boundary so the row
// never holds torn UTF-8.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= inputExcerptLen {
		return s
	}
	cut := inputExcerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
