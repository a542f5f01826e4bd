package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trading_assistant/internal/logger"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store owns every persisted entity: decisions, learning contexts, sentiment records,
// portfolio snapshots and settings.
type Store struct {
	db *sql.DB

	// learnMu is the single writer for learning context transitions.
	learnMu sync.Mutex
}

// Open creates the database file if needed and brings the schema up to date.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite is happiest with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations are applied in order; index+1 is the schema version they produce.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS decisions (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  decision_type TEXT NOT NULL,
  confidence REAL NOT NULL,
  rationale TEXT NOT NULL,
  price_target TEXT,
  risk_assessment TEXT NOT NULL DEFAULT '',
  sentiment_score REAL NOT NULL DEFAULT 0,
  source TEXT NOT NULL DEFAULT '',
  fallback_reason TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  executed_at TEXT,
  outcome_value TEXT,
  feedback TEXT,
  feedback_notes TEXT NOT NULL DEFAULT '',
  feedback_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_created ON decisions(symbol, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_feedback_at ON decisions(feedback_at);`,
		`CREATE TABLE IF NOT EXISTS learning_contexts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  version INTEGER NOT NULL UNIQUE,
  parameters TEXT NOT NULL,
  feedback_summary TEXT NOT NULL,
  performance_metrics TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS sentiment_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  score REAL NOT NULL,
  summary TEXT NOT NULL,
  source TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_key TEXT NOT NULL,
  cash TEXT NOT NULL,
  total_value TEXT NOT NULL,
  positions TEXT NOT NULL,
  taken_at TEXT NOT NULL
);`,
	},
	{
		// At most one active learning context, enforced by the database as well.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_learning_single_active ON learning_contexts(is_active) WHERE is_active = 1;`,
		`CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	},
	{
		// Set by the execution pass that owns the decision between preview and executed_at.
		`ALTER TABLE decisions ADD COLUMN claimed_at TEXT;`,
	},
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

// migrate walks the database forward one version at a time.
func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for v := current; v < len(migrations); v++ {
		logger.Infof("migrating database schema from %d to %d", v, v+1)
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: begin: %w", err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate to %d: %w", v+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate to %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate to %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to %d: commit: %w", v+1, err)
		}
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
