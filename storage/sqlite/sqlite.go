// Package sqlite provides the durable SQLite backend for the governance
// plane: the memory table, the append-only audit log and the agent state
// table, all behind the same contracts the in-memory implementations
// satisfy. The audit log is keyed by a monotonically increasing sequence
// number and memory writes commit in the same transaction as their audit
// record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration options.
type Config struct {
	Path            string        // database file path, or ":memory:"
	BusyTimeout     time.Duration // SQLite busy timeout
	ConnMaxLifetime time.Duration // maximum connection lifetime
}

// DefaultConfig returns sensible defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		BusyTimeout:     5 * time.Second,
		ConnMaxLifetime: time.Hour,
	}
}

// DB wraps the SQLite connection shared by the adapter, ledger and state
// store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a connection with default configuration.
func Open(path string) (*DB, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig opens the database in WAL mode with foreign keys on and
// initializes the schema. A single writer connection serializes appends so
// audit sequence numbers are assigned without contention.
func OpenWithConfig(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and the shared
	// connection keeps :memory: databases from evaporating per-conn.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: cfg.Path}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Health verifies the connection is alive and queryable.
func (db *DB) Health(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory (
			memory_id   TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			content     TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			sensitivity TEXT NOT NULL,
			scope       TEXT NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			allow_read  INTEGER NOT NULL,
			allow_write INTEGER NOT NULL,
			provenance  TEXT,
			created_at  TEXT NOT NULL,
			expires_at  TEXT NOT NULL,
			created_by  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_agent_id ON memory(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_created_at ON memory(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_expires_at ON memory(expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_id       TEXT NOT NULL UNIQUE,
			timestamp      TEXT NOT NULL,
			agent_id       TEXT NOT NULL,
			request_id     TEXT,
			operation      TEXT NOT NULL,
			memory_id      TEXT,
			policy_version TEXT NOT NULL,
			decision       TEXT NOT NULL,
			reason         TEXT NOT NULL,
			actor_id       TEXT NOT NULL,
			metadata       TEXT,
			signature      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent_id ON audit_log(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(operation)`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			agent_id    TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			disabled_at TEXT,
			reason      TEXT,
			actor_id    TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
