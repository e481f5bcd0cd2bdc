// Package data provides database connection and persistence for signals,
// experiments, orders, trades, and positions.
package data

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlx database connection.
type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection and runs migrations.
//
// Args:
//   - databasePath: Path to the SQLite database file
//
// Returns:
//   - *DB: Database wrapper
//   - error: Any error encountered
func NewDB(databasePath string) (*DB, error) {
	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("path", databasePath).Msg("Connected to database")

	wrapper := &DB{db}
	if err := wrapper.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return wrapper, nil
}

// Migrate runs database migrations to ensure schema is up to date.
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		event_timestamp DATETIME NOT NULL,
		fingerprint TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		processed BOOLEAN NOT NULL DEFAULT 0,
		processing_lock BOOLEAN NOT NULL DEFAULT 0,
		queued_until DATETIME,
		next_retry_at DATETIME,
		processing_attempts INTEGER NOT NULL DEFAULT 0,
		experiment_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signals_fingerprint_ts ON signals(fingerprint, event_timestamp);
	CREATE INDEX IF NOT EXISTS idx_signals_claimable ON signals(processing_lock, queued_until, next_retry_at, processed);

	CREATE TABLE IF NOT EXISTS webhook_events (
		request_id TEXT PRIMARY KEY,
		signal_id TEXT,
		status TEXT NOT NULL,
		symbol TEXT,
		direction TEXT,
		timeframe TEXT,
		error_message TEXT,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_events_created_at ON webhook_events(created_at);

	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		signal_id TEXT NOT NULL UNIQUE,
		variant TEXT NOT NULL,
		assignment_hash TEXT NOT NULL,
		split_percentage REAL NOT NULL,
		policy_version TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (signal_id) REFERENCES signals(id)
	);

	CREATE TABLE IF NOT EXISTS execution_policies (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		execution_mode TEXT NOT NULL,
		executed_engine TEXT,
		shadow_engine TEXT,
		reason TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		signal_id TEXT,
		engine TEXT,
		experiment_id TEXT,
		symbol TEXT NOT NULL,
		option_symbol TEXT NOT NULL,
		strike TEXT NOT NULL,
		expiration DATETIME NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		order_type TEXT NOT NULL DEFAULT 'paper',
		status TEXT NOT NULL DEFAULT 'pending_execution',
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_entry_unique
		ON orders(signal_id, engine, order_type) WHERE signal_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, order_type);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		fill_price TEXT NOT NULL,
		fill_quantity INTEGER NOT NULL,
		fill_timestamp DATETIME NOT NULL,
		engine TEXT,
		experiment_id TEXT,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		option_symbol TEXT NOT NULL,
		strike TEXT NOT NULL,
		expiration DATETIME NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		entry_timestamp DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		exit_reason TEXT,
		exit_timestamp DATETIME,
		realized_pnl TEXT,
		engine TEXT,
		experiment_id TEXT,
		entry_bias_snapshot TEXT,
		last_updated DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_option_symbol
		ON positions(option_symbol) WHERE status IN ('open', 'closing');

	CREATE TABLE IF NOT EXISTS shadow_positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		option_symbol TEXT NOT NULL,
		strike TEXT NOT NULL,
		expiration DATETIME NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		entry_timestamp DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		exit_reason TEXT,
		exit_timestamp DATETIME,
		realized_pnl TEXT,
		engine TEXT,
		experiment_id TEXT,
		last_updated DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shadow_trades (
		id TEXT PRIMARY KEY,
		shadow_position_id TEXT NOT NULL,
		fill_price TEXT NOT NULL,
		fill_quantity INTEGER NOT NULL,
		fill_timestamp DATETIME NOT NULL,
		FOREIGN KEY (shadow_position_id) REFERENCES shadow_positions(id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS exit_rules (
		id TEXT PRIMARY KEY,
		profit_target_percent REAL,
		stop_loss_percent REAL,
		max_hold_time_hours REAL,
		min_dte_exit INTEGER,
		enabled BOOLEAN NOT NULL DEFAULT 0
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Info().Msg("Database migrations complete")
	return nil
}
