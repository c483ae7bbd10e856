package database

import (
	"database/sql"
	"fmt"
)

// migration is one ordered schema change. Applied migrations are recorded in
// schema_migrations and never re-run.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 48)], err)
		}
	}
	return nil
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_cache_entries",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS cache_entries (
					category TEXT NOT NULL,
					identifier TEXT NOT NULL,
					payload TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					last_accessed_at TIMESTAMP NOT NULL,
					source TEXT NOT NULL,
					success INTEGER NOT NULL DEFAULT 1,
					PRIMARY KEY (category, identifier)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
			)
		},
	},
	{
		version: 2,
		name:    "create_cache_config",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS cache_config (
					category TEXT PRIMARY KEY,
					cron_interval_minutes INTEGER NOT NULL,
					max_age_days INTEGER NOT NULL,
					cache_until_next_run INTEGER NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL
				)`,
			)
		},
	},
	{
		version: 3,
		name:    "create_request_log",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS request_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TIMESTAMP NOT NULL,
					endpoint TEXT NOT NULL,
					method TEXT NOT NULL,
					http_status INTEGER NOT NULL,
					response_time_ms INTEGER NOT NULL,
					source TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_request_log_timestamp ON request_log(timestamp)`,
			)
		},
	},
	{
		version: 4,
		name:    "create_flight_history",
		apply: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS flight_history (
					airport_code TEXT NOT NULL,
					date DATE NOT NULL,
					direction TEXT NOT NULL,
					flights TEXT NOT NULL,
					flight_count INTEGER NOT NULL,
					stored_at TIMESTAMP NOT NULL,
					PRIMARY KEY (airport_code, date, direction)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_flight_history_airport_date ON flight_history(airport_code, date)`,
			)
		},
	},
}

// migrate applies pending migrations in order, each inside its own
// transaction together with its ledger row
func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}

	var current int
	if err := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration ledger: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version
func (d *DB) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
