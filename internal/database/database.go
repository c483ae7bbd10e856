package database

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite handle and exposes the store repositories
type DB struct {
	db *sql.DB
}

// New opens the database, applies performance pragmas and runs pending
// migrations. A migration failure is fatal: the store must not run with a
// partially-migrated schema.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize database: %w", err)
	}

	database := &DB{db: db}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return database, nil
}

// optimizeSQLite applies pragmas suited to a single long-running daemon
func optimizeSQLite(db *sql.DB) error {
	pragmas := []string{
		// WAL allows concurrent readers while the refresh path writes
		"PRAGMA journal_mode=WAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// CacheRepository returns the key-value cache table repository
func (d *DB) CacheRepository() CacheRepository {
	return &cacheRepository{db: d.db}
}

// ConfigRepository returns the per-category cache policy repository
func (d *DB) ConfigRepository() ConfigRepository {
	return &configRepository{db: d.db}
}

// RequestLogRepository returns the append-only request log repository
func (d *DB) RequestLogRepository() RequestLogRepository {
	return &requestLogRepository{db: d.db}
}

// HistoryRepository returns the day-partitioned flight history repository
func (d *DB) HistoryRepository() HistoryRepository {
	return &historyRepository{db: d.db}
}
