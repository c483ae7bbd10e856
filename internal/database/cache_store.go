package database

import (
	"database/sql"
	"fmt"
	"time"

	"flightboard/internal/models"
)

// CacheRepository persists cache entries so the in-memory index survives
// restarts
type CacheRepository interface {
	Upsert(entry *models.CacheEntry) error
	Get(key models.CacheKey) (*models.CacheEntry, error)
	List(category models.Category) ([]*models.CacheEntry, error)
	ListAll() ([]*models.CacheEntry, error)
	TouchAccess(key models.CacheKey, at time.Time) error
	DeleteKey(key models.CacheKey) error
	DeleteCategory(category models.Category) (int64, error)
	DeleteExpired(category models.Category, cutoff time.Time) (int64, error)
	DeleteAll() (int64, error)
	Stats() ([]models.CacheStats, error)
}

type cacheRepository struct {
	db *sql.DB
}

func (r *cacheRepository) Upsert(entry *models.CacheEntry) error {
	query := `INSERT OR REPLACE INTO cache_entries (
		category, identifier, payload, created_at, expires_at, last_accessed_at, source, success
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(query,
		string(entry.Key.Category),
		entry.Key.Identifier,
		string(entry.Payload),
		entry.CreatedAt,
		entry.ExpiresAt,
		entry.LastAccessedAt,
		string(entry.Source),
		entry.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry %s: %w", entry.Key, err)
	}
	return nil
}

func (r *cacheRepository) Get(key models.CacheKey) (*models.CacheEntry, error) {
	row := r.db.QueryRow(`SELECT category, identifier, payload, created_at, expires_at,
		last_accessed_at, source, success
		FROM cache_entries WHERE category = ? AND identifier = ?`,
		string(key.Category), key.Identifier)

	entry, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return entry, nil
}

func (r *cacheRepository) List(category models.Category) ([]*models.CacheEntry, error) {
	rows, err := r.db.Query(`SELECT category, identifier, payload, created_at, expires_at,
		last_accessed_at, source, success
		FROM cache_entries WHERE category = ?`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries for %s: %w", category, err)
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

func (r *cacheRepository) ListAll() ([]*models.CacheEntry, error) {
	rows, err := r.db.Query(`SELECT category, identifier, payload, created_at, expires_at,
		last_accessed_at, source, success FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

func (r *cacheRepository) TouchAccess(key models.CacheKey, at time.Time) error {
	_, err := r.db.Exec(`UPDATE cache_entries SET last_accessed_at = ?
		WHERE category = ? AND identifier = ?`,
		at, string(key.Category), key.Identifier)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry %s: %w", key, err)
	}
	return nil
}

func (r *cacheRepository) DeleteKey(key models.CacheKey) error {
	_, err := r.db.Exec(`DELETE FROM cache_entries WHERE category = ? AND identifier = ?`,
		string(key.Category), key.Identifier)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

func (r *cacheRepository) DeleteCategory(category models.Category) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_entries WHERE category = ?`, string(category))
	if err != nil {
		return 0, fmt.Errorf("failed to clear category %s: %w", category, err)
	}
	return res.RowsAffected()
}

func (r *cacheRepository) DeleteExpired(category models.Category, cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_entries WHERE category = ? AND created_at < ?`,
		string(category), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep category %s: %w", category, err)
	}
	return res.RowsAffected()
}

func (r *cacheRepository) DeleteAll() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *cacheRepository) Stats() ([]models.CacheStats, error) {
	rows, err := r.db.Query(`SELECT category, COUNT(*), MIN(created_at), MAX(created_at)
		FROM cache_entries GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}
	defer rows.Close()

	var stats []models.CacheStats
	for rows.Next() {
		var s models.CacheStats
		var category string
		var oldest, newest sql.NullTime
		if err := rows.Scan(&category, &s.Entries, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		s.Category = models.Category(category)
		if oldest.Valid {
			s.Oldest = &oldest.Time
		}
		if newest.Valid {
			s.Newest = &newest.Time
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(row rowScanner) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	var category, payload, source string
	if err := row.Scan(&category, &entry.Key.Identifier, &payload,
		&entry.CreatedAt, &entry.ExpiresAt, &entry.LastAccessedAt,
		&source, &entry.Success); err != nil {
		return nil, err
	}
	entry.Key.Category = models.Category(category)
	entry.Payload = []byte(payload)
	entry.Source = models.EntrySource(source)
	return &entry, nil
}

func collectCacheEntries(rows *sql.Rows) ([]*models.CacheEntry, error) {
	var entries []*models.CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
