package database

import (
	"database/sql"
	"fmt"
	"time"

	"flightboard/internal/models"
)

// ConfigRepository persists the per-category cache refresh policies. Policies
// are only written through the administrative update path, and a multi-policy
// update is applied in a single transaction so readers never observe a
// half-applied config.
type ConfigRepository interface {
	GetAll() (map[models.Category]models.CachePolicy, error)
	Get(category models.Category) (models.CachePolicy, error)
	UpsertAll(policies map[models.Category]models.CachePolicy, at time.Time) error
}

type configRepository struct {
	db *sql.DB
}

func (r *configRepository) GetAll() (map[models.Category]models.CachePolicy, error) {
	rows, err := r.db.Query(`SELECT category, cron_interval_minutes, max_age_days, cache_until_next_run
		FROM cache_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache config: %w", err)
	}
	defer rows.Close()

	policies := make(map[models.Category]models.CachePolicy)
	for rows.Next() {
		var category string
		var p models.CachePolicy
		if err := rows.Scan(&category, &p.CronIntervalMinutes, &p.MaxAgeDays, &p.CacheUntilNextRun); err != nil {
			return nil, fmt.Errorf("failed to scan cache config row: %w", err)
		}
		policies[models.Category(category)] = p
	}
	return policies, rows.Err()
}

func (r *configRepository) Get(category models.Category) (models.CachePolicy, error) {
	var p models.CachePolicy
	err := r.db.QueryRow(`SELECT cron_interval_minutes, max_age_days, cache_until_next_run
		FROM cache_config WHERE category = ?`, string(category)).
		Scan(&p.CronIntervalMinutes, &p.MaxAgeDays, &p.CacheUntilNextRun)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("failed to read cache config for %s: %w", category, err)
	}
	return p, nil
}

func (r *configRepository) UpsertAll(policies map[models.Category]models.CachePolicy, at time.Time) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin config update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO cache_config (
		category, cron_interval_minutes, max_age_days, cache_until_next_run, updated_at
	) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare config update: %w", err)
	}
	defer stmt.Close()

	for category, p := range policies {
		if _, err := stmt.Exec(string(category), p.CronIntervalMinutes, p.MaxAgeDays, p.CacheUntilNextRun, at); err != nil {
			return fmt.Errorf("failed to write config for %s: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config update: %w", err)
	}
	return nil
}
