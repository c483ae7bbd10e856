package cache

import (
	"context"
	"fmt"
	"log/slog"

	"flightboard/internal/models"
)

// policyBounds are the category-specific limits administrative updates must
// stay within
type policyBounds struct {
	minIntervalMinutes int
	maxIntervalMinutes int
	minMaxAgeDays      int
	maxMaxAgeDays      int
}

const minutesPerDay = 24 * 60

var boundsByCategory = map[models.Category]policyBounds{
	// Flight data refreshes between once a minute and once a day
	models.CategoryFlightData: {1, minutesPerDay, 1, 365},
	// Analytics derivation runs between daily and yearly
	models.CategoryAnalytics: {minutesPerDay, 365 * minutesPerDay, 1, 365},
	models.CategoryAircraft:  {1, 30 * minutesPerDay, 1, 365},
	models.CategoryWeather:   {1, minutesPerDay, 1, 365},
}

// validatePolicy checks one category's policy against its bounds
func validatePolicy(category models.Category, policy models.CachePolicy) error {
	if !category.Valid() {
		return &ValidationError{
			Field:   string(category),
			Message: "unknown cache category",
		}
	}

	bounds := boundsByCategory[category]
	if policy.CronIntervalMinutes < bounds.minIntervalMinutes || policy.CronIntervalMinutes > bounds.maxIntervalMinutes {
		return &ValidationError{
			Field: fmt.Sprintf("%s.cron_interval_minutes", category),
			Message: fmt.Sprintf("must be between %d and %d, got %d",
				bounds.minIntervalMinutes, bounds.maxIntervalMinutes, policy.CronIntervalMinutes),
		}
	}
	if policy.MaxAgeDays < bounds.minMaxAgeDays || policy.MaxAgeDays > bounds.maxMaxAgeDays {
		return &ValidationError{
			Field: fmt.Sprintf("%s.max_age_days", category),
			Message: fmt.Sprintf("must be between %d and %d, got %d",
				bounds.minMaxAgeDays, bounds.maxMaxAgeDays, policy.MaxAgeDays),
		}
	}
	return nil
}

// UpdateConfig validates and applies new per-category policies. Validation
// happens for the whole update before anything is written, and persistence
// plus in-memory application are atomic: a rejected update leaves the prior
// config untouched everywhere.
func (m *Manager) UpdateConfig(ctx context.Context, policies map[models.Category]models.CachePolicy) error {
	if len(policies) == 0 {
		return &ValidationError{Field: "config", Message: "no policies provided"}
	}

	for category, policy := range policies {
		if err := validatePolicy(category, policy); err != nil {
			return err
		}
	}

	if err := m.configs.UpsertAll(policies, m.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to persist config update: %w", err)
	}

	m.mu.Lock()
	for category, policy := range policies {
		m.policies[category] = policy
	}
	m.mu.Unlock()

	slog.Info("Cache config updated", "categories", len(policies))
	return nil
}
