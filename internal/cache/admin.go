package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flightboard/internal/models"
)

// CacheStats summarizes the in-memory index per category
func (m *Manager) CacheStats() []models.CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCategory := make(map[models.Category]*models.CacheStats)
	for key, entry := range m.index {
		s, ok := byCategory[key.Category]
		if !ok {
			s = &models.CacheStats{Category: key.Category}
			byCategory[key.Category] = s
		}
		s.Entries++
		created := entry.CreatedAt
		if s.Oldest == nil || created.Before(*s.Oldest) {
			t := created
			s.Oldest = &t
		}
		if s.Newest == nil || created.After(*s.Newest) {
			t := created
			s.Newest = &t
		}
	}

	stats := make([]models.CacheStats, 0, len(byCategory))
	for _, c := range models.Categories() {
		if s, ok := byCategory[c]; ok {
			stats = append(stats, *s)
		}
	}
	return stats
}

// PersistentCacheStats summarizes the store tier per category
func (m *Manager) PersistentCacheStats() ([]models.CacheStats, error) {
	return m.store.Stats()
}

// CleanExpired sweeps both tiers, removing entries older than each
// category's max age. Returns the number of persisted rows removed.
func (m *Manager) CleanExpired(ctx context.Context) (int64, error) {
	now := m.clock.Now().UTC()
	var removed int64

	m.mu.Lock()
	policies := make(map[models.Category]models.CachePolicy, len(m.policies))
	for category, policy := range m.policies {
		policies[category] = policy
	}
	for key, entry := range m.index {
		policy, ok := policies[key.Category]
		if !ok {
			continue
		}
		cutoff := now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
		if entry.CreatedAt.Before(cutoff) {
			delete(m.index, key)
		}
	}
	m.mu.Unlock()

	for category, policy := range policies {
		cutoff := now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
		n, err := m.store.DeleteExpired(category, cutoff)
		if err != nil {
			return removed, fmt.Errorf("cleanup sweep failed for %s: %w", category, err)
		}
		removed += n
	}

	if removed > 0 {
		slog.Info("Cleanup sweep removed expired entries", "removed", removed)
	}
	return removed, nil
}

// ClearCategory evicts everything in one category from both tiers
func (m *Manager) ClearCategory(ctx context.Context, category models.Category) (int64, error) {
	if !category.Valid() {
		return 0, &ValidationError{Field: string(category), Message: "unknown cache category"}
	}

	m.mu.Lock()
	for key := range m.index {
		if key.Category == category {
			delete(m.index, key)
		}
	}
	m.mu.Unlock()

	return m.store.DeleteCategory(category)
}

// ClearPersistent permanently deletes all cached entries and all historical
// flight snapshots. The confirmation token must match the configured one
// exactly; anything else is rejected before any row is touched.
func (m *Manager) ClearPersistent(ctx context.Context, confirmationToken string) (int64, error) {
	if m.clearToken == "" {
		return 0, &ValidationError{Field: "confirmation_token", Message: "destructive clear is not configured"}
	}
	if confirmationToken != m.clearToken {
		return 0, &ValidationError{Field: "confirmation_token", Message: "confirmation token mismatch"}
	}

	m.mu.Lock()
	m.index = make(map[models.CacheKey]*models.CacheEntry)
	m.mu.Unlock()

	entries, err := m.store.DeleteAll()
	if err != nil {
		return 0, err
	}
	snapshots, err := m.history.DeleteAll()
	if err != nil {
		return entries, err
	}

	slog.Warn("Persistent cache cleared", "cache_entries", entries, "snapshots", snapshots)
	return entries + snapshots, nil
}

// ClearAirport removes one airport's history and any cache entries keyed to it
func (m *Manager) ClearAirport(ctx context.Context, airportCode string) (int64, error) {
	airportCode = strings.ToUpper(strings.TrimSpace(airportCode))
	if airportCode == "" {
		return 0, &ValidationError{Field: "airport_code", Message: "airport code is required"}
	}

	// Drop matching keys under the lock, then delete the persisted rows
	// without holding it across disk I/O
	m.mu.Lock()
	var evicted []models.CacheKey
	for key := range m.index {
		if strings.HasPrefix(key.Identifier, airportCode+"_") {
			delete(m.index, key)
			evicted = append(evicted, key)
		}
	}
	m.mu.Unlock()

	for _, key := range evicted {
		if err := m.store.DeleteKey(key); err != nil {
			slog.Warn("Failed to delete persisted entry", "key", key.String(), "error", err)
		}
	}

	removed, err := m.history.DeleteAirport(airportCode)
	if err != nil {
		return 0, err
	}

	slog.Info("Cleared airport data", "airport", airportCode, "snapshots", removed)
	return removed, nil
}
