package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is a named partition of the cache with its own refresh policy
type Category string

const (
	CategoryFlightData Category = "flight_data"
	CategoryAnalytics  Category = "analytics"
	CategoryAircraft   Category = "aircraft"
	CategoryWeather    Category = "weather"
)

// Categories lists every known cache category
func Categories() []Category {
	return []Category{CategoryFlightData, CategoryAnalytics, CategoryAircraft, CategoryWeather}
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryFlightData, CategoryAnalytics, CategoryAircraft, CategoryWeather:
		return true
	}
	return false
}

// CacheKey identifies one cache slot: a category plus an identifier such as
// "OTP_arrivals" or a derived-analytics name
type CacheKey struct {
	Category   Category
	Identifier string
}

// String returns the persisted form of the key ("category:identifier")
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s", k.Category, k.Identifier)
}

// FlightCacheKey builds the conventional key for an airport's flight list
func FlightCacheKey(airportCode string, direction FlightDirection) CacheKey {
	return CacheKey{
		Category:   CategoryFlightData,
		Identifier: fmt.Sprintf("%s_%ss", airportCode, direction),
	}
}

// EntrySource records how a cache entry came to exist
type EntrySource string

const (
	SourceLive     EntrySource = "live"     // scheduled or on-demand upstream fetch
	SourceManual   EntrySource = "manual"   // administrative force refresh
	SourceFallback EntrySource = "fallback" // stale entry served after a failed refresh
)

// CacheEntry is one cached value. Payload is kept as raw JSON so the cache
// does not need to know the shape of what it stores.
type CacheEntry struct {
	Key            CacheKey
	Payload        json.RawMessage
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	Source         EntrySource
	Success        bool
}

// IsExpired reports whether the entry is logically stale at the given instant
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the remaining time until expiry, 0 if already expired
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CachePolicy is the per-category refresh policy. It is persisted in the
// cache_config table and mutated only through the administrative update path.
type CachePolicy struct {
	CronIntervalMinutes int  `json:"cron_interval_minutes"`
	MaxAgeDays          int  `json:"max_age_days"`
	CacheUntilNextRun   bool `json:"cache_until_next_run"`
}

// TTLFor returns the entry lifetime the policy implies
func (p CachePolicy) TTLFor() time.Duration {
	if p.CacheUntilNextRun {
		return time.Duration(p.CronIntervalMinutes) * time.Minute
	}
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

// CacheStats summarizes one tier of the cache for a category
type CacheStats struct {
	Category Category   `json:"category"`
	Entries  int        `json:"entries"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
}
