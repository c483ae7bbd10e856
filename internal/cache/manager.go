// Package cache implements the multi-tier cache and refresh engine: an
// in-memory index backed by the persistent store, per-category refresh
// policies, and single-flight de-duplication of concurrent refreshes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"flightboard/internal/database"
	"flightboard/internal/models"
	"flightboard/internal/tracker"
)

// Fetcher produces a fresh payload for one cache key, usually by calling the
// upstream provider
type Fetcher func(ctx context.Context) (json.RawMessage, error)

// Gate is consulted before an upstream fetch is permitted. Satisfied by
// tracker.Tracker.
type Gate interface {
	Allow() error
}

// Gated wraps an upstream fetcher with the quota gate: when the gate refuses,
// the fetch never happens and the manager falls back to the last cached
// value. Derived computations that don't touch the provider stay ungated.
func Gated(gate Gate, fetcher Fetcher) Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		if err := gate.Allow(); err != nil {
			return nil, err
		}
		return fetcher(ctx)
	}
}

// Result is what callers of the refresh paths receive. It is always
// well-formed: on failure Entry carries the best available (possibly stale)
// data or a failure placeholder, and Message explains what went wrong.
type Result struct {
	Entry   *models.CacheEntry
	Cached  bool   // true when no upstream call was made for this result
	Message string // set when the refresh failed or was refused
}

// failureTTL bounds how long a failure placeholder is considered fresh, so
// a broken upstream is retried soon without hammering it on every read
const failureTTL = 5 * time.Minute

// Manager is the cache engine service object. All index mutations go through
// its lock; entries are replaced atomically, never mutated in place.
type Manager struct {
	mu       sync.RWMutex
	index    map[models.CacheKey]*models.CacheEntry
	policies map[models.Category]models.CachePolicy

	store      database.CacheRepository
	configs    database.ConfigRepository
	history    database.HistoryRepository
	clock      clockwork.Clock
	group      singleflight.Group
	defaults   map[models.Category]models.CachePolicy
	clearToken string

	initialized bool
}

// New creates an uninitialized Manager. clearToken guards the destructive
// clear-all operation and must be non-empty for it to ever succeed.
func New(store database.CacheRepository, configs database.ConfigRepository, history database.HistoryRepository,
	clock clockwork.Clock, defaults map[models.Category]models.CachePolicy, clearToken string) *Manager {
	return &Manager{
		index:      make(map[models.CacheKey]*models.CacheEntry),
		policies:   make(map[models.Category]models.CachePolicy),
		store:      store,
		configs:    configs,
		history:    history,
		clock:      clock,
		defaults:   defaults,
		clearToken: clearToken,
	}
}

// Initialize loads persisted policies and warms the in-memory index from the
// store. Idempotent: calling it again after success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	policies, err := m.configs.GetAll()
	if err != nil {
		return err
	}

	// Seed any category missing a persisted policy from the defaults
	missing := make(map[models.Category]models.CachePolicy)
	for category, policy := range m.defaults {
		if _, ok := policies[category]; !ok {
			policies[category] = policy
			missing[category] = policy
		}
	}
	if len(missing) > 0 {
		if err := m.configs.UpsertAll(missing, m.clock.Now().UTC()); err != nil {
			return err
		}
	}
	m.policies = policies

	entries, err := m.store.ListAll()
	if err != nil {
		// A broken store degrades to a cold in-memory cache, it does not
		// prevent startup
		slog.Error("Failed to warm cache index from store", "error", err)
	} else {
		for _, entry := range entries {
			m.index[entry.Key] = entry
		}
	}

	m.initialized = true
	slog.Info("Cache manager initialized",
		"warm_entries", len(m.index), "categories", len(m.policies))
	return nil
}

// GetCachedData is a pure read of the in-memory index. It returns the
// payload only for a present, unexpired, successful entry and never triggers
// an upstream call.
func (m *Manager) GetCachedData(key models.CacheKey) (json.RawMessage, bool) {
	now := m.clock.Now().UTC()

	m.mu.RLock()
	entry, ok := m.index[key]
	m.mu.RUnlock()

	if !ok || !entry.Success || entry.IsExpired(now) {
		return nil, false
	}

	m.touch(key, now)
	return entry.Payload, true
}

// GetEntry returns the live entry for a key regardless of expiry, for
// callers that want to serve stale data explicitly
func (m *Manager) GetEntry(key models.CacheKey) (*models.CacheEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.index[key]
	return entry, ok
}

// GetOrRefresh returns the cached value when fresh and otherwise refreshes
// it through the single-flight gate: concurrent callers for the same key
// share one upstream call. A failed refresh never evicts a still-valid
// previous entry; stale data is preferred over no data.
func (m *Manager) GetOrRefresh(ctx context.Context, key models.CacheKey, fetcher Fetcher) *Result {
	now := m.clock.Now().UTC()

	m.mu.RLock()
	entry, ok := m.index[key]
	m.mu.RUnlock()

	if ok && !entry.IsExpired(now) {
		if entry.Success {
			m.touch(key, now)
			return &Result{Entry: entry, Cached: true}
		}
		// A fresh failure placeholder defers the retry until failureTTL
		// lapses instead of hitting the dead upstream on every read
		return &Result{Entry: entry, Cached: true, Message: "upstream fetch recently failed, retry deferred"}
	}

	return m.refresh(ctx, key, fetcher, false, models.SourceLive)
}

// Refresh forces a fetch regardless of freshness, used by the scheduled
// per-category refresh. Runs under the single-flight gate.
func (m *Manager) Refresh(ctx context.Context, key models.CacheKey, fetcher Fetcher) *Result {
	return m.refresh(ctx, key, fetcher, true, models.SourceLive)
}

// ManualRefresh forces a fetch regardless of freshness on administrative
// request. It still runs under the single-flight gate so concurrent manual
// refreshes collapse into one.
func (m *Manager) ManualRefresh(ctx context.Context, key models.CacheKey, fetcher Fetcher) *Result {
	return m.refresh(ctx, key, fetcher, true, models.SourceManual)
}

func (m *Manager) refresh(ctx context.Context, key models.CacheKey, fetcher Fetcher, force bool, source models.EntrySource) *Result {
	v, _, shared := m.group.Do(key.String(), func() (any, error) {
		return m.doRefresh(ctx, key, fetcher, force, source), nil
	})

	result := v.(*Result)
	if shared {
		// Piggybacked callers did not trigger their own upstream call
		piggybacked := *result
		piggybacked.Cached = true
		return &piggybacked
	}
	return result
}

// doRefresh runs inside the single-flight group: at most one execution per
// key is in flight at any time.
func (m *Manager) doRefresh(ctx context.Context, key models.CacheKey, fetcher Fetcher, force bool, source models.EntrySource) *Result {
	now := m.clock.Now().UTC()

	m.mu.RLock()
	previous, hasPrevious := m.index[key]
	m.mu.RUnlock()

	// A caller that queued behind a completed refresh may find the entry
	// fresh already, or a fresh failure placeholder; don't fetch twice
	if !force && hasPrevious && !previous.IsExpired(now) {
		if previous.Success {
			return &Result{Entry: previous, Cached: true}
		}
		return &Result{Entry: previous, Cached: true, Message: "upstream fetch recently failed, retry deferred"}
	}

	payload, err := fetcher(ctx)
	fetchedAt := m.clock.Now().UTC()

	if err != nil {
		if errors.Is(err, tracker.ErrQuotaExceeded) {
			slog.Warn("Upstream fetch refused by quota gate", "key", key.String())
		} else {
			slog.Warn("Upstream fetch failed", "key", key.String(), "error", err)
		}
		if hasPrevious && previous.Success {
			// Serve the last good value, re-tagged as a fallback
			fallback := *previous
			fallback.Source = models.SourceFallback
			m.replace(&fallback, previous.CreatedAt)
			return &Result{Entry: &fallback, Cached: true, Message: err.Error()}
		}
		return &Result{Entry: m.storeFailure(key, fetchedAt), Message: err.Error()}
	}

	entry := &models.CacheEntry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      fetchedAt,
		ExpiresAt:      fetchedAt.Add(m.ttlFor(key.Category)),
		LastAccessedAt: fetchedAt,
		Source:         source,
		Success:        true,
	}

	if !m.replace(entry, time.Time{}) {
		// A fresher entry won the race; serve it instead of the late result
		m.mu.RLock()
		current := m.index[key]
		m.mu.RUnlock()
		return &Result{Entry: current, Cached: true}
	}

	if err := m.store.Upsert(entry); err != nil {
		// Storage failure degrades to memory-only operation
		slog.Error("Failed to persist cache entry", "key", key.String(), "error", err)
	}

	return &Result{Entry: entry}
}

// replace installs entry in the index unless a strictly newer entry is
// already present (compare-and-swap on CreatedAt). expectedCreatedAt may be
// zero to mean "install if not superseded".
func (m *Manager) replace(entry *models.CacheEntry, expectedCreatedAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.index[entry.Key]
	if ok && current.CreatedAt.After(entry.CreatedAt) {
		return false
	}
	if !expectedCreatedAt.IsZero() && ok && !current.CreatedAt.Equal(expectedCreatedAt) {
		return false
	}
	m.index[entry.Key] = entry
	return true
}

// storeFailure records a tagged failure placeholder so repeated reads of a
// dead key don't each trigger an upstream attempt
func (m *Manager) storeFailure(key models.CacheKey, now time.Time) *models.CacheEntry {
	entry := &models.CacheEntry{
		Key:            key,
		Payload:        json.RawMessage(`null`),
		CreatedAt:      now,
		ExpiresAt:      now.Add(failureTTL),
		LastAccessedAt: now,
		Source:         models.SourceFallback,
		Success:        false,
	}
	m.replace(entry, time.Time{})
	if err := m.store.Upsert(entry); err != nil {
		slog.Error("Failed to persist failure placeholder", "key", key.String(), "error", err)
	}
	return entry
}

func (m *Manager) touch(key models.CacheKey, now time.Time) {
	m.mu.Lock()
	if entry, ok := m.index[key]; ok {
		touched := *entry
		touched.LastAccessedAt = now
		m.index[key] = &touched
	}
	m.mu.Unlock()

	if err := m.store.TouchAccess(key, now); err != nil {
		slog.Debug("Failed to touch persisted entry", "key", key.String(), "error", err)
	}
}

// Evict removes one key from both tiers
func (m *Manager) Evict(key models.CacheKey) error {
	m.mu.Lock()
	delete(m.index, key)
	m.mu.Unlock()
	return m.store.DeleteKey(key)
}

func (m *Manager) ttlFor(category models.Category) time.Duration {
	m.mu.RLock()
	policy, ok := m.policies[category]
	m.mu.RUnlock()
	if !ok {
		return time.Hour
	}
	return policy.TTLFor()
}

// Policy returns the live policy for a category
func (m *Manager) Policy(category models.Category) (models.CachePolicy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	policy, ok := m.policies[category]
	return policy, ok
}
