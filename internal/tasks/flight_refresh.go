// Package tasks contains the scheduled jobs that keep the cache warm: the
// per-category flight refresh, the analytics derivation refresh and the
// age-based cleanup sweep.
package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/cache"
	"flightboard/internal/database"
	"flightboard/internal/models"
	"flightboard/internal/provider"
)

// coarseTick is how often refresh tasks wake up to compare wall clock
// against their configured interval. Due-ness is never polled more often
// than this.
const coarseTick = time.Minute

// FlightRefresh keeps the flight_data category fresh for a fixed set of
// airports. Each run walks airport × direction, refreshes the keys whose
// configured interval has elapsed, and records the day's snapshot for
// historical analytics.
type FlightRefresh struct {
	manager      *cache.Manager
	client       *provider.Client
	gate         cache.Gate
	history      database.HistoryRepository
	clock        clockwork.Clock
	airports     []string
	fetchTimeout time.Duration
}

// NewFlightRefresh creates the scheduled flight-data refresh task
func NewFlightRefresh(manager *cache.Manager, client *provider.Client, gate cache.Gate,
	history database.HistoryRepository, clock clockwork.Clock, airports []string, fetchTimeout time.Duration) *FlightRefresh {
	return &FlightRefresh{
		manager:      manager,
		client:       client,
		gate:         gate,
		history:      history,
		clock:        clock,
		airports:     airports,
		fetchTimeout: fetchTimeout,
	}
}

func (t *FlightRefresh) Name() string { return "flight_refresh" }

func (t *FlightRefresh) Tick() time.Duration { return coarseTick }

// RunTimeout bounds a whole sweep over the airport set
func (t *FlightRefresh) RunTimeout() time.Duration {
	return time.Duration(len(t.airports)*2+1) * t.fetchTimeout
}

// Run refreshes every due (airport, direction) key. A failing key logs and
// moves on; one airport's outage never blocks the rest of the sweep.
func (t *FlightRefresh) Run(ctx context.Context) error {
	policy, ok := t.manager.Policy(models.CategoryFlightData)
	if !ok {
		slog.Warn("No policy for flight_data, skipping refresh")
		return nil
	}
	interval := time.Duration(policy.CronIntervalMinutes) * time.Minute
	now := t.clock.Now().UTC()

	for _, airport := range t.airports {
		for _, direction := range []models.FlightDirection{models.DirectionArrival, models.DirectionDeparture} {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := models.FlightCacheKey(airport, direction)
			if !t.due(key, interval, now) {
				continue
			}

			t.refreshOne(ctx, key, airport, direction)
		}
	}
	return nil
}

// due compares wall clock against the last refresh time for the key
func (t *FlightRefresh) due(key models.CacheKey, interval time.Duration, now time.Time) bool {
	entry, ok := t.manager.GetEntry(key)
	if !ok || !entry.Success {
		return true
	}
	return !now.Before(entry.CreatedAt.Add(interval))
}

func (t *FlightRefresh) refreshOne(ctx context.Context, key models.CacheKey, airport string, direction models.FlightDirection) {
	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	result := t.manager.Refresh(fetchCtx, key, cache.Gated(t.gate, t.fetcher(airport, direction)))
	if result.Message != "" {
		slog.Warn("Scheduled refresh degraded",
			"key", key.String(), "cached", result.Cached, "message", result.Message)
		return
	}
	slog.Debug("Scheduled refresh completed", "key", key.String(), "cached", result.Cached)
}

// fetcher builds the upstream fetch closure for one airport and direction.
// On success the snapshot is also upserted into flight history so analytics
// can be derived later without re-querying the provider.
func (t *FlightRefresh) fetcher(airport string, direction models.FlightDirection) cache.Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		snapshot, err := t.client.Fetch(ctx, airport, direction)
		if err != nil {
			return nil, err
		}

		if err := t.history.UpsertDay(snapshot); err != nil {
			// History is best-effort on the hot path; the cache payload
			// still gets written
			slog.Error("Failed to record historical snapshot",
				"airport", airport, "direction", direction, "error", err)
		}

		return json.Marshal(snapshot.Flights)
	}
}

// Fetcher exposes the fetch closure so on-demand callers (route handlers
// doing a cold read) reuse the exact same fetch-and-record path as the
// scheduled refresh.
func (t *FlightRefresh) Fetcher(airport string, direction models.FlightDirection) cache.Fetcher {
	return cache.Gated(t.gate, t.fetcher(airport, direction))
}

// FlightList serves one airport's flight list through the cache, shaped as
// the response envelope handed to route handlers. The result is always
// well-formed: failures set Success=false and carry a message alongside the
// best available data.
func (t *FlightRefresh) FlightList(ctx context.Context, airport string, direction models.FlightDirection) models.FlightListResponse {
	key := models.FlightCacheKey(airport, direction)
	result := t.manager.GetOrRefresh(ctx, key, t.Fetcher(airport, direction))

	resp := models.FlightListResponse{
		Data:        []models.FlightRecord{},
		Cached:      result.Cached,
		AirportCode: airport,
		Type:        string(direction),
		Message:     result.Message,
	}
	if result.Entry == nil {
		return resp
	}

	resp.LastUpdated = result.Entry.CreatedAt
	if !result.Entry.Success {
		return resp
	}

	if err := json.Unmarshal(result.Entry.Payload, &resp.Data); err != nil {
		slog.Error("Cached flight payload is unreadable", "key", key.String(), "error", err)
		resp.Data = []models.FlightRecord{}
		resp.Message = "cached payload is unreadable"
		return resp
	}
	resp.Success = true
	return resp
}
