package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/cache"
	"flightboard/internal/database"
	"flightboard/internal/models"
)

// Deriver computes analytics from stored snapshots and caches the results
// under the analytics category so they are not recomputed on every read.
// No upstream calls are made, so derivations bypass the request quota.
type Deriver struct {
	history database.HistoryRepository
	manager *cache.Manager
	clock   clockwork.Clock
}

// NewDeriver creates the analytics derivation service
func NewDeriver(history database.HistoryRepository, manager *cache.Manager, clock clockwork.Clock) *Deriver {
	return &Deriver{history: history, manager: manager, clock: clock}
}

func routeStatsKey(airportCode string, periodDays int) models.CacheKey {
	return models.CacheKey{
		Category:   models.CategoryAnalytics,
		Identifier: fmt.Sprintf("%s_routes_%dd", airportCode, periodDays),
	}
}

func weeklyScheduleKey(airportCode string) models.CacheKey {
	return models.CacheKey{
		Category:   models.CategoryAnalytics,
		Identifier: fmt.Sprintf("%s_weekly_schedule", airportCode),
	}
}

func trendsKey(airportCode string, periodDays int) models.CacheKey {
	return models.CacheKey{
		Category:   models.CategoryAnalytics,
		Identifier: fmt.Sprintf("%s_trends_%dd", airportCode, periodDays),
	}
}

func (d *Deriver) routeStatsFetcher(airportCode string, periodDays int) cache.Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		snapshots, err := d.window(airportCode, periodDays, "")
		if err != nil {
			return nil, err
		}
		stats := ComputeRouteStats(snapshots, fmt.Sprintf("%dd", periodDays), d.clock.Now().UTC())
		return json.Marshal(stats)
	}
}

func (d *Deriver) weeklyScheduleFetcher(airportCode string) cache.Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		snapshots, err := d.window(airportCode, 28, models.DirectionDeparture)
		if err != nil {
			return nil, err
		}
		rows := ComputeWeeklySchedule(snapshots, "historical")
		return json.Marshal(rows)
	}
}

func (d *Deriver) trendsFetcher(airportCode string, periodDays int) cache.Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		snapshots, err := d.window(airportCode, periodDays, "")
		if err != nil {
			return nil, err
		}
		analysis := ComputeTrends(airportCode, snapshots, fmt.Sprintf("%dd", periodDays), d.clock.Now().UTC())
		return json.Marshal(analysis)
	}
}

// RouteStats returns cached route statistics for an airport over the past
// periodDays, deriving them from history on a cache miss
func (d *Deriver) RouteStats(ctx context.Context, airportCode string, periodDays int) ([]models.RouteStats, error) {
	result := d.manager.GetOrRefresh(ctx, routeStatsKey(airportCode, periodDays),
		d.routeStatsFetcher(airportCode, periodDays))

	var stats []models.RouteStats
	if err := decodeResult(result, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// WeeklySchedule returns the cached weekday operating pattern for an
// airport's departures, derived from the past 28 days of snapshots
func (d *Deriver) WeeklySchedule(ctx context.Context, airportCode string) ([]models.WeeklyScheduleRow, error) {
	result := d.manager.GetOrRefresh(ctx, weeklyScheduleKey(airportCode),
		d.weeklyScheduleFetcher(airportCode))

	var rows []models.WeeklyScheduleRow
	if err := decodeResult(result, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Trends returns the cached traffic/delay trend for an airport over the past
// periodDays
func (d *Deriver) Trends(ctx context.Context, airportCode string, periodDays int) (*models.TrendAnalysis, error) {
	result := d.manager.GetOrRefresh(ctx, trendsKey(airportCode, periodDays),
		d.trendsFetcher(airportCode, periodDays))

	var analysis models.TrendAnalysis
	if err := decodeResult(result, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// RefreshAll forcibly recomputes every cached derivation for the airports
// that have history, used by the scheduled analytics refresh. Forced so a
// still-fresh cached result doesn't mask new snapshots.
func (d *Deriver) RefreshAll(ctx context.Context, periodDays int) error {
	airports, err := d.history.Airports()
	if err != nil {
		return fmt.Errorf("failed to list airports with history: %w", err)
	}

	for _, airport := range airports {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		derivations := []struct {
			key     models.CacheKey
			fetcher cache.Fetcher
		}{
			{routeStatsKey(airport, periodDays), d.routeStatsFetcher(airport, periodDays)},
			{weeklyScheduleKey(airport), d.weeklyScheduleFetcher(airport)},
			{trendsKey(airport, periodDays), d.trendsFetcher(airport, periodDays)},
		}
		for _, derivation := range derivations {
			result := d.manager.Refresh(ctx, derivation.key, derivation.fetcher)
			if result.Message != "" {
				return fmt.Errorf("derivation %s: %s", derivation.key.String(), result.Message)
			}
		}
	}
	return nil
}

func (d *Deriver) window(airportCode string, periodDays int, direction models.FlightDirection) ([]*models.HistoricalSnapshot, error) {
	to := d.clock.Now().UTC()
	from := to.Add(-time.Duration(periodDays) * 24 * time.Hour)
	return d.history.GetRange(airportCode, from, to, direction)
}

func decodeResult(result *cache.Result, out any) error {
	if result.Entry == nil || !result.Entry.Success {
		return fmt.Errorf("no analytics data available: %s", result.Message)
	}
	if err := json.Unmarshal(result.Entry.Payload, out); err != nil {
		return fmt.Errorf("failed to decode cached analytics: %w", err)
	}
	return nil
}
