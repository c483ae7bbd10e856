package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightboard/internal/database"
	"flightboard/internal/models"
	"flightboard/internal/tracker"
)

var testDefaults = map[models.Category]models.CachePolicy{
	models.CategoryFlightData: {CronIntervalMinutes: 60, MaxAgeDays: 30, CacheUntilNextRun: true},
	models.CategoryAnalytics:  {CronIntervalMinutes: 1440, MaxAgeDays: 30, CacheUntilNextRun: true},
	models.CategoryAircraft:   {CronIntervalMinutes: 1440, MaxAgeDays: 90, CacheUntilNextRun: true},
	models.CategoryWeather:    {CronIntervalMinutes: 30, MaxAgeDays: 7, CacheUntilNextRun: true},
}

const testClearToken = "yes-delete-everything"

func setupManager(t *testing.T) (*Manager, *database.DB, clockwork.FakeClock) {
	db, err := database.New(filepath.Join(t.TempDir(), "cache_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	m := New(db.CacheRepository(), db.ConfigRepository(), db.HistoryRepository(),
		clock, testDefaults, testClearToken)
	require.NoError(t, m.Initialize(context.Background()))
	return m, db, clock
}

func staticFetcher(payload string) Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func failingFetcher(err error) Fetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		return nil, err
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	m, _, _ := setupManager(t)

	// A second call must not re-warm or error
	require.NoError(t, m.Initialize(context.Background()))

	policy, ok := m.Policy(models.CategoryFlightData)
	require.True(t, ok)
	assert.Equal(t, 60, policy.CronIntervalMinutes)
}

func TestInitialize_WarmsFromStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warm_test.db")
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	m := New(db.CacheRepository(), db.ConfigRepository(), db.HistoryRepository(),
		clock, testDefaults, testClearToken)
	require.NoError(t, m.Initialize(context.Background()))

	key := models.FlightCacheKey("OTP", models.DirectionArrival)
	result := m.GetOrRefresh(context.Background(), key, staticFetcher(`[{"flight_number":"RO301"}]`))
	require.True(t, result.Entry.Success)

	// A fresh manager over the same store sees the entry without fetching
	m2 := New(db.CacheRepository(), db.ConfigRepository(), db.HistoryRepository(),
		clock, testDefaults, testClearToken)
	require.NoError(t, m2.Initialize(context.Background()))

	payload, ok := m2.GetCachedData(key)
	require.True(t, ok)
	assert.JSONEq(t, `[{"flight_number":"RO301"}]`, string(payload))
}

func TestGetOrRefresh_RoundTrip(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)
	payload := `[{"flight_number":"RO301","status":"landed"}]`

	result := m.GetOrRefresh(context.Background(), key, staticFetcher(payload))
	require.True(t, result.Entry.Success)
	assert.False(t, result.Cached)

	got, ok := m.GetCachedData(key)
	require.True(t, ok)
	assert.Equal(t, payload, string(got))
}

func TestGetCachedData_NoSideEffects(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	_, ok := m.GetCachedData(key)
	assert.False(t, ok)

	// The miss must not have created anything
	_, ok = m.GetEntry(key)
	assert.False(t, ok)
}

func TestGetCachedData_ExpiredIsAbsent(t *testing.T) {
	m, _, clock := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	m.GetOrRefresh(context.Background(), key, staticFetcher(`[]`))

	_, ok := m.GetCachedData(key)
	assert.True(t, ok)

	// flight_data TTL is the 60 minute cron interval
	clock.Advance(61 * time.Minute)

	_, ok = m.GetCachedData(key)
	assert.False(t, ok)
}

func TestGetOrRefresh_SecondCallWithinTTLIsCached(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	var calls atomic.Int32
	fetcher := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`[{"flight_number":"RO301"}]`), nil
	}

	first := m.GetOrRefresh(context.Background(), key, fetcher)
	assert.False(t, first.Cached)

	second := m.GetOrRefresh(context.Background(), key, fetcher)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrRefresh_SingleFlight(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	var calls atomic.Int32
	release := make(chan struct{})
	fetcher := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`[]`), nil
	}

	const concurrency = 16
	var wg sync.WaitGroup
	results := make([]*Result, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetOrRefresh(context.Background(), key, fetcher)
		}(i)
	}

	// Let the callers pile up behind the in-flight fetch, then release it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent callers must share one fetch")
	for _, r := range results {
		require.NotNil(t, r.Entry)
		assert.True(t, r.Entry.Success)
	}
}

func TestGetOrRefresh_FailureKeepsStaleEntry(t *testing.T) {
	m, _, clock := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)
	payload := `[{"flight_number":"RO301"}]`

	m.GetOrRefresh(context.Background(), key, staticFetcher(payload))
	clock.Advance(2 * time.Hour) // entry is now stale

	result := m.GetOrRefresh(context.Background(), key, failingFetcher(errors.New("boom")))
	require.NotNil(t, result.Entry)
	assert.True(t, result.Cached)
	assert.True(t, result.Entry.Success)
	assert.Equal(t, models.SourceFallback, result.Entry.Source)
	assert.NotEmpty(t, result.Message)
	assert.JSONEq(t, payload, string(result.Entry.Payload))
}

func TestGetOrRefresh_FailureWithNoDataStoresPlaceholder(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("XXX", models.DirectionArrival)

	result := m.GetOrRefresh(context.Background(), key, failingFetcher(errors.New("no such airport")))
	require.NotNil(t, result.Entry)
	assert.False(t, result.Entry.Success)
	assert.NotEmpty(t, result.Message)

	// The placeholder suppresses immediate re-fetching but is not served as data
	_, ok := m.GetCachedData(key)
	assert.False(t, ok)
}

func TestGetOrRefresh_FailurePlaceholderSuppressesRefetch(t *testing.T) {
	m, _, clock := setupManager(t)
	key := models.FlightCacheKey("XXX", models.DirectionArrival)

	var calls atomic.Int32
	fetcher := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("dead upstream")
	}

	first := m.GetOrRefresh(context.Background(), key, fetcher)
	require.NotNil(t, first.Entry)
	assert.False(t, first.Entry.Success)

	// A second read within failureTTL serves the placeholder without
	// another upstream attempt
	second := m.GetOrRefresh(context.Background(), key, fetcher)
	require.NotNil(t, second.Entry)
	assert.False(t, second.Entry.Success)
	assert.True(t, second.Cached)
	assert.NotEmpty(t, second.Message)
	assert.EqualValues(t, 1, calls.Load())

	// Once the placeholder lapses the key is retried
	clock.Advance(failureTTL + time.Minute)
	m.GetOrRefresh(context.Background(), key, fetcher)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGetOrRefresh_QuotaRefusalServesCached(t *testing.T) {
	m, db, clock := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)
	payload := `[{"flight_number":"RO301"}]`

	trk := tracker.New(db.RequestLogRepository(), clock, 1)
	trk.LogRequest("/airports/OTP/arrivals", "GET", 200, 100, "provider") // quota now at ceiling

	m.GetOrRefresh(context.Background(), key, staticFetcher(payload))
	clock.Advance(2 * time.Hour)

	var fetched atomic.Bool
	gated := Gated(trk, func(ctx context.Context) (json.RawMessage, error) {
		fetched.Store(true)
		return json.RawMessage(`[]`), nil
	})

	result := m.GetOrRefresh(context.Background(), key, gated)
	assert.False(t, fetched.Load(), "gate must refuse the upstream call")
	assert.True(t, result.Cached)
	require.NotNil(t, result.Entry)
	assert.JSONEq(t, payload, string(result.Entry.Payload))
}

func TestManualRefresh_BypassesTTL(t *testing.T) {
	m, _, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	m.GetOrRefresh(context.Background(), key, staticFetcher(`["old"]`))

	// Entry is fresh, but manual refresh fetches anyway
	result := m.ManualRefresh(context.Background(), key, staticFetcher(`["new"]`))
	assert.False(t, result.Cached)
	assert.Equal(t, models.SourceManual, result.Entry.Source)
	assert.JSONEq(t, `["new"]`, string(result.Entry.Payload))
}

func TestUpdateConfig_Bounds(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		interval int
		wantErr  bool
	}{
		{"zero interval rejected", 0, true},
		{"above daily ceiling rejected", 1441, true},
		{"hourly accepted", 60, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.UpdateConfig(ctx, map[models.Category]models.CachePolicy{
				models.CategoryFlightData: {CronIntervalMinutes: tc.interval, MaxAgeDays: 30, CacheUntilNextRun: true},
			})
			if tc.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateConfig_RejectionLeavesConfigUntouched(t *testing.T) {
	m, _, _ := setupManager(t)

	err := m.UpdateConfig(context.Background(), map[models.Category]models.CachePolicy{
		models.CategoryFlightData: {CronIntervalMinutes: 0, MaxAgeDays: 30},
	})
	require.Error(t, err)

	policy, ok := m.Policy(models.CategoryFlightData)
	require.True(t, ok)
	assert.Equal(t, 60, policy.CronIntervalMinutes, "prior config must survive a rejected update")
}

func TestUpdateConfig_AppliedAndPersisted(t *testing.T) {
	m, db, _ := setupManager(t)

	require.NoError(t, m.UpdateConfig(context.Background(), map[models.Category]models.CachePolicy{
		models.CategoryFlightData: {CronIntervalMinutes: 15, MaxAgeDays: 14, CacheUntilNextRun: true},
	}))

	policy, ok := m.Policy(models.CategoryFlightData)
	require.True(t, ok)
	assert.Equal(t, 15, policy.CronIntervalMinutes)

	persisted, err := db.ConfigRepository().Get(models.CategoryFlightData)
	require.NoError(t, err)
	assert.Equal(t, 15, persisted.CronIntervalMinutes)
}

func TestClearPersistent_TokenGuard(t *testing.T) {
	m, db, _ := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	m.GetOrRefresh(context.Background(), key, staticFetcher(`[]`))
	require.NoError(t, db.HistoryRepository().UpsertDay(&models.HistoricalSnapshot{
		AirportCode: "OTP",
		Date:        models.Day(time.Now()),
		Direction:   models.DirectionArrival,
		Flights:     []models.FlightRecord{{FlightNumber: "RO301", ScheduledTime: time.Now().UTC()}},
	}))

	// Missing and wrong tokens are rejected with no deletion
	for _, token := range []string{"", "wrong-token"} {
		_, err := m.ClearPersistent(context.Background(), token)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "token %q", token)

		count, err := db.HistoryRepository().Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}

	// The correct token removes everything
	removed, err := m.ClearPersistent(context.Background(), testClearToken)
	require.NoError(t, err)
	assert.Positive(t, removed)

	count, err := db.HistoryRepository().Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	stats, err := m.PersistentCacheStats()
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestClearAirport(t *testing.T) {
	m, db, _ := setupManager(t)

	otp := models.FlightCacheKey("OTP", models.DirectionArrival)
	clj := models.FlightCacheKey("CLJ", models.DirectionArrival)
	m.GetOrRefresh(context.Background(), otp, staticFetcher(`[]`))
	m.GetOrRefresh(context.Background(), clj, staticFetcher(`[]`))

	day := models.Day(time.Now())
	for _, airport := range []string{"OTP", "CLJ"} {
		require.NoError(t, db.HistoryRepository().UpsertDay(&models.HistoricalSnapshot{
			AirportCode: airport, Date: day, Direction: models.DirectionArrival,
			Flights: []models.FlightRecord{{FlightNumber: "T1", ScheduledTime: time.Now().UTC()}},
		}))
	}

	removed, err := m.ClearAirport(context.Background(), "otp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, ok := m.GetEntry(otp)
	assert.False(t, ok)
	_, ok = m.GetEntry(clj)
	assert.True(t, ok)

	// The persisted tier was cleared for OTP only
	_, err = db.CacheRepository().Get(otp)
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = db.CacheRepository().Get(clj)
	assert.NoError(t, err)
}

func TestCleanExpired(t *testing.T) {
	m, db, clock := setupManager(t)
	key := models.FlightCacheKey("OTP", models.DirectionArrival)

	m.GetOrRefresh(context.Background(), key, staticFetcher(`[]`))

	// Within max age: nothing to sweep
	removed, err := m.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Past the 30 day flight_data max age the entry goes from both tiers
	clock.Advance(31 * 24 * time.Hour)
	removed, err = m.CleanExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, ok := m.GetEntry(key)
	assert.False(t, ok)
	_, err = db.CacheRepository().Get(key)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCacheStats(t *testing.T) {
	m, _, _ := setupManager(t)

	for i := 0; i < 3; i++ {
		key := models.CacheKey{Category: models.CategoryFlightData, Identifier: fmt.Sprintf("A%02d_arrivals", i)}
		m.GetOrRefresh(context.Background(), key, staticFetcher(`[]`))
	}

	stats := m.CacheStats()
	require.Len(t, stats, 1)
	assert.Equal(t, models.CategoryFlightData, stats[0].Category)
	assert.Equal(t, 3, stats[0].Entries)
	require.NotNil(t, stats[0].Oldest)
	require.NotNil(t, stats[0].Newest)
}
