// Package daemon wires the store, tracker, provider, cache manager,
// analytics deriver and scheduler into one long-running service.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/analytics"
	"flightboard/internal/cache"
	"flightboard/internal/config"
	"flightboard/internal/database"
	"flightboard/internal/provider"
	"flightboard/internal/scheduler"
	"flightboard/internal/tasks"
	"flightboard/internal/tracker"
)

// analyticsPeriodDays is the history window the scheduled derivations cover
const analyticsPeriodDays = 30

// Daemon owns the service lifecycle. Route handlers reach the engine through
// the accessors, never through package-level state.
type Daemon struct {
	ctx     context.Context
	cancel  context.CancelFunc
	db      *database.DB
	manager *cache.Manager
	tracker *tracker.Tracker
	deriver *analytics.Deriver
	refresh *tasks.FlightRefresh
	sched   *scheduler.Scheduler
	done    chan struct{}
}

// New builds the full service graph. Migrations run here; a migration
// failure aborts construction.
func New(cfg *config.Config) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := database.New(cfg.DBPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	clock := clockwork.NewRealClock()

	trk := tracker.New(db.RequestLogRepository(), clock, cfg.Quota.RequestsPerHour)

	client := provider.New(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
		trk,
		clock,
	)

	manager := cache.New(
		db.CacheRepository(),
		db.ConfigRepository(),
		db.HistoryRepository(),
		clock,
		cfg.Defaults,
		cfg.Admin.ClearToken,
	)
	if err := manager.Initialize(ctx); err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize cache manager: %w", err)
	}

	deriver := analytics.NewDeriver(db.HistoryRepository(), manager, clock)

	fetchTimeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	refresh := tasks.NewFlightRefresh(manager, client, trk, db.HistoryRepository(), clock, cfg.Airports, fetchTimeout)

	sched := scheduler.New(ctx, clock)
	sched.AddTask(refresh)
	sched.AddTask(tasks.NewAnalyticsRefresh(deriver, manager, clock, analyticsPeriodDays))
	sched.AddTask(tasks.NewCleanupSweep(manager, trk,
		time.Duration(cfg.Quota.LogRetentionDays)*24*time.Hour))

	return &Daemon{
		ctx:     ctx,
		cancel:  cancel,
		db:      db,
		manager: manager,
		tracker: trk,
		deriver: deriver,
		refresh: refresh,
		sched:   sched,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the scheduler
func (d *Daemon) Start() error {
	slog.Info("Starting daemon")

	d.sched.Start()

	go func() {
		<-d.ctx.Done()
		close(d.done)
	}()

	slog.Info("Daemon started successfully")
	return nil
}

// Stop gracefully stops the daemon
func (d *Daemon) Stop() error {
	slog.Info("Stopping daemon")
	d.cancel()
	<-d.done

	d.sched.Stop()

	if err := d.db.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
	}

	slog.Info("Daemon stopped")
	return nil
}

// CacheManager exposes the cache engine to route handlers
func (d *Daemon) CacheManager() *cache.Manager { return d.manager }

// Tracker exposes request statistics to route handlers
func (d *Daemon) Tracker() *tracker.Tracker { return d.tracker }

// Deriver exposes on-demand analytics to route handlers
func (d *Daemon) Deriver() *analytics.Deriver { return d.deriver }

// FlightRefresh exposes the fetch path so handlers can serve genuine cache
// misses through the same gated, history-recording fetcher the scheduler uses
func (d *Daemon) FlightRefresh() *tasks.FlightRefresh { return d.refresh }
