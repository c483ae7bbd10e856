package tasks

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/analytics"
	"flightboard/internal/cache"
	"flightboard/internal/models"
)

// AnalyticsRefresh re-derives the analytics category on its configured
// (much slower) schedule. Derivations read only the local history store, so
// this task never consumes upstream quota.
type AnalyticsRefresh struct {
	deriver    *analytics.Deriver
	manager    *cache.Manager
	clock      clockwork.Clock
	periodDays int

	lastRun time.Time
}

// NewAnalyticsRefresh creates the scheduled analytics derivation task
func NewAnalyticsRefresh(deriver *analytics.Deriver, manager *cache.Manager, clock clockwork.Clock, periodDays int) *AnalyticsRefresh {
	return &AnalyticsRefresh{
		deriver:    deriver,
		manager:    manager,
		clock:      clock,
		periodDays: periodDays,
	}
}

func (t *AnalyticsRefresh) Name() string { return "analytics_refresh" }

func (t *AnalyticsRefresh) Tick() time.Duration { return coarseTick }

func (t *AnalyticsRefresh) RunTimeout() time.Duration { return 5 * time.Minute }

func (t *AnalyticsRefresh) Run(ctx context.Context) error {
	policy, ok := t.manager.Policy(models.CategoryAnalytics)
	if !ok {
		return nil
	}
	interval := time.Duration(policy.CronIntervalMinutes) * time.Minute

	now := t.clock.Now().UTC()
	if !t.lastRun.IsZero() && now.Before(t.lastRun.Add(interval)) {
		return nil
	}

	if err := t.deriver.RefreshAll(ctx, t.periodDays); err != nil {
		return err
	}
	t.lastRun = now
	return nil
}
