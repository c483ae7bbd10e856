package tasks

import (
	"context"
	"log/slog"
	"time"

	"flightboard/internal/cache"
	"flightboard/internal/tracker"
)

// CleanupSweep deletes cache entries past their category max-age and prunes
// old request log records once a day
type CleanupSweep struct {
	manager      *cache.Manager
	tracker      *tracker.Tracker
	logRetention time.Duration
}

// NewCleanupSweep creates the daily cleanup task
func NewCleanupSweep(manager *cache.Manager, tracker *tracker.Tracker, logRetention time.Duration) *CleanupSweep {
	return &CleanupSweep{
		manager:      manager,
		tracker:      tracker,
		logRetention: logRetention,
	}
}

func (t *CleanupSweep) Name() string { return "cleanup_sweep" }

func (t *CleanupSweep) Tick() time.Duration { return 24 * time.Hour }

func (t *CleanupSweep) RunTimeout() time.Duration { return 10 * time.Minute }

func (t *CleanupSweep) Run(ctx context.Context) error {
	removed, err := t.manager.CleanExpired(ctx)
	if err != nil {
		return err
	}

	purged, err := t.tracker.Purge(t.logRetention)
	if err != nil {
		// Log pruning is best-effort; the cache sweep already succeeded
		slog.Warn("Failed to purge request log", "error", err)
		purged = 0
	}

	slog.Info("Cleanup sweep finished", "cache_removed", removed, "log_purged", purged)
	return nil
}
