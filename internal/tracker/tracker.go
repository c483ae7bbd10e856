// Package tracker counts and logs upstream provider calls and enforces a
// rolling requests-per-hour quota.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/database"
	"flightboard/internal/models"
)

// ErrQuotaExceeded is returned by Allow when the rolling quota is exhausted
var ErrQuotaExceeded = errors.New("upstream request quota exceeded")

// Tracker is the request accounting service. Logging failures are swallowed
// so a broken log never fails the fetch path.
type Tracker struct {
	repo    database.RequestLogRepository
	clock   clockwork.Clock
	ceiling int // max upstream requests per rolling hour, 0 disables the gate
}

// New creates a Tracker with the given hourly request ceiling
func New(repo database.RequestLogRepository, clock clockwork.Clock, requestsPerHour int) *Tracker {
	return &Tracker{
		repo:    repo,
		clock:   clock,
		ceiling: requestsPerHour,
	}
}

// LogRequest appends one record to the request log. Fire-and-forget: errors
// are logged and dropped.
func (t *Tracker) LogRequest(endpoint, method string, httpStatus int, responseTimeMs int64, source string) {
	record := &models.RequestLogRecord{
		Timestamp:      t.clock.Now().UTC(),
		Endpoint:       endpoint,
		Method:         method,
		HTTPStatus:     httpStatus,
		ResponseTimeMs: responseTimeMs,
		Source:         source,
	}
	if err := t.repo.Append(record); err != nil {
		slog.Warn("Failed to log upstream request", "endpoint", endpoint, "error", err)
	}
}

// Allow reports whether another upstream request fits under the rolling
// hourly quota. On a store read failure the request is allowed: a broken log
// must not take the fetch path down with it.
func (t *Tracker) Allow() error {
	if t.ceiling <= 0 {
		return nil
	}

	// Stored timestamps are UTC and the driver compares them as text, so the
	// window start must be UTC too
	windowStart := t.clock.Now().UTC().Add(-time.Hour)
	count, err := t.repo.CountSince(windowStart)
	if err != nil {
		slog.Warn("Failed to read request count, allowing request", "error", err)
		return nil
	}

	if count >= t.ceiling {
		return fmt.Errorf("%w: %d requests in the past hour (ceiling %d)", ErrQuotaExceeded, count, t.ceiling)
	}
	return nil
}

// Stats folds the whole log into an aggregate
func (t *Tracker) Stats() (*models.RequestStats, error) {
	return t.repo.Fold(time.Time{})
}

// DetailedStats adds per-endpoint and per-day breakdowns over the past 30 days
func (t *Tracker) DetailedStats() (*models.DetailedRequestStats, error) {
	return t.repo.DetailedSince(t.clock.Now().UTC().Add(-30 * 24 * time.Hour))
}

// ResetCounter clears the accumulated log, restarting the quota window
func (t *Tracker) ResetCounter() (int64, error) {
	deleted, err := t.repo.Reset()
	if err != nil {
		return 0, fmt.Errorf("failed to reset request counter: %w", err)
	}
	slog.Info("Request counter reset", "deleted_records", deleted)
	return deleted, nil
}

// Purge removes log records older than the given retention period
func (t *Tracker) Purge(retention time.Duration) (int64, error) {
	return t.repo.PurgeOlderThan(t.clock.Now().UTC().Add(-retention))
}
