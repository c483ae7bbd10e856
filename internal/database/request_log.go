package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"flightboard/internal/models"
)

// RequestLogRepository is the append-only log of upstream provider calls.
// Aggregation folds over the rows and skips any it cannot scan.
type RequestLogRepository interface {
	Append(record *models.RequestLogRecord) error
	CountSince(since time.Time) (int, error)
	Fold(since time.Time) (*models.RequestStats, error)
	DetailedSince(since time.Time) (*models.DetailedRequestStats, error)
	Reset() (int64, error)
	PurgeOlderThan(cutoff time.Time) (int64, error)
}

type requestLogRepository struct {
	db *sql.DB
}

func (r *requestLogRepository) Append(record *models.RequestLogRecord) error {
	_, err := r.db.Exec(`INSERT INTO request_log (
		timestamp, endpoint, method, http_status, response_time_ms, source
	) VALUES (?, ?, ?, ?, ?, ?)`,
		record.Timestamp, record.Endpoint, record.Method,
		record.HTTPStatus, record.ResponseTimeMs, record.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to append request log record: %w", err)
	}
	return nil
}

func (r *requestLogRepository) CountSince(since time.Time) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM request_log WHERE timestamp >= ?`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count request log records: %w", err)
	}
	return count, nil
}

func (r *requestLogRepository) Fold(since time.Time) (*models.RequestStats, error) {
	rows, err := r.db.Query(`SELECT timestamp, http_status, response_time_ms
		FROM request_log WHERE timestamp >= ? ORDER BY timestamp`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read request log: %w", err)
	}
	defer rows.Close()

	stats := &models.RequestStats{}
	var totalMs int64
	var first, last time.Time

	for rows.Next() {
		var ts time.Time
		var status int
		var ms int64
		if err := rows.Scan(&ts, &status, &ms); err != nil {
			// Malformed rows are skipped, not fatal
			slog.Warn("Skipping malformed request log row", "error", err)
			continue
		}

		stats.TotalRequests++
		if status >= 200 && status < 300 {
			stats.SuccessfulRequests++
		} else {
			stats.FailedRequests++
		}
		totalMs += ms
		if first.IsZero() {
			first = ts
		}
		last = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fold request log: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.AverageResponseTimeMs = float64(totalMs) / float64(stats.TotalRequests)
		stats.LastRequestAt = &last

		span := last.Sub(first)
		if span < time.Hour {
			span = time.Hour
		}
		stats.RequestsPerHour = float64(stats.TotalRequests) / span.Hours()
	}
	return stats, nil
}

func (r *requestLogRepository) DetailedSince(since time.Time) (*models.DetailedRequestStats, error) {
	base, err := r.Fold(since)
	if err != nil {
		return nil, err
	}
	detailed := &models.DetailedRequestStats{RequestStats: *base}

	endpointRows, err := r.db.Query(`SELECT endpoint, COUNT(*),
		SUM(CASE WHEN http_status < 200 OR http_status >= 300 THEN 1 ELSE 0 END),
		AVG(response_time_ms)
		FROM request_log WHERE timestamp >= ?
		GROUP BY endpoint ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read per-endpoint stats: %w", err)
	}
	defer endpointRows.Close()

	for endpointRows.Next() {
		var e models.EndpointStats
		if err := endpointRows.Scan(&e.Endpoint, &e.Requests, &e.Failures, &e.AverageResponseTimeMs); err != nil {
			slog.Warn("Skipping malformed endpoint stats row", "error", err)
			continue
		}
		detailed.ByEndpoint = append(detailed.ByEndpoint, e)
	}
	if err := endpointRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read per-endpoint stats: %w", err)
	}

	dayRows, err := r.db.Query(`SELECT DATE(timestamp), COUNT(*)
		FROM request_log WHERE timestamp >= ?
		GROUP BY DATE(timestamp) ORDER BY DATE(timestamp)`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read per-day stats: %w", err)
	}
	defer dayRows.Close()

	for dayRows.Next() {
		var day string
		var count int
		if err := dayRows.Scan(&day, &count); err != nil {
			slog.Warn("Skipping malformed daily stats row", "error", err)
			continue
		}
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			slog.Warn("Skipping unparseable daily stats date", "date", day, "error", err)
			continue
		}
		detailed.ByDay = append(detailed.ByDay, models.DailyRequestCount{Date: date, Requests: count})
	}
	return detailed, dayRows.Err()
}

// Reset clears the accumulated log so quota tracking starts a fresh window
func (r *requestLogRepository) Reset() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM request_log`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset request log: %w", err)
	}
	return res.RowsAffected()
}

func (r *requestLogRepository) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM request_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge request log: %w", err)
	}
	return res.RowsAffected()
}
