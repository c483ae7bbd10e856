package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"flightboard/internal/models"
)

// HistoryRepository stores one row per (airport, day, direction). Re-saving
// the same day replaces the row, so snapshot writes are idempotent.
type HistoryRepository interface {
	UpsertDay(snapshot *models.HistoricalSnapshot) error
	UpsertDays(snapshots []*models.HistoricalSnapshot) error
	GetDay(airportCode string, date time.Time, direction models.FlightDirection) (*models.HistoricalSnapshot, error)
	GetRange(airportCode string, from, to time.Time, direction models.FlightDirection) ([]*models.HistoricalSnapshot, error)
	Airports() ([]string, error)
	Count() (int, error)
	DeleteAirport(airportCode string) (int64, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
	DeleteAll() (int64, error)
}

type historyRepository struct {
	db *sql.DB
}

func (r *historyRepository) UpsertDay(snapshot *models.HistoricalSnapshot) error {
	flights, err := json.Marshal(snapshot.Flights)
	if err != nil {
		return fmt.Errorf("failed to encode flights for %s: %w", snapshot.AirportCode, err)
	}

	_, err = r.db.Exec(`INSERT OR REPLACE INTO flight_history (
		airport_code, date, direction, flights, flight_count, stored_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.AirportCode,
		models.Day(snapshot.Date).Format("2006-01-02"),
		string(snapshot.Direction),
		string(flights),
		len(snapshot.Flights),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s/%s: %w",
			snapshot.AirportCode, snapshot.Date.Format("2006-01-02"), err)
	}
	return nil
}

// UpsertDays writes multiple snapshots in a single transaction
func (r *historyRepository) UpsertDays(snapshots []*models.HistoricalSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO flight_history (
		airport_code, date, direction, flights, flight_count, stored_at
	) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, snapshot := range snapshots {
		flights, err := json.Marshal(snapshot.Flights)
		if err != nil {
			return fmt.Errorf("failed to encode flights for %s: %w", snapshot.AirportCode, err)
		}
		if _, err := stmt.Exec(
			snapshot.AirportCode,
			models.Day(snapshot.Date).Format("2006-01-02"),
			string(snapshot.Direction),
			string(flights),
			len(snapshot.Flights),
			now,
		); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *historyRepository) GetDay(airportCode string, date time.Time, direction models.FlightDirection) (*models.HistoricalSnapshot, error) {
	row := r.db.QueryRow(`SELECT airport_code, date, direction, flights
		FROM flight_history WHERE airport_code = ? AND date = ? AND direction = ?`,
		airportCode, models.Day(date).Format("2006-01-02"), string(direction))

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s/%s: %w", airportCode, date.Format("2006-01-02"), err)
	}
	return snapshot, nil
}

// GetRange returns snapshots for [from, to] inclusive, ordered by date. An
// empty direction matches both arrivals and departures.
func (r *historyRepository) GetRange(airportCode string, from, to time.Time, direction models.FlightDirection) ([]*models.HistoricalSnapshot, error) {
	query := `SELECT airport_code, date, direction, flights
		FROM flight_history WHERE airport_code = ? AND date >= ? AND date <= ?`
	args := []any{airportCode, models.Day(from).Format("2006-01-02"), models.Day(to).Format("2006-01-02")}
	if direction != "" {
		query += ` AND direction = ?`
		args = append(args, string(direction))
	}
	query += ` ORDER BY date, direction`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot range for %s: %w", airportCode, err)
	}
	defer rows.Close()

	var snapshots []*models.HistoricalSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			slog.Warn("Skipping malformed snapshot row", "airport", airportCode, "error", err)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (r *historyRepository) Airports() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT airport_code FROM flight_history ORDER BY airport_code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list airports: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan airport code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *historyRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM flight_history`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func (r *historyRepository) DeleteAirport(airportCode string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM flight_history WHERE airport_code = ?`, airportCode)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history for %s: %w", airportCode, err)
	}
	return res.RowsAffected()
}

func (r *historyRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM flight_history WHERE date < ?`,
		models.Day(cutoff).Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func (r *historyRepository) DeleteAll() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM flight_history`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

func scanSnapshot(row rowScanner) (*models.HistoricalSnapshot, error) {
	var snapshot models.HistoricalSnapshot
	var date time.Time
	var direction, flights string
	// The driver converts DATE columns to time.Time itself
	if err := row.Scan(&snapshot.AirportCode, &date, &direction, &flights); err != nil {
		return nil, err
	}
	snapshot.Date = models.Day(date)
	snapshot.Direction = models.FlightDirection(direction)

	if err := json.Unmarshal([]byte(flights), &snapshot.Flights); err != nil {
		return nil, fmt.Errorf("bad flights payload: %w", err)
	}
	return &snapshot, nil
}
