package models

import "time"

// FlightDirection distinguishes arrivals from departures
type FlightDirection string

const (
	DirectionArrival   FlightDirection = "arrival"
	DirectionDeparture FlightDirection = "departure"
)

// Valid reports whether d is a known direction
func (d FlightDirection) Valid() bool {
	return d == DirectionArrival || d == DirectionDeparture
}

// FlightRecord is one normalized flight as stored in a daily snapshot
type FlightRecord struct {
	FlightNumber    string     `json:"flight_number"`
	AirlineCode     string     `json:"airline_code"`
	OriginCode      string     `json:"origin_code"`
	DestinationCode string     `json:"destination_code"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	ActualTime      *time.Time `json:"actual_time,omitempty"`
	Status          string     `json:"status"`
	DelayMinutes    int        `json:"delay_minutes"`
	AircraftType    string     `json:"aircraft_type,omitempty"`
}

// HistoricalSnapshot is one day's worth of flights for one airport and
// direction. Snapshots are keyed by (airport, date, direction) and upserts
// for the same key overwrite rather than duplicate.
type HistoricalSnapshot struct {
	AirportCode string          `json:"airport_code"`
	Date        time.Time       `json:"date"` // truncated to the calendar day, UTC
	Direction   FlightDirection `json:"direction"`
	Flights     []FlightRecord  `json:"flights"`
}

// Day truncates t to its UTC calendar day, the granularity snapshots are keyed by
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FlightListResponse is the envelope handed to route handlers. Callers always
// receive a well-formed response; failures set Success=false and Message.
type FlightListResponse struct {
	Success     bool           `json:"success"`
	Data        []FlightRecord `json:"data"`
	Cached      bool           `json:"cached"`
	LastUpdated time.Time      `json:"last_updated"`
	AirportCode string         `json:"airport_code"`
	Type        string         `json:"type"`
	Message     string         `json:"message,omitempty"`
}
