package models

import "time"

// RouteStats aggregates flight volume and punctuality for one route flown by
// one airline over a period. A route with too few flights to aggregate
// honestly is reported via InsufficientData instead of synthetic numbers.
type RouteStats struct {
	OriginCode          string    `json:"origin_code"`
	DestinationCode     string    `json:"destination_code"`
	AirlineCode         string    `json:"airline_code"`
	TotalFlights        int       `json:"total_flights"`
	OnTimePercentage    float64   `json:"on_time_percentage"`
	AverageDelayMinutes float64   `json:"average_delay_minutes"`
	DelayIndex          float64   `json:"delay_index"`
	Period              string    `json:"period"`
	LastUpdated         time.Time `json:"last_updated"`
	InsufficientData    bool      `json:"insufficient_data,omitempty"`
}

// WeeklyScheduleRow describes on which weekdays a flight operates, derived
// from the dates it was actually observed. WeeklyPattern[0] is Monday.
type WeeklyScheduleRow struct {
	Airport       string  `json:"airport"`
	Destination   string  `json:"destination"`
	Airline       string  `json:"airline"`
	FlightNumber  string  `json:"flight_number"`
	WeeklyPattern [7]bool `json:"weekly_pattern"`
	Frequency     int     `json:"frequency"`
	DataSource    string  `json:"data_source"`
}

// TrendHalf summarizes one half of a trend window
type TrendHalf struct {
	Flights           int     `json:"flights"`
	AverageDelayMins  float64 `json:"average_delay_minutes"`
	DaysWithSnapshots int     `json:"days_with_snapshots"`
}

// TrendAnalysis is the percentage change in traffic and delay between the
// first and second half of a period
type TrendAnalysis struct {
	AirportCode          string    `json:"airport_code"`
	Period               string    `json:"period"`
	TrafficChangePercent float64   `json:"traffic_change_percent"`
	DelayChangePercent   float64   `json:"delay_change_percent"`
	FirstHalf            TrendHalf `json:"first_half"`
	SecondHalf           TrendHalf `json:"second_half"`
	LastUpdated          time.Time `json:"last_updated"`
	InsufficientData     bool      `json:"insufficient_data,omitempty"`
}
