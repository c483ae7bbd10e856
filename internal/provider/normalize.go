package provider

import (
	"encoding/json"
	"strings"
	"time"

	"flightboard/internal/models"
)

// rawResponse tolerates the handful of envelope shapes the provider has been
// seen to return: a "data" array, direction-named arrays, or a "flights"
// array. Pointers distinguish a present-but-empty list (a valid quiet day)
// from a missing one (malformed response).
type rawResponse struct {
	Data       *[]rawFlight `json:"data"`
	Arrivals   *[]rawFlight `json:"arrivals"`
	Departures *[]rawFlight `json:"departures"`
	Flights    *[]rawFlight `json:"flights"`
}

func (r *rawResponse) flightList() ([]rawFlight, bool) {
	for _, list := range []*[]rawFlight{r.Data, r.Arrivals, r.Departures, r.Flights} {
		if list != nil {
			return *list, true
		}
	}
	return nil, false
}

// rawFlight keeps the upstream object as loose key-value pairs so field-name
// aliases can be resolved during normalization
type rawFlight map[string]json.RawMessage

func (f rawFlight) str(keys ...string) string {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func (f rawFlight) timeAt(keys ...string) *time.Time {
	s := f.str(keys...)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// normalizeFlights maps heterogeneous upstream field names onto FlightRecord.
// Flights without a flight number or scheduled time are dropped rather than
// failing the whole batch.
func normalizeFlights(raw []rawFlight) []models.FlightRecord {
	flights := make([]models.FlightRecord, 0, len(raw))
	for _, rf := range raw {
		record := models.FlightRecord{
			FlightNumber:    strings.ToUpper(rf.str("flight_number", "flightNumber", "number", "flight_iata")),
			AirlineCode:     strings.ToUpper(rf.str("airline_code", "airlineCode", "airline", "carrier")),
			OriginCode:      strings.ToUpper(rf.str("origin_code", "originCode", "origin", "dep_iata", "departure_airport")),
			DestinationCode: strings.ToUpper(rf.str("destination_code", "destinationCode", "destination", "arr_iata", "arrival_airport")),
			Status:          normalizeStatus(rf.str("status", "flight_status", "state")),
			AircraftType:    rf.str("aircraft_type", "aircraftType", "aircraft", "equipment"),
		}

		scheduled := rf.timeAt("scheduled_time", "scheduledTime", "scheduled", "sched_time")
		if scheduled == nil || record.FlightNumber == "" {
			continue
		}
		record.ScheduledTime = *scheduled
		record.ActualTime = rf.timeAt("actual_time", "actualTime", "actual", "estimated_time")

		if record.ActualTime != nil {
			delay := record.ActualTime.Sub(record.ScheduledTime)
			if delay > 0 {
				record.DelayMinutes = int(delay.Minutes())
			}
		}

		// Infer the airline from the flight number prefix when missing
		if record.AirlineCode == "" && len(record.FlightNumber) > 2 {
			record.AirlineCode = record.FlightNumber[:2]
		}

		flights = append(flights, record)
	}

	return flights
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "landed", "arrived":
		return "landed"
	case "departed", "active", "en-route", "enroute":
		return "active"
	case "cancelled", "canceled":
		return "cancelled"
	case "delayed":
		return "delayed"
	case "scheduled", "expected", "":
		return "scheduled"
	default:
		return strings.ToLower(status)
	}
}
