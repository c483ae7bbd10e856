// Package analytics derives route statistics, weekly schedules and trend
// analyses from accumulated historical snapshots. All computations are pure:
// identical snapshots always produce identical results.
package analytics

import (
	"sort"
	"time"

	"flightboard/internal/models"
)

// onTimeThresholdMinutes is the delay up to which a flight still counts as
// on time
const onTimeThresholdMinutes = 15

// minRouteSample is the minimum number of flights needed before punctuality
// numbers are reported for a route. Below it the route is flagged as having
// insufficient data instead of being padded with synthetic values.
const minRouteSample = 5

type routeKey struct {
	origin      string
	destination string
	airline     string
}

// ComputeRouteStats aggregates flight volume and punctuality per
// (origin, destination, airline) over the given snapshots
func ComputeRouteStats(snapshots []*models.HistoricalSnapshot, period string, now time.Time) []models.RouteStats {
	type acc struct {
		flights    int
		onTime     int
		delayed    int
		totalDelay int
	}
	byRoute := make(map[routeKey]*acc)

	for _, snapshot := range snapshots {
		for _, flight := range snapshot.Flights {
			if flight.Status == "cancelled" {
				continue
			}
			key := routeKey{flight.OriginCode, flight.DestinationCode, flight.AirlineCode}
			a, ok := byRoute[key]
			if !ok {
				a = &acc{}
				byRoute[key] = a
			}
			a.flights++
			if flight.DelayMinutes <= onTimeThresholdMinutes {
				a.onTime++
			} else {
				a.delayed++
				a.totalDelay += flight.DelayMinutes
			}
		}
	}

	stats := make([]models.RouteStats, 0, len(byRoute))
	for key, a := range byRoute {
		s := models.RouteStats{
			OriginCode:      key.origin,
			DestinationCode: key.destination,
			AirlineCode:     key.airline,
			TotalFlights:    a.flights,
			Period:          period,
			LastUpdated:     now,
		}

		if a.flights < minRouteSample {
			s.InsufficientData = true
		} else {
			s.OnTimePercentage = 100 * float64(a.onTime) / float64(a.flights)
			s.AverageDelayMinutes = float64(a.totalDelay) / float64(a.flights)
			// Delay index weights the average delay by how often delays occur
			s.DelayIndex = s.AverageDelayMinutes * float64(a.delayed) / float64(a.flights)
		}
		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalFlights != stats[j].TotalFlights {
			return stats[i].TotalFlights > stats[j].TotalFlights
		}
		return routeLess(stats[i], stats[j])
	})
	return stats
}

func routeLess(a, b models.RouteStats) bool {
	if a.OriginCode != b.OriginCode {
		return a.OriginCode < b.OriginCode
	}
	if a.DestinationCode != b.DestinationCode {
		return a.DestinationCode < b.DestinationCode
	}
	return a.AirlineCode < b.AirlineCode
}

type scheduleKey struct {
	destination  string
	airline      string
	flightNumber string
}

// ComputeWeeklySchedule extracts the weekday operating pattern of each
// flight number from the dates it was observed. WeeklyPattern[0] is Monday.
func ComputeWeeklySchedule(snapshots []*models.HistoricalSnapshot, dataSource string) []models.WeeklyScheduleRow {
	type acc struct {
		airport string
		pattern [7]bool
	}
	byFlight := make(map[scheduleKey]*acc)

	for _, snapshot := range snapshots {
		weekday := mondayIndexed(snapshot.Date.Weekday())
		for _, flight := range snapshot.Flights {
			if flight.Status == "cancelled" {
				continue
			}
			key := scheduleKey{flight.DestinationCode, flight.AirlineCode, flight.FlightNumber}
			a, ok := byFlight[key]
			if !ok {
				a = &acc{airport: snapshot.AirportCode}
				byFlight[key] = a
			}
			a.pattern[weekday] = true
		}
	}

	rows := make([]models.WeeklyScheduleRow, 0, len(byFlight))
	for key, a := range byFlight {
		frequency := 0
		for _, operates := range a.pattern {
			if operates {
				frequency++
			}
		}
		rows = append(rows, models.WeeklyScheduleRow{
			Airport:       a.airport,
			Destination:   key.destination,
			Airline:       key.airline,
			FlightNumber:  key.flightNumber,
			WeeklyPattern: a.pattern,
			Frequency:     frequency,
			DataSource:    dataSource,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Destination != rows[j].Destination {
			return rows[i].Destination < rows[j].Destination
		}
		return rows[i].FlightNumber < rows[j].FlightNumber
	})
	return rows
}

// mondayIndexed converts Go's Sunday-first weekday to a Monday-first index
func mondayIndexed(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ComputeTrends compares traffic and delay between the first and second half
// of the snapshot window. Snapshots must belong to a single airport.
func ComputeTrends(airportCode string, snapshots []*models.HistoricalSnapshot, period string, now time.Time) models.TrendAnalysis {
	analysis := models.TrendAnalysis{
		AirportCode: airportCode,
		Period:      period,
		LastUpdated: now,
	}

	if len(snapshots) == 0 {
		analysis.InsufficientData = true
		return analysis
	}

	sorted := make([]*models.HistoricalSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	first := sorted[0].Date
	last := sorted[len(sorted)-1].Date
	midpoint := first.Add(last.Sub(first) / 2)

	for _, snapshot := range sorted {
		half := &analysis.SecondHalf
		if snapshot.Date.Before(midpoint) {
			half = &analysis.FirstHalf
		}
		half.DaysWithSnapshots++
		for _, flight := range snapshot.Flights {
			half.Flights++
			half.AverageDelayMins += float64(flight.DelayMinutes)
		}
	}

	finalizeHalf(&analysis.FirstHalf)
	finalizeHalf(&analysis.SecondHalf)

	if analysis.FirstHalf.Flights == 0 || analysis.SecondHalf.Flights == 0 {
		analysis.InsufficientData = true
		return analysis
	}

	analysis.TrafficChangePercent = percentChange(
		float64(analysis.FirstHalf.Flights), float64(analysis.SecondHalf.Flights))
	analysis.DelayChangePercent = percentChange(
		analysis.FirstHalf.AverageDelayMins, analysis.SecondHalf.AverageDelayMins)
	return analysis
}

func finalizeHalf(half *models.TrendHalf) {
	if half.Flights > 0 {
		half.AverageDelayMins /= float64(half.Flights)
	}
}

func percentChange(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return 100 * (after - before) / before
}
