package models

import "time"

// RequestLogRecord is one logged upstream provider call. The log is
// append-only until an explicit reset or purge.
type RequestLogRecord struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	HTTPStatus     int       `json:"http_status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Source         string    `json:"source"`
}

// Succeeded reports whether the logged call completed with a 2xx status
func (r RequestLogRecord) Succeeded() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// RequestStats is the aggregate view of the request log
type RequestStats struct {
	TotalRequests         int        `json:"total_requests"`
	SuccessfulRequests    int        `json:"successful_requests"`
	FailedRequests        int        `json:"failed_requests"`
	AverageResponseTimeMs float64    `json:"average_response_time_ms"`
	RequestsPerHour       float64    `json:"requests_per_hour"`
	LastRequestAt         *time.Time `json:"last_request_at,omitempty"`
}

// EndpointStats breaks request counts down for a single endpoint
type EndpointStats struct {
	Endpoint              string  `json:"endpoint"`
	Requests              int     `json:"requests"`
	Failures              int     `json:"failures"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// DailyRequestCount is one day of request volume
type DailyRequestCount struct {
	Date     time.Time `json:"date"`
	Requests int       `json:"requests"`
}

// DetailedRequestStats adds per-endpoint and per-day breakdowns on top of the
// plain aggregate
type DetailedRequestStats struct {
	RequestStats
	ByEndpoint []EndpointStats     `json:"by_endpoint"`
	ByDay      []DailyRequestCount `json:"by_day"`
}
