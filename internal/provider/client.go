// Package provider fetches flight lists from the upstream data provider and
// normalizes them into the snapshot shape used by the rest of the system.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"flightboard/internal/models"
)

// RequestLogger receives the outcome of every upstream attempt. Satisfied by
// tracker.Tracker.
type RequestLogger interface {
	LogRequest(endpoint, method string, httpStatus int, responseTimeMs int64, source string)
}

// Client calls the flight-data provider. Every fetch carries a hard timeout
// and every attempt, success or failure, is reported to the request logger.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     RequestLogger
	clock      clockwork.Clock
	maxRetries int
	backoff    time.Duration
}

// New creates a provider client. timeout bounds each individual HTTP attempt.
func New(baseURL, apiKey string, timeout time.Duration, logger RequestLogger, clock clockwork.Clock) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		clock:      clock,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}
}

// Fetch retrieves today's flights for one airport and direction. Transient
// network failures are retried up to maxRetries with doubling backoff;
// quota, auth and not-found failures are surfaced immediately.
func (c *Client) Fetch(ctx context.Context, airportCode string, direction models.FlightDirection) (*models.HistoricalSnapshot, error) {
	endpoint := fmt.Sprintf("/airports/%s/%ss", airportCode, direction)

	backoff := c.backoff
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying upstream fetch",
				"airport", airportCode, "direction", direction,
				"attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, &FetchError{Kind: KindTransientNetwork, Err: ctx.Err()}
			case <-c.clock.After(backoff):
			}
			backoff *= 2
		}

		snapshot, err := c.fetchOnce(ctx, endpoint, airportCode, direction)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err

		fetchErr, ok := err.(*FetchError)
		if !ok || !fetchErr.Retryable() {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, endpoint, airportCode string, direction models.FlightDirection) (*models.HistoricalSnapshot, error) {
	fullURL, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformedResponse, Err: fmt.Errorf("bad endpoint: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformedResponse, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	elapsedMs := c.clock.Now().Sub(start).Milliseconds()

	if err != nil {
		c.logger.LogRequest(endpoint, http.MethodGet, 0, elapsedMs, "provider")
		return nil, &FetchError{Kind: KindTransientNetwork, Err: err}
	}
	defer resp.Body.Close()

	c.logger.LogRequest(endpoint, http.MethodGet, resp.StatusCode, elapsedMs, "provider")

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Kind: classifyStatus(resp.StatusCode), HTTPStatus: resp.StatusCode}
	}

	var payload rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{Kind: KindMalformedResponse, Err: err}
	}

	raw, ok := payload.flightList()
	if !ok {
		return nil, &FetchError{Kind: KindMalformedResponse, Err: fmt.Errorf("response contains no flight list")}
	}

	return &models.HistoricalSnapshot{
		AirportCode: airportCode,
		Date:        models.Day(c.clock.Now()),
		Direction:   direction,
		Flights:     normalizeFlights(raw),
	}, nil
}
