package provider

import "fmt"

// ErrorKind classifies an upstream fetch failure
type ErrorKind string

const (
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindNotFound          ErrorKind = "not_found"
	KindTransientNetwork  ErrorKind = "transient_network"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// FetchError wraps an upstream failure with its classification. Only
// transient network failures are retried; quota and auth failures surface
// immediately so the caller can fall back to stale cache without delay.
type FetchError struct {
	Kind       ErrorKind
	HTTPStatus int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream fetch failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream fetch failed (%s), status %d", e.Kind, e.HTTPStatus)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransientNetwork
}

// classifyStatus maps an HTTP status to an error kind
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429 || status == 401 || status == 403:
		return KindQuotaExceeded
	case status == 404:
		return KindNotFound
	default:
		return KindTransientNetwork
	}
}
