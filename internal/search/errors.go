package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/david/grant-aggregator/internal/ingest"
)

var (
	ErrNoSources      = errors.New("no active sources")
	ErrInvalidOptions = errors.New("invalid search options")
)

// Source failure kinds.
const (
	KindTimeout    = "timeout"
	KindTransport  = "transport"
	KindHTTPStatus = "http_status"
	KindDecode     = "decode"
	KindSchema     = "schema"
)

// Aggregation error codes.
const (
	CodeNoSources        = "no_sources"
	CodeAllSourcesFailed = "all_sources_failed"
)

// SourceError is attached to the response of a single failing source. It
// never aborts a search.
type SourceError struct {
	SourceID  string
	Kind      string
	Retryable bool
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// AggregationError is the only error Search surfaces: no source could be
// queried, or every selected source failed.
type AggregationError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *AggregationError) Error() string {
	if e.Err == nil {
		return "aggregation failed: " + e.Code
	}
	return fmt.Sprintf("aggregation failed: %s: %v", e.Code, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// IsRetryable reports whether re-issuing the failed operation may succeed.
func IsRetryable(err error) bool {
	var ae *AggregationError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// classifyFetchError maps a transport failure to a SourceError.
func classifyFetchError(sourceID string, err error) *SourceError {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	out := &SourceError{SourceID: sourceID, Err: err}

	var status *ingest.StatusError
	switch {
	case errors.As(err, &status):
		out.Kind = KindHTTPStatus
		out.Retryable = status.Retryable()
	case ingest.IsTimeout(err):
		out.Kind = KindTimeout
		out.Retryable = true
	case errors.Is(err, context.Canceled):
		out.Kind = KindTransport
	case errors.Is(err, ingest.ErrBodyTooLarge), errors.Is(err, ingest.ErrInvalidBaseURL):
		out.Kind = KindTransport
	default:
		out.Kind = KindTransport
		out.Retryable = true
	}
	return out
}
