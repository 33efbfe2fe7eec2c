package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/david/grant-aggregator/internal/metrics"
)

const (
	sourceFailureThreshold = 3
	sourceBlockBase        = 2 * time.Minute
	sourceBlockMax         = 15 * time.Minute
)

func isBlocked(h Health, now time.Time) bool {
	if h.Status != HealthDown {
		return false
	}
	// Forced down without a deadline stays down until someone marks it healthy.
	if h.BlockedUntil.IsZero() {
		return true
	}
	return now.Before(h.BlockedUntil)
}

// RecordResult folds the outcome of one fetch into the source health.
// Consecutive failures past the threshold block the source with an
// exponential back-off; a success resets it.
func (r *Registry) RecordResult(id string, err error, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return
	}
	now := r.now()
	h := &d.Health
	h.TotalRequests++
	h.LastCheckedAt = now
	if latency > 0 {
		h.LastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(d.ID).Observe(latency.Seconds())
	}

	if err == nil {
		h.Status = HealthHealthy
		h.ConsecutiveFailures = 0
		h.BlockedUntil = time.Time{}
		h.LastError = ""
		metrics.SourceRequestsTotal.WithLabelValues(d.ID, "ok").Inc()
		metrics.SourceAvailable.WithLabelValues(d.ID).Set(1)
		return
	}

	h.ConsecutiveFailures++
	h.TotalFailures++
	h.LastError = err.Error()

	status := "error"
	if isTimeoutLike(err) {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(d.ID, status).Inc()

	if h.ConsecutiveFailures >= sourceFailureThreshold {
		h.Status = HealthDown
		h.BlockedUntil = now.Add(blockDuration(h.ConsecutiveFailures))
		metrics.SourceAvailable.WithLabelValues(d.ID).Set(0)
		return
	}
	h.Status = HealthDegraded
}

// blockDuration is base × 2^(failures - threshold), capped.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - sourceFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := sourceBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > sourceBlockMax {
			return sourceBlockMax
		}
	}
	return d
}

func isTimeoutLike(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// IsTimeout reports whether err looks like a timeout.
func IsTimeout(err error) bool {
	return isTimeoutLike(err)
}
