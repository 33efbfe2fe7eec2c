package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/david/grant-aggregator/internal/models"
)

// Entry is one cached source response: the normalized grants of a single
// source for a single query.
type Entry struct {
	SourceID string         `json:"source_id"`
	Grants   []models.Grant `json:"grants"`
	StoredAt time.Time      `json:"stored_at"`
	Latency  time.Duration  `json:"latency_ns"`
	// ExpiresAt is stamped by Tiered.Set; zero means no known expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e Entry) clone() Entry {
	e.Grants = models.CloneGrants(e.Grants)
	return e
}

// Key derives the cache key of a source response. canonicalQuery must
// already be case and whitespace normalized.
func Key(sourceID, canonicalQuery string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sourceID) + "\x00" + canonicalQuery))
	return hex.EncodeToString(sum[:])
}

// TTLPolicy picks how long a source response stays fresh. National
// catalogs move faster than regional ones.
type TTLPolicy struct {
	National time.Duration
	Regional time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{National: 15 * time.Minute, Regional: time.Hour}
}

func (p TTLPolicy) For(national bool) time.Duration {
	if national {
		return p.National
	}
	return p.Regional
}
