// Package cache implements the two-tier lifecycle-fact cache: an ephemeral
// in-process L1 in front of a durable L2 store, with confidence-gated writes,
// negative caching and a single-flight resolution guard.
package cache

import (
	"errors"
	"strings"
	"time"

	"github.com/lifeline-sh/lifeline/agents"
)

var (
	// ErrCacheMiss indicates no usable entry in either tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrNotFound indicates verify/invalidate targeted a missing key. A result
	// value, not a failure.
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidKey indicates an empty or malformed cache key.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrClosed indicates the manager has been shut down.
	ErrClosed = errors.New("cache manager is closed")
)

// Key builds the deterministic cache key for a normalized name and optional
// version. It doubles as the L2 partition key.
func Key(name, version string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	if version == "" {
		return name
	}
	return name + ":" + version
}

// Entry is one cached answer. A failed entry carries no payload and exists
// only to suppress repeat dispatch until its (short) TTL lapses.
type Entry struct {
	CacheKey       string           `json:"cache_key"`
	NormalizedName string           `json:"normalized_name"`
	AgentName      string           `json:"agent_name"`
	Payload        *agents.Response `json:"response_payload,omitempty"`
	Confidence     int              `json:"confidence_level"`
	Verified       bool             `json:"verified"`
	Failed         bool             `json:"marked_as_failed"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// Expired reports whether the entry's TTL has lapsed. Expired entries are
// misses on read; removing them is the sweep's job.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// clone returns a shallow copy so tier promotion and verification never
// mutate an entry another reader may hold.
func (e *Entry) clone() *Entry {
	c := *e
	return &c
}
