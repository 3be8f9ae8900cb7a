package cache

import (
	"context"
	"time"
)

// Store is the durable L2 contract. Implementations live in cache/sqlstore
// and cache/redistore. The store is shared across processes and is accessed
// without client-side locking; Verify must be a conditional write so it
// cannot race a concurrent Put or Delete into a lost update.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put upserts the entry.
	Put(ctx context.Context, entry *Entry) error

	// Verify conditionally flips verified=true and refreshes expiry on a
	// non-failed entry. Returns false when no such entry exists.
	Verify(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)

	// Delete removes the entry, returning how many rows were removed.
	Delete(ctx context.Context, key string) (int64, error)

	// DeleteAll clears the store, returning how many rows were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// DeleteExpired removes entries whose TTL lapsed before now. Backends with
	// native expiry may report zero.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// RecentByAgent returns the newest entries written by one source.
	RecentByAgent(ctx context.Context, agentName string, limit int) ([]*Entry, error)

	// Ping reports store reachability.
	Ping(ctx context.Context) error

	Close() error
}
