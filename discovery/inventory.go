package discovery

import (
	"context"
	"sync"
	"time"
)

// StaticInventory is an in-memory inventory. Items added at runtime are
// timestamped so incremental passes pick up only what is new.
type StaticInventory struct {
	mu    sync.RWMutex
	items []timedItem
}

type timedItem struct {
	raw     string
	addedAt time.Time
}

// NewStaticInventory seeds an inventory; the seed items predate any pass.
func NewStaticInventory(items []string) *StaticInventory {
	inv := &StaticInventory{}
	epoch := time.Time{}
	for _, it := range items {
		inv.items = append(inv.items, timedItem{raw: it, addedAt: epoch})
	}
	return inv
}

// Add appends newly discovered items stamped with the current time.
func (s *StaticInventory) Add(items ...string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items = append(s.items, timedItem{raw: it, addedAt: now})
	}
}

func (s *StaticInventory) Items(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.raw)
	}
	return out, nil
}

func (s *StaticInventory) ItemsSince(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, it := range s.items {
		if it.addedAt.After(since) {
			out = append(out, it.raw)
		}
	}
	return out, nil
}
