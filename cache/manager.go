package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lifeline-sh/lifeline/agents"
	"github.com/lifeline-sh/lifeline/metrics"
)

// Config configures the two-tier cache. The persistence threshold and the
// failure TTL are operational knobs, deliberately configuration rather than
// hard constants.
type Config struct {
	// L1Size caps the ephemeral tier.
	L1Size int `yaml:"l1_size" json:"l1_size"`

	// DefaultTTL is the entry lifetime from creation or verification.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// FailureTTL is the lifetime of a negative entry; shorter than DefaultTTL
	// so a source with no data is retried sooner.
	FailureTTL time.Duration `yaml:"failure_ttl" json:"failure_ttl"`

	// PersistThreshold is the minimum confidence for a durable (L2) write.
	PersistThreshold int `yaml:"persist_threshold" json:"persist_threshold"`

	// SweepInterval drives the expired-entry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		L1Size:           1024,
		DefaultTTL:       30 * 24 * time.Hour, // 2,592,000 seconds
		FailureTTL:       6 * time.Hour,
		PersistThreshold: 80,
		SweepInterval:    10 * time.Minute,
	}
}

// Manager owns both cache tiers. L1 is always written; L2 only when the
// answer's confidence clears the persistence threshold. An unreachable L2
// degrades the manager to L1-only, it never fails a read or write.
type Manager struct {
	cfg     Config
	l1      *l1Cache
	store   Store // nil means L1-only
	metrics *metrics.Collector
	logger  *zap.Logger

	flight  singleflight.Group
	l2Ready atomic.Bool
	closed  atomic.Bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager creates a manager and starts its sweep loop. The manager takes
// ownership of the store and closes it on Close. A nil store is allowed and
// yields an L1-only cache.
func NewManager(cfg Config, store Store, collector *metrics.Collector, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.L1Size <= 0 {
		cfg.L1Size = def.L1Size
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = def.FailureTTL
	}
	if cfg.PersistThreshold <= 0 {
		cfg.PersistThreshold = def.PersistThreshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	m := &Manager{
		cfg:       cfg,
		l1:        newL1Cache(cfg.L1Size),
		store:     store,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "cache")),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	m.l2Ready.Store(store != nil)

	go m.sweepLoop()

	m.logger.Info("cache manager initialized",
		zap.Int("l1_size", cfg.L1Size),
		zap.Duration("default_ttl", cfg.DefaultTTL),
		zap.Duration("failure_ttl", cfg.FailureTTL),
		zap.Int("persist_threshold", cfg.PersistThreshold),
		zap.Bool("durable", store != nil),
	)
	return m
}

// Get checks L1 then L2. An L2 hit is promoted into L1. Expired entries are
// misses in both tiers; reads never mutate or delete them. A negative entry
// is returned like a hit (its presence is the answer) but does not count
// toward hit metrics.
//
// Each lookup increments at most one counter: a hit in the tier that served
// it, or a miss in the deepest tier consulted. This keeps the four counters
// summing to the number of lookups, which the derived overall rate divides by.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, ErrInvalidKey
	}
	now := time.Now()

	if e, ok := m.l1.get(key, now); ok {
		if !e.Failed {
			m.metrics.L1Hit()
		}
		return e, nil
	}

	if m.store == nil {
		m.metrics.L1Miss()
		return nil, ErrCacheMiss
	}

	e, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		m.l2Ready.Store(true)
	case errors.Is(err, ErrNotFound):
		m.metrics.L2Miss()
		return nil, ErrCacheMiss
	default:
		// Degrade to L1-only; the next natural read retries the store.
		m.l2Ready.Store(false)
		m.logger.Warn("durable store unavailable, serving L1 only",
			zap.String("key", key), zap.Error(err))
		m.metrics.L2Miss()
		return nil, ErrCacheMiss
	}

	if e.Expired(now) {
		m.metrics.L2Miss()
		return nil, ErrCacheMiss
	}

	m.l1.set(key, e.clone())
	if !e.Failed {
		m.metrics.L2Hit()
	}
	return e, nil
}

// Put stores a resolved answer. It always lands in L1 so request bursts
// converge fast; it lands in L2 only when confidence clears the persistence
// threshold. Sub-threshold answers are re-resolved after a process restart
// by design.
func (m *Manager) Put(ctx context.Context, key, normalizedName string, resp *agents.Response, verified bool) (*Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	now := time.Now()
	entry := &Entry{
		CacheKey:       key,
		NormalizedName: normalizedName,
		AgentName:      resp.AgentName,
		Payload:        resp,
		Confidence:     resp.Confidence,
		Verified:       verified,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.DefaultTTL),
	}

	m.l1.set(key, entry)
	m.metrics.Write()

	if resp.Confidence >= m.cfg.PersistThreshold {
		m.putDurable(ctx, entry)
	}
	return entry, nil
}

// PutFailure stores a negative entry in both tiers under the short failure
// TTL, suppressing repeat dispatch while allowing a sooner retry than the
// normal TTL would.
func (m *Manager) PutFailure(ctx context.Context, key, normalizedName string) (*Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, ErrInvalidKey
	}

	now := time.Now()
	entry := &Entry{
		CacheKey:       key,
		NormalizedName: normalizedName,
		Failed:         true,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.FailureTTL),
	}

	m.l1.set(key, entry)
	m.metrics.Write()
	m.putDurable(ctx, entry)
	return entry, nil
}

func (m *Manager) putDurable(ctx context.Context, entry *Entry) {
	if m.store == nil {
		return
	}
	if err := m.store.Put(ctx, entry); err != nil {
		// Skip silently; the entry is retried on the next natural resolution.
		m.l2Ready.Store(false)
		m.logger.Warn("durable write skipped",
			zap.String("key", entry.CacheKey), zap.Error(err))
		return
	}
	m.l2Ready.Store(true)
}

// Verify flips verified=true on a non-failed entry and refreshes its TTL
// from now. Returns ErrNotFound when no usable entry exists. The L2 update is
// conditional on the store side so it cannot resurrect a concurrent delete.
func (m *Manager) Verify(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrInvalidKey
	}

	now := time.Now()
	found := false

	if e, ok := m.l1.get(key, now); ok {
		if e.Failed {
			return ErrNotFound
		}
		verified := e.clone()
		verified.Verified = true
		verified.CreatedAt = now
		verified.ExpiresAt = now.Add(m.cfg.DefaultTTL)
		m.l1.set(key, verified)
		found = true
	}

	if m.store != nil {
		ok, err := m.store.Verify(ctx, key, now, m.cfg.DefaultTTL)
		if err != nil {
			m.l2Ready.Store(false)
			m.logger.Warn("durable verify skipped", zap.String("key", key), zap.Error(err))
		} else if ok {
			found = true
		}
	}

	if !found {
		return ErrNotFound
	}
	return nil
}

// Invalidate removes one key from both tiers and returns how many entries
// were removed. Zero with a nil error means the key was not cached.
func (m *Manager) Invalidate(ctx context.Context, key string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if key == "" {
		return 0, ErrInvalidKey
	}

	var count int64
	if m.l1.delete(key) {
		count = 1
	}
	if m.store != nil {
		n, err := m.store.Delete(ctx, key)
		if err != nil {
			m.l2Ready.Store(false)
			m.logger.Warn("durable delete failed", zap.String("key", key), zap.Error(err))
		} else if n > count {
			count = n
		}
	}
	return count, nil
}

// InvalidateAll clears both tiers.
func (m *Manager) InvalidateAll(ctx context.Context) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	count := int64(m.l1.purge())
	if m.store != nil {
		n, err := m.store.DeleteAll(ctx)
		if err != nil {
			m.l2Ready.Store(false)
			m.logger.Warn("durable clear failed", zap.Error(err))
		} else if n > count {
			count = n
		}
	}
	return count, nil
}

// GetOrResolve is the cache-stampede guard the engine resolves through. At
// most one resolution per key is in flight at a time; concurrent missers for
// the same key wait on the first caller's result. A resolver returning
// agents.ErrNoAnswer produces a negative entry rather than an error.
func (m *Manager) GetOrResolve(ctx context.Context, key, normalizedName string, resolve func(context.Context) (*agents.Response, error)) (*Entry, bool, error) {
	e, err := m.Get(ctx, key)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, false, err
	}

	v, err, _ := m.flight.Do(key, func() (any, error) {
		// A queued duplicate may find the leader's freshly written entry;
		// peek L1 directly so the re-check does not skew miss counters.
		if e, ok := m.l1.get(key, time.Now()); ok {
			return e, nil
		}

		resp, rerr := resolve(ctx)
		if rerr != nil {
			if errors.Is(rerr, agents.ErrNoAnswer) {
				return m.PutFailure(ctx, key, normalizedName)
			}
			return nil, rerr
		}
		return m.Put(ctx, key, normalizedName, resp, false)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Entry), false, nil
}

// Ready reports whether the durable tier is reachable right now.
func (m *Manager) Ready(ctx context.Context) bool {
	if m.store == nil {
		return false
	}
	if err := m.store.Ping(ctx); err != nil {
		m.l2Ready.Store(false)
		return false
	}
	m.l2Ready.Store(true)
	return true
}

// L1Stats reports the ephemeral tier's occupancy.
func (m *Manager) L1Stats() (length, capacity int) {
	return m.l1.len(), m.cfg.L1Size
}

// Close stops the sweep loop and closes the durable store.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.stopSweep)
	<-m.sweepDone

	m.logger.Info("closing cache manager")
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// sweepLoop deletes expired entries from both tiers on an interval. Deletion
// lives here, not in the read path.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			now := time.Now()
			removed := m.l1.sweepExpired(now)
			var durable int64
			if m.store != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := m.store.DeleteExpired(ctx, now)
				cancel()
				if err != nil {
					m.logger.Warn("durable sweep failed", zap.Error(err))
				} else {
					durable = n
				}
			}
			if removed > 0 || durable > 0 {
				m.logger.Debug("sweep removed expired entries",
					zap.Int("l1", removed), zap.Int64("l2", durable))
			}
		}
	}
}
