// Package redistore implements the durable cache tier on Redis for
// deployments where the cache is shared across processes. Entries are JSON
// values under a key prefix; a per-agent sorted set provides the "most recent
// answers from one source" view.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lifeline-sh/lifeline/cache"
)

const (
	entryPrefix = "lifeline:cache:"
	agentPrefix = "lifeline:agents:"

	// agentIndexCap bounds each per-agent recency index.
	agentIndexCap = 1000

	// verifyRetries bounds the optimistic Verify transaction.
	verifyRetries = 3
)

// Config configures the Redis connection.
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultConfig returns default Redis settings.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Store implements cache.Store on Redis.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// Open connects and verifies reachability.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.With(zap.String("component", "redistore")),
	}
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	data, err := s.client.Get(ctx, entryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store get failed: %w", err)
	}

	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &e, nil
}

func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil // already expired, nothing to store
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryPrefix+entry.CacheKey, data, ttl)
		if entry.AgentName != "" {
			idx := agentPrefix + entry.AgentName
			pipe.ZAdd(ctx, idx, redis.Z{
				Score:  float64(entry.CreatedAt.Unix()),
				Member: entry.CacheKey,
			})
			pipe.ZRemRangeByRank(ctx, idx, 0, int64(-agentIndexCap-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store put failed: %w", err)
	}
	return nil
}

// Verify flips verified=true on a non-failed entry via an optimistic WATCH
// transaction, so a racing Put or Delete wins over a stale verify.
func (s *Store) Verify(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error) {
	rkey := entryPrefix + key

	for attempt := 0; attempt < verifyRetries; attempt++ {
		verified := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, rkey).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}

			var e cache.Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if e.Failed {
				return nil
			}

			e.Verified = true
			e.CreatedAt = now
			e.ExpiresAt = now.Add(ttl)
			out, err := json.Marshal(&e)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rkey, out, ttl)
				return nil
			})
			if err == nil {
				verified = true
			}
			return err
		}, rkey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("store verify failed: %w", err)
		}
		return verified, nil
	}
	return false, fmt.Errorf("store verify failed: %w", redis.TxFailedErr)
}

func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Del(ctx, entryPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("store delete failed: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	count, err := s.deleteByPattern(ctx, entryPrefix+"*")
	if err != nil {
		return 0, err
	}
	// Recency indexes are derived data; their count is not reported.
	if _, err := s.deleteByPattern(ctx, agentPrefix+"*"); err != nil {
		return count, err
	}
	return count, nil
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var total int64
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		total += n
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				return total, fmt.Errorf("store clear failed: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("store clear scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return total, fmt.Errorf("store clear failed: %w", err)
	}
	return total, nil
}

// DeleteExpired is a no-op: Redis expires entries natively through the TTL
// set at Put/Verify time.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) RecentByAgent(ctx context.Context, agentName string, limit int) ([]*cache.Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	// Over-fetch: index members may point at entries that already expired.
	keys, err := s.client.ZRevRange(ctx, agentPrefix+agentName, 0, int64(limit*2-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("store recent query failed: %w", err)
	}

	out := make([]*cache.Entry, 0, limit)
	for _, key := range keys {
		e, err := s.Get(ctx, key)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
