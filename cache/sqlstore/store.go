// Package sqlstore implements the durable cache tier on a relational
// database through GORM. SQLite (pure Go) is the zero-dependency default;
// postgres is selectable for shared deployments.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lifeline-sh/lifeline/agents"
	"github.com/lifeline-sh/lifeline/cache"
)

// Config selects the backing database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn"`
}

// DefaultConfig returns a local sqlite file store.
func DefaultConfig() Config {
	return Config{Driver: "sqlite", DSN: "lifeline.db"}
}

// entryRecord is the persisted schema. The three composite indexes back the
// store's query shapes: best known answer for a key, usable non-failed answer
// for a key, and most recent answers from one source.
type entryRecord struct {
	CacheKey       string    `gorm:"column:cache_key;primaryKey;size:512;index:idx_best_answer,priority:1;index:idx_usable_answer,priority:1"`
	NormalizedName string    `gorm:"column:normalized_name;size:512"`
	AgentName      string    `gorm:"column:agent_name;size:128;index:idx_agent_recency,priority:1"`
	Payload        []byte    `gorm:"column:response_payload"`
	Confidence     int       `gorm:"column:confidence_level;index:idx_best_answer,sort:desc,priority:3"`
	Verified       bool      `gorm:"column:verified;index:idx_best_answer,sort:desc,priority:2;index:idx_usable_answer,sort:desc,priority:3"`
	Failed         bool      `gorm:"column:marked_as_failed;index:idx_usable_answer,priority:2"`
	CreatedAt      time.Time `gorm:"column:created_at;index:idx_best_answer,sort:desc,priority:4;index:idx_agent_recency,sort:desc,priority:2"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
}

func (entryRecord) TableName() string { return "cache_entries" }

// Store implements cache.Store on GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects per config, migrates the schema and returns the store.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultConfig().DSN
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	return New(db, logger)
}

// New wraps an existing GORM handle, migrating the schema.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "sqlstore")),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).First(&rec, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store get failed: %w", err)
	}
	return toEntry(&rec)
}

func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	rec, err := toRecord(entry)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("store put failed: %w", err)
	}
	return nil
}

// Verify is a conditional update: only a non-failed row flips to verified.
// The WHERE clause is the store-side guard against racing a delete or a
// negative overwrite.
func (s *Store) Verify(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&entryRecord{}).
		Where("cache_key = ? AND marked_as_failed = ?", key, false).
		Updates(map[string]any{
			"verified":   true,
			"created_at": now,
			"expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return false, fmt.Errorf("store verify failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&entryRecord{}, "cache_key = ?", key)
	if res.Error != nil {
		return 0, fmt.Errorf("store delete failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&entryRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("store clear failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&entryRecord{}, "expires_at <= ?", now)
	if res.Error != nil {
		return 0, fmt.Errorf("store expiry sweep failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) RecentByAgent(ctx context.Context, agentName string, limit int) ([]*cache.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []entryRecord
	err := s.db.WithContext(ctx).
		Where("agent_name = ?", agentName).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store recent query failed: %w", err)
	}

	out := make([]*cache.Entry, 0, len(recs))
	for i := range recs {
		e, err := toEntry(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(e *cache.Entry) (*entryRecord, error) {
	rec := &entryRecord{
		CacheKey:       e.CacheKey,
		NormalizedName: e.NormalizedName,
		AgentName:      e.AgentName,
		Confidence:     e.Confidence,
		Verified:       e.Verified,
		Failed:         e.Failed,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		rec.Payload = data
	}
	return rec, nil
}

func toEntry(rec *entryRecord) (*cache.Entry, error) {
	e := &cache.Entry{
		CacheKey:       rec.CacheKey,
		NormalizedName: rec.NormalizedName,
		AgentName:      rec.AgentName,
		Confidence:     rec.Confidence,
		Verified:       rec.Verified,
		Failed:         rec.Failed,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
	}
	if len(rec.Payload) > 0 {
		var resp agents.Response
		if err := json.Unmarshal(rec.Payload, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		e.Payload = &resp
	}
	return e, nil
}
