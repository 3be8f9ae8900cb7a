// Package lifeline answers "is this software still supported, and what is its
// lifecycle state" by routing normalized queries to a bounded set of
// knowledge sources and caching the reconciled answer in a two-tier cache.
package lifeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lifeline-sh/lifeline/agents"
	"github.com/lifeline-sh/lifeline/agents/endoflife"
	"github.com/lifeline-sh/lifeline/cache"
	"github.com/lifeline-sh/lifeline/cache/redistore"
	"github.com/lifeline-sh/lifeline/cache/sqlstore"
	"github.com/lifeline-sh/lifeline/config"
	"github.com/lifeline-sh/lifeline/internal/pool"
	"github.com/lifeline-sh/lifeline/metrics"
	"github.com/lifeline-sh/lifeline/normalize"
)

// ErrNotFound is returned by Verify for a missing or failed-only key.
var ErrNotFound = cache.ErrNotFound

// Result is the outcome of one resolution.
type Result struct {
	// Query is the normalized form of the raw input.
	Query normalize.Query `json:"query"`

	// CacheKey is the deterministic key the answer is cached under.
	CacheKey string `json:"cache_key,omitempty"`

	// Answer is the winning lifecycle response; nil for negative or
	// unresolvable results.
	Answer *agents.Response `json:"answer,omitempty"`

	// Confidence is the answer's confidence level.
	Confidence int `json:"confidence"`

	// Cached is true when the answer came from a cache tier rather than a
	// fresh dispatch.
	Cached bool `json:"cached"`

	// Negative is true when no source had data; the negative fact itself is
	// cached to suppress repeat dispatch.
	Negative bool `json:"negative"`

	// Unresolvable is true when the raw input had no usable name. Not an
	// error.
	Unresolvable bool `json:"unresolvable"`

	// Verified marks the answer as confirmed rather than provisional.
	Verified bool `json:"verified"`
}

// Status is a point-in-time engine view.
type Status struct {
	L1Entries  int              `json:"l1_entries"`
	L1Capacity int              `json:"l1_capacity"`
	L2Ready    bool             `json:"l2_ready"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// Engine wires the normalizer, selector, dispatcher and cache manager into
// the four core operations. Engines are explicitly constructed values;
// isolated instances can coexist, e.g. in tests.
type Engine struct {
	cfg        *config.Config
	selector   *agents.Selector
	dispatcher *agents.Dispatcher
	cache      *cache.Manager
	metrics    *metrics.Collector
	pool       *pool.Pool
	logger     *zap.Logger
	tracer     trace.Tracer
}

type engineOptions struct {
	store      cache.Store
	storeSet   bool
	sources    map[string]agents.Agent
	routes     []agents.Route
	registerer prometheus.Registerer
}

// Option customizes engine construction.
type Option func(*engineOptions)

// WithStore injects a durable store, overriding the configured backend. Nil
// yields an L1-only engine.
func WithStore(s cache.Store) Option {
	return func(o *engineOptions) {
		o.store = s
		o.storeSet = true
	}
}

// WithSources replaces the built-in source registry.
func WithSources(sources map[string]agents.Agent) Option {
	return func(o *engineOptions) { o.sources = sources }
}

// WithRoutes replaces the built-in routing table.
func WithRoutes(routes []agents.Route) Option {
	return func(o *engineOptions) { o.routes = routes }
}

// WithRegisterer registers metrics on the given Prometheus registerer instead
// of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// New constructs an engine from configuration.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if !o.storeSet {
		var err error
		store, err = openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, o.registerer, logger)
	manager := cache.NewManager(cache.Config{
		L1Size:           cfg.Cache.L1Size,
		DefaultTTL:       cfg.Cache.DefaultTTL,
		FailureTTL:       cfg.Cache.FailureTTL,
		PersistThreshold: cfg.Cache.PersistThreshold,
		SweepInterval:    cfg.Cache.SweepInterval,
	}, store, collector, logger)

	sources := o.sources
	if sources == nil {
		client := endoflife.NewClient(cfg.Agents.EndOfLifeURL, cfg.Agents.SourceTimeout, logger)
		sources = endoflife.DefaultAgents(client)
	}

	p := pool.New(cfg.Agents.Workers, cfg.Agents.QueueSize)
	dispatcher := agents.NewDispatcher(sources, agents.DispatcherConfig{
		SourceTimeout: cfg.Agents.SourceTimeout,
		HistorySize:   cfg.Agents.HistorySize,
		RatePerSource: rate.Limit(cfg.Agents.RatePerSource),
		RateBurst:     cfg.Agents.RateBurst,
	}, p, logger)

	return &Engine{
		cfg:        cfg,
		selector:   agents.NewSelector(o.routes),
		dispatcher: dispatcher,
		cache:      manager,
		metrics:    collector,
		pool:       p,
		logger:     logger.With(zap.String("component", "engine")),
		tracer:     otel.Tracer("lifeline"),
	}, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "", "sql":
		store, err := sqlstore.Open(sqlstore.Config{
			Driver: cfg.Cache.SQL.Driver,
			DSN:    cfg.Cache.SQL.DSN,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sql store: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redistore.Open(redistore.Config{
			Addr:         cfg.Cache.Redis.Addr,
			Password:     cfg.Cache.Redis.Password,
			DB:           cfg.Cache.Redis.DB,
			PoolSize:     cfg.Cache.Redis.PoolSize,
			MinIdleConns: cfg.Cache.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

// Resolve answers one raw inventory string, from cache when possible. A
// malformed input yields an unresolvable result, and an all-sources-empty
// outcome yields a negative result; neither is an error.
func (e *Engine) Resolve(ctx context.Context, rawText string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.resolve",
		trace.WithAttributes(attribute.String("raw", rawText)))
	defer span.End()

	q := normalize.Normalize(rawText)
	if q.Name == "" {
		return &Result{Query: q, Unresolvable: true}, nil
	}
	key := cache.Key(q.Name, q.Version)

	entry, cached, err := e.cache.GetOrResolve(ctx, key, q.Name, func(ctx context.Context) (*agents.Response, error) {
		sources := e.selector.Select(q.Name)
		return e.dispatcher.Resolve(ctx, q.Name, q.Version, sources)
	})
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			return &Result{Query: q, Unresolvable: true}, nil
		}
		return nil, err
	}

	res := &Result{
		Query:      q,
		CacheKey:   key,
		Answer:     entry.Payload,
		Confidence: entry.Confidence,
		Cached:     cached,
		Negative:   entry.Failed,
		Verified:   entry.Verified,
	}
	span.SetAttributes(
		attribute.Bool("cached", res.Cached),
		attribute.Bool("negative", res.Negative),
	)
	return res, nil
}

// Verify marks a cached answer as confirmed and refreshes its TTL. Returns
// ErrNotFound when no usable entry exists.
func (e *Engine) Verify(ctx context.Context, cacheKey string) error {
	return e.cache.Verify(ctx, cacheKey)
}

// Clear invalidates one cache key, or everything when scope is "all" or
// empty. Returns the number of removed entries.
func (e *Engine) Clear(ctx context.Context, scope string) (int64, error) {
	if scope == "" || scope == "all" {
		return e.cache.InvalidateAll(ctx)
	}
	return e.cache.Invalidate(ctx, scope)
}

// Status reports tier occupancy, durable-store readiness and the metrics
// snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	length, capacity := e.cache.L1Stats()
	return Status{
		L1Entries:  length,
		L1Capacity: capacity,
		L2Ready:    e.cache.Ready(ctx),
		Metrics:    e.metrics.Read(),
	}
}

// History returns recent source responses, most recent first.
func (e *Engine) History() []*agents.Response {
	return e.dispatcher.History()
}

// ClearHistory drops the response history.
func (e *Engine) ClearHistory() int {
	return e.dispatcher.ClearHistory()
}

// WarmResolver adapts the engine for the discovery scheduler: negative and
// unresolvable outcomes are not errors during warming.
func (e *Engine) WarmResolver() func(ctx context.Context, rawText string) error {
	return func(ctx context.Context, rawText string) error {
		_, err := e.Resolve(ctx, rawText)
		return err
	}
}

// Close shuts down the cache manager (and its store) and the worker pool.
func (e *Engine) Close() error {
	err := e.cache.Close()
	e.pool.Close()
	return err
}
