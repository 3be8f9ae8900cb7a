package agents

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lifeline-sh/lifeline/internal/pool"
)

// DispatcherConfig configures fan-out behavior.
type DispatcherConfig struct {
	// SourceTimeout bounds each individual source call.
	SourceTimeout time.Duration `yaml:"source_timeout" json:"source_timeout"`

	// CollectGrace is added to SourceTimeout when waiting for the fan-out to
	// drain; a result arriving after the window is discarded.
	CollectGrace time.Duration `yaml:"collect_grace" json:"collect_grace"`

	// HistorySize bounds the most-recent-first response buffer.
	HistorySize int `yaml:"history_size" json:"history_size"`

	// RatePerSource limits calls per second against one source.
	RatePerSource rate.Limit `yaml:"rate_per_source" json:"rate_per_source"`

	// RateBurst is the per-source burst allowance.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		SourceTimeout: 10 * time.Second,
		CollectGrace:  500 * time.Millisecond,
		HistorySize:   100,
		RatePerSource: 5,
		RateBurst:     10,
	}
}

// Dispatcher fans a query out concurrently to selected sources, tolerates
// partial failure, and ranks the answers.
type Dispatcher struct {
	agents map[string]Agent
	cfg    DispatcherConfig
	pool   *pool.Pool

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	history *historyBuffer
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewDispatcher creates a dispatcher over the given source registry. The pool
// bounds fan-out concurrency and is shared with the caller.
func NewDispatcher(sources map[string]Agent, cfg DispatcherConfig, p *pool.Pool, logger *zap.Logger) *Dispatcher {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultDispatcherConfig().SourceTimeout
	}
	if cfg.CollectGrace <= 0 {
		cfg.CollectGrace = DefaultDispatcherConfig().CollectGrace
	}
	if cfg.RatePerSource <= 0 {
		cfg.RatePerSource = DefaultDispatcherConfig().RatePerSource
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultDispatcherConfig().RateBurst
	}

	return &Dispatcher{
		agents:   sources,
		cfg:      cfg,
		pool:     p,
		limiters: make(map[string]*rate.Limiter),
		history:  newHistoryBuffer(cfg.HistorySize),
		logger:   logger.With(zap.String("component", "dispatcher")),
		tracer:   otel.Tracer("lifeline/agents"),
	}
}

type answer struct {
	idx  int
	resp *Response
}

// Resolve queries every listed source concurrently and returns the winning
// response: highest confidence, ties broken by earlier selector position.
// A source timeout or error only removes that source from ranking. When every
// source answers empty, ErrNoAnswer is returned; the caller must treat it as a
// negative result eligible for negative caching. A cancelled or expired caller
// context yields ctx.Err() instead: those sources were never consulted, so the
// outcome must not be cached as negative.
func (d *Dispatcher) Resolve(ctx context.Context, name, version string, sourceIDs []string) (*Response, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.resolve",
		trace.WithAttributes(
			attribute.String("product", name),
			attribute.Int("sources", len(sourceIDs)),
		))
	defer span.End()

	results := make(chan answer, len(sourceIDs))
	submitted := 0
	for i, id := range sourceIDs {
		agent, ok := d.agents[id]
		if !ok {
			d.logger.Warn("unknown source in selection", zap.String("source", id))
			continue
		}

		idx := i
		task := func(taskCtx context.Context) {
			results <- answer{idx: idx, resp: d.querySource(taskCtx, agent, name, version)}
		}
		if err := d.pool.Submit(ctx, task); err != nil {
			// Saturated or closed pool: the source counts as answerless. The
			// pool is the concurrency bound; spilling onto raw goroutines
			// would lift it exactly when a burst saturates it.
			d.logger.Warn("pool submit failed, source skipped",
				zap.String("source", id), zap.Error(err))
			results <- answer{idx: idx}
		}
		submitted++
	}
	if submitted == 0 {
		return nil, ErrNoAnswer
	}

	// Wait for the fan-out to drain, but never longer than one source timeout
	// plus grace. Late results land in the buffered channel and are dropped;
	// sibling calls are not cancelled.
	window := time.NewTimer(d.cfg.SourceTimeout + d.cfg.CollectGrace)
	defer window.Stop()

	var best *Response
	bestIdx := len(sourceIDs)
	received := 0
collect:
	for received < submitted {
		select {
		case a := <-results:
			received++
			if a.resp == nil {
				continue
			}
			if best == nil || a.resp.Confidence > best.Confidence ||
				(a.resp.Confidence == best.Confidence && a.idx < bestIdx) {
				best = a.resp
				bestIdx = a.idx
			}
		case <-window.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	if best == nil {
		// A dead caller context is not a "no source had data" outcome: the
		// sources were never (fully) consulted, so the result must not be
		// eligible for negative caching.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoAnswer
	}
	span.SetAttributes(
		attribute.String("winner", best.AgentName),
		attribute.Int("confidence", best.Confidence),
	)
	return best, nil
}

// querySource runs one source call under its own timeout and rate limit.
// Any failure is reduced to "no answer" for that source.
func (d *Dispatcher) querySource(ctx context.Context, agent Agent, name, version string) *Response {
	qctx, cancel := context.WithTimeout(ctx, d.cfg.SourceTimeout)
	defer cancel()

	if err := d.limiter(agent.Name()).Wait(qctx); err != nil {
		d.logger.Debug("rate limit wait aborted",
			zap.String("source", agent.Name()), zap.Error(err))
		return nil
	}

	resp, err := agent.Query(qctx, name, version)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoAnswer):
			d.logger.Debug("source had no answer",
				zap.String("source", agent.Name()), zap.String("product", name))
		case errors.Is(err, context.DeadlineExceeded):
			d.logger.Warn("source timed out",
				zap.String("source", agent.Name()), zap.String("product", name))
		default:
			d.logger.Warn("source failed",
				zap.String("source", agent.Name()), zap.Error(err))
		}
		return nil
	}
	if resp == nil {
		return nil
	}

	if resp.AgentName == "" {
		resp.AgentName = agent.Name()
	}
	if resp.FetchedAt.IsZero() {
		resp.FetchedAt = time.Now()
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 100 {
		resp.Confidence = 100
	}

	d.history.add(resp)
	return resp
}

func (d *Dispatcher) limiter(source string) *rate.Limiter {
	d.limMu.Lock()
	defer d.limMu.Unlock()

	lim, ok := d.limiters[source]
	if !ok {
		lim = rate.NewLimiter(d.cfg.RatePerSource, d.cfg.RateBurst)
		d.limiters[source] = lim
	}
	return lim
}

// History returns the buffered responses, most recent first.
func (d *Dispatcher) History() []*Response { return d.history.snapshot() }

// ClearHistory drops the buffer and returns how many entries it held.
func (d *Dispatcher) ClearHistory() int { return d.history.clear() }
