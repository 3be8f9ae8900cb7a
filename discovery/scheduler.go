// Package discovery warms the cache outside the request path with periodic
// passes over the current inventory.
package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Inventory enumerates the items whose lifecycle facts should stay warm.
type Inventory interface {
	// Items returns every known raw inventory string.
	Items(ctx context.Context) ([]string, error)

	// ItemsSince returns items added after the given time.
	ItemsSince(ctx context.Context, since time.Time) ([]string, error)
}

// Resolver is the narrow view of the engine the scheduler drives. Resolve
// must return an error only for hard failures; a negative lifecycle answer is
// not an error.
type Resolver interface {
	Resolve(ctx context.Context, rawText string) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, rawText string) error

func (f ResolverFunc) Resolve(ctx context.Context, rawText string) error {
	return f(ctx, rawText)
}

// Kind distinguishes the coarse full pass from the fine incremental pass.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// Status is the outcome of one pass.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Run records one scheduler pass. Runs are retained in a bounded
// recent-history log.
type Run struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ItemsScanned int       `json:"items_scanned"`
	Status       Status    `json:"status"`
	Err          string    `json:"err,omitempty"`
}

// Config configures pass cadence and history retention.
type Config struct {
	// FullInterval drives the coarse pass over the whole inventory.
	FullInterval time.Duration `yaml:"full_interval" json:"full_interval"`

	// IncrementalInterval drives the fine pass over newly added items.
	IncrementalInterval time.Duration `yaml:"incremental_interval" json:"incremental_interval"`

	// HistorySize bounds the retained run log.
	HistorySize int `yaml:"history_size" json:"history_size"`
}

// DefaultConfig returns the default cadence: daily full, five-minute
// incremental.
func DefaultConfig() Config {
	return Config{
		FullInterval:        24 * time.Hour,
		IncrementalInterval: 5 * time.Minute,
		HistorySize:         50,
	}
}

// Scheduler runs discovery passes on its own goroutine. It never blocks a
// foreground query; it only warms the cache through the resolver, which
// dispatches to sources only on a miss.
type Scheduler struct {
	inv    Inventory
	res    Resolver
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	runs     []Run
	lastPass time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler. Start must be called to begin passes.
func NewScheduler(inv Inventory, res Resolver, cfg Config, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = def.FullInterval
	}
	if cfg.IncrementalInterval <= 0 {
		cfg.IncrementalInterval = def.IncrementalInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	return &Scheduler{
		inv:    inv,
		res:    res,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "discovery")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background pass loop.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)

	full := time.NewTicker(s.cfg.FullInterval)
	defer full.Stop()
	incremental := time.NewTicker(s.cfg.IncrementalInterval)
	defer incremental.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-full.C:
			s.RunFull(context.Background())
		case <-incremental.C:
			s.RunIncremental(context.Background())
		}
	}
}

// RunFull walks the whole inventory once and records the pass.
func (s *Scheduler) RunFull(ctx context.Context) Run {
	return s.runPass(ctx, KindFull)
}

// RunIncremental walks only items added since the previous pass.
func (s *Scheduler) RunIncremental(ctx context.Context) Run {
	return s.runPass(ctx, KindIncremental)
}

func (s *Scheduler) runPass(ctx context.Context, kind Kind) Run {
	run := Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now(),
		Status:    StatusOK,
	}

	s.mu.Lock()
	since := s.lastPass
	s.lastPass = run.StartedAt
	s.mu.Unlock()

	var (
		items []string
		err   error
	)
	if kind == KindFull {
		items, err = s.inv.Items(ctx)
	} else {
		items, err = s.inv.ItemsSince(ctx, since)
	}
	if err != nil {
		run.Status = StatusFailed
		run.Err = err.Error()
		run.FinishedAt = time.Now()
		s.record(run)
		s.logger.Error("inventory listing failed",
			zap.String("kind", string(kind)), zap.Error(err))
		return run
	}

	var hardErr error
scan:
	for _, item := range items {
		select {
		case <-s.stop:
			break scan
		case <-ctx.Done():
			hardErr = ctx.Err()
			break scan
		default:
		}

		run.ItemsScanned++
		if rerr := s.res.Resolve(ctx, item); rerr != nil && isHard(rerr) {
			hardErr = rerr
		}
	}

	if hardErr != nil {
		run.Status = StatusFailed
		run.Err = hardErr.Error()
	}
	run.FinishedAt = time.Now()
	s.record(run)

	s.logger.Info("discovery pass finished",
		zap.String("kind", string(kind)),
		zap.String("status", string(run.Status)),
		zap.Int("items", run.ItemsScanned),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run
}

// isHard separates real failures from the timeouts a pass tolerates.
func isHard(err error) bool {
	return !errors.Is(err, context.DeadlineExceeded)
}

func (s *Scheduler) record(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, Run{})
	copy(s.runs[1:], s.runs)
	s.runs[0] = run
	if len(s.runs) > s.cfg.HistorySize {
		s.runs = s.runs[:s.cfg.HistorySize]
	}
}

// History returns recorded passes, most recent first.
func (s *Scheduler) History() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Run, len(s.runs))
	copy(out, s.runs)
	return out
}
