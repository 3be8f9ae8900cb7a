// Package metrics counts cache tier outcomes and derives hit rates.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds process-lifetime monotonic counters. Rates are always
// recomputed at read time, never stored. Increments are atomic and reads are
// lock-free; derived rates are eventually consistent.
type Collector struct {
	l1Hits        atomic.Int64
	l1Misses      atomic.Int64
	l2Hits        atomic.Int64
	l2Misses      atomic.Int64
	writes        atomic.Int64
	apiCallsSaved atomic.Int64

	promHits   *prometheus.CounterVec
	promMisses *prometheus.CounterVec
	promWrites prometheus.Counter
	promSaved  prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector registering its Prometheus mirrors on reg.
// A nil registerer gets a private registry so isolated instances (tests,
// embedded engines) never collide.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.promHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits per tier",
		},
		[]string{"tier"},
	)
	c.promMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses per tier",
		},
		[]string{"tier"},
	)
	c.promWrites = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of cache writes",
		},
	)
	c.promSaved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_saved_total",
			Help:      "Dispatcher invocations avoided by cache hits",
		},
	)

	return c
}

// L1Hit records an L1 hit and one avoided dispatcher invocation.
func (c *Collector) L1Hit() {
	c.l1Hits.Add(1)
	c.apiCallsSaved.Add(1)
	c.promHits.WithLabelValues("l1").Inc()
	c.promSaved.Inc()
}

// L1Miss records an L1 miss.
func (c *Collector) L1Miss() {
	c.l1Misses.Add(1)
	c.promMisses.WithLabelValues("l1").Inc()
}

// L2Hit records an L2 hit and one avoided dispatcher invocation.
func (c *Collector) L2Hit() {
	c.l2Hits.Add(1)
	c.apiCallsSaved.Add(1)
	c.promHits.WithLabelValues("l2").Inc()
	c.promSaved.Inc()
}

// L2Miss records an L2 miss.
func (c *Collector) L2Miss() {
	c.l2Misses.Add(1)
	c.promMisses.WithLabelValues("l2").Inc()
}

// Write records a cache write (normal or negative).
func (c *Collector) Write() {
	c.writes.Add(1)
	c.promWrites.Inc()
}

// Snapshot is a point-in-time view of the counters plus derived rates.
type Snapshot struct {
	L1Hits        int64 `json:"l1_hits"`
	L1Misses      int64 `json:"l1_misses"`
	L2Hits        int64 `json:"l2_hits"`
	L2Misses      int64 `json:"l2_misses"`
	Writes        int64 `json:"writes"`
	APICallsSaved int64 `json:"api_calls_saved"`

	L1HitRate      float64 `json:"l1_hit_rate"`
	L2HitRate      float64 `json:"l2_hit_rate"`
	OverallHitRate float64 `json:"overall_hit_rate"`
	MissRate       float64 `json:"miss_rate"`
}

// Read returns the counters with rates recomputed.
func (c *Collector) Read() Snapshot {
	s := Snapshot{
		L1Hits:        c.l1Hits.Load(),
		L1Misses:      c.l1Misses.Load(),
		L2Hits:        c.l2Hits.Load(),
		L2Misses:      c.l2Misses.Load(),
		Writes:        c.writes.Load(),
		APICallsSaved: c.apiCallsSaved.Load(),
	}

	s.L1HitRate = ratio(s.L1Hits, s.L1Hits+s.L1Misses)
	s.L2HitRate = ratio(s.L2Hits, s.L2Hits+s.L2Misses)
	total := s.L1Hits + s.L1Misses + s.L2Hits + s.L2Misses
	s.OverallHitRate = ratio(s.L1Hits+s.L2Hits, total)
	if total > 0 {
		s.MissRate = 1 - s.OverallHitRate
	}
	return s
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
