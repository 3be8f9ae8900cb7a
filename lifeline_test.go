package lifeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	lifeline "github.com/lifeline-sh/lifeline"
	"github.com/lifeline-sh/lifeline/agents"
	"github.com/lifeline-sh/lifeline/config"
)

type stubAgent struct {
	name       string
	confidence int
	err        error
	calls      int
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Query(ctx context.Context, name, version string) (*agents.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	eol := time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)
	return &agents.Response{
		AgentName:     s.name,
		Cycle:         version,
		EOLDate:       &eol,
		LatestVersion: version + ".5",
		IsLTS:         true,
		Confidence:    s.confidence,
	}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "none"
	cfg.Agents.SourceTimeout = 2 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...lifeline.Option) *lifeline.Engine {
	t.Helper()
	e, err := lifeline.New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineResolveEndToEnd(t *testing.T) {
	ubuntu := &stubAgent{name: "ubuntu", confidence: 90}
	fallback := &stubAgent{name: agents.FallbackSource, confidence: 70}
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		"ubuntu":              ubuntu,
		agents.FallbackSource: fallback,
	}))

	res, err := e.Resolve(context.Background(), "Ubuntu 22.04 LTS Desktop")
	require.NoError(t, err)

	assert.Equal(t, "ubuntu", res.Query.Name)
	assert.Equal(t, "22.04", res.Query.Version)
	assert.Equal(t, "ubuntu:22.04", res.CacheKey)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "ubuntu", res.Answer.AgentName)
	assert.Equal(t, 90, res.Confidence)
	assert.False(t, res.Cached)
	assert.False(t, res.Negative)

	// Second resolution of the same item is served from cache.
	res, err = e.Resolve(context.Background(), "ubuntu 22.04")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, ubuntu.calls)
}

func TestEngineResolveUnresolvable(t *testing.T) {
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{}))

	res, err := e.Resolve(context.Background(), "   64-bit x86 ")
	require.NoError(t, err)
	assert.True(t, res.Unresolvable)
	assert.Nil(t, res.Answer)
	assert.Empty(t, res.CacheKey)
}

func TestEngineResolveNegative(t *testing.T) {
	empty := &stubAgent{name: agents.FallbackSource, err: agents.ErrNoAnswer}
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: empty,
	}))

	res, err := e.Resolve(context.Background(), "obscure appliance 1.0")
	require.NoError(t, err)
	assert.True(t, res.Negative)
	assert.Nil(t, res.Answer)
	assert.False(t, res.Cached)

	// The negative fact is cached; no second dispatch.
	res, err = e.Resolve(context.Background(), "obscure appliance 1.0")
	require.NoError(t, err)
	assert.True(t, res.Negative)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, empty.calls)
}

func TestEngineVerify(t *testing.T) {
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: &stubAgent{name: agents.FallbackSource, confidence: 70},
	}))
	ctx := context.Background()

	res, err := e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)
	assert.False(t, res.Verified)

	require.NoError(t, e.Verify(ctx, res.CacheKey))

	res, err = e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)
	assert.True(t, res.Verified)

	assert.ErrorIs(t, e.Verify(ctx, "no such key"), lifeline.ErrNotFound)
}

func TestEngineClear(t *testing.T) {
	agent := &stubAgent{name: agents.FallbackSource, confidence: 70}
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: agent,
	}))
	ctx := context.Background()

	_, err := e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)

	n, err := e.Clear(ctx, "python:3.11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Cleared means the next resolution dispatches again.
	_, err = e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)
	assert.Equal(t, 2, agent.calls)

	n, err = e.Clear(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEngineSurvivesRestart(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "lifeline.db")
	cfg := testConfig()
	cfg.Cache.Backend = "sql"
	cfg.Cache.SQL.Driver = "sqlite"
	cfg.Cache.SQL.DSN = dsn

	agent := &stubAgent{name: agents.FallbackSource, confidence: 90}
	sources := map[string]agents.Agent{agents.FallbackSource: agent}

	first, err := lifeline.New(cfg, zap.NewNop(), lifeline.WithSources(sources))
	require.NoError(t, err)
	_, err = first.Resolve(context.Background(), "python 3.11")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := lifeline.New(cfg, zap.NewNop(), lifeline.WithSources(sources))
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	res, err := second.Resolve(context.Background(), "python 3.11")
	require.NoError(t, err)
	assert.True(t, res.Cached, "a high-confidence answer survives a restart")
	assert.Equal(t, 1, agent.calls)
}

func TestEngineStatus(t *testing.T) {
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: &stubAgent{name: agents.FallbackSource, confidence: 70},
	}))
	ctx := context.Background()

	_, err := e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)
	_, err = e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)

	status := e.Status(ctx)
	assert.Equal(t, 1, status.L1Entries)
	assert.Equal(t, 1024, status.L1Capacity)
	assert.False(t, status.L2Ready, "backend none has no durable tier")
	assert.Equal(t, int64(1), status.Metrics.L1Hits)
	assert.Equal(t, int64(1), status.Metrics.APICallsSaved)
}

func TestEngineHistory(t *testing.T) {
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: &stubAgent{name: agents.FallbackSource, confidence: 70},
	}))
	ctx := context.Background()

	_, err := e.Resolve(ctx, "python 3.11")
	require.NoError(t, err)

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, agents.FallbackSource, history[0].AgentName)

	assert.Equal(t, 1, e.ClearHistory())
	assert.Empty(t, e.History())
}

func TestEngineWarmResolver(t *testing.T) {
	e := newTestEngine(t, testConfig(), lifeline.WithSources(map[string]agents.Agent{
		agents.FallbackSource: &stubAgent{name: agents.FallbackSource, err: agents.ErrNoAnswer},
	}))

	warm := e.WarmResolver()
	assert.NoError(t, warm(context.Background(), "unknown thing 1.0"),
		"negative outcomes are not warming errors")
	assert.NoError(t, warm(context.Background(), "   "),
		"unresolvable items are skipped, not failed")
}

func TestEngineCustomRoutes(t *testing.T) {
	special := &stubAgent{name: "special", confidence: 95}
	fallback := &stubAgent{name: agents.FallbackSource, confidence: 70}
	e := newTestEngine(t, testConfig(),
		lifeline.WithSources(map[string]agents.Agent{
			"special":             special,
			agents.FallbackSource: fallback,
		}),
		lifeline.WithRoutes([]agents.Route{
			{Keywords: []string{"gizmo"}, SourceID: "special"},
		}),
	)

	res, err := e.Resolve(context.Background(), "Gizmo 4.2")
	require.NoError(t, err)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "special", res.Answer.AgentName)
}
