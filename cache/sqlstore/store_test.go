package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeline-sh/lifeline/agents"
	"github.com/lifeline-sh/lifeline/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntry(key, agentName string, createdAt time.Time) *cache.Entry {
	eol := createdAt.AddDate(2, 0, 0)
	return &cache.Entry{
		CacheKey:       key,
		NormalizedName: "ubuntu",
		AgentName:      agentName,
		Payload: &agents.Response{
			AgentName:     agentName,
			Cycle:         "22.04",
			EOLDate:       &eol,
			LatestVersion: "22.04.5",
			IsLTS:         true,
			Confidence:    90,
			FetchedAt:     createdAt,
		},
		Confidence: 90,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(time.Hour),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	in := sampleEntry("ubuntu:22.04", "ubuntu", now)
	require.NoError(t, s.Put(ctx, in))

	out, err := s.Get(ctx, "ubuntu:22.04")
	require.NoError(t, err)
	assert.Equal(t, in.CacheKey, out.CacheKey)
	assert.Equal(t, in.NormalizedName, out.NormalizedName)
	assert.Equal(t, in.Confidence, out.Confidence)
	require.NotNil(t, out.Payload)
	assert.Equal(t, "22.04", out.Payload.Cycle)
	assert.True(t, out.Payload.IsLTS)
	require.NotNil(t, out.Payload.EOLDate)
	assert.Equal(t, in.Payload.EOLDate.Year(), out.Payload.EOLDate.Year())
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStorePutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := sampleEntry("k", "ubuntu", now)
	first.Confidence = 70
	require.NoError(t, s.Put(ctx, first))

	second := sampleEntry("k", "ubuntu", now)
	second.Confidence = 95
	require.NoError(t, s.Put(ctx, second))

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 95, out.Confidence)
}

func TestStoreNegativeEntryHasNoPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &cache.Entry{
		CacheKey:  "k",
		Failed:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, out.Failed)
	assert.Nil(t, out.Payload)
}

func TestStoreVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.Put(ctx, sampleEntry("k", "ubuntu", now.Add(-time.Hour))))

	ok, err := s.Verify(ctx, "k", now, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.WithinDuration(t, now.Add(24*time.Hour), out.ExpiresAt, time.Second)
}

func TestStoreVerifyFailedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &cache.Entry{
		CacheKey:  "k",
		Failed:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	ok, err := s.Verify(ctx, "k", now, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "a negative entry is never verifiable")
}

func TestStoreVerifyMissingRow(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Verify(context.Background(), "ghost", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleEntry("k", "ubuntu", time.Now())))

	n, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreDeleteAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, sampleEntry(key, "ubuntu", now)))
	}

	n, err := s.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreDeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	stale := sampleEntry("stale", "ubuntu", now.Add(-2*time.Hour))
	stale.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Put(ctx, stale))
	require.NoError(t, s.Put(ctx, sampleEntry("fresh", "ubuntu", now)))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "stale")
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestStoreRecentByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.Put(ctx, sampleEntry("old", "ubuntu", now.Add(-2*time.Hour))))
	require.NoError(t, s.Put(ctx, sampleEntry("mid", "ubuntu", now.Add(-time.Hour))))
	require.NoError(t, s.Put(ctx, sampleEntry("new", "ubuntu", now)))
	require.NoError(t, s.Put(ctx, sampleEntry("other", "python", now)))

	got, err := s.RecentByAgent(ctx, "ubuntu", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].CacheKey)
	assert.Equal(t, "mid", got[1].CacheKey)
}

func TestStorePing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, zap.NewNop())
	require.Error(t, err)
}
