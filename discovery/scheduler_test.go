package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingResolver struct {
	mu    sync.Mutex
	seen  []string
	errFn func(raw string) error
}

func (r *recordingResolver) Resolve(ctx context.Context, raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, raw)
	if r.errFn != nil {
		return r.errFn(raw)
	}
	return nil
}

func (r *recordingResolver) resolved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func TestRunFullWalksWholeInventory(t *testing.T) {
	inv := NewStaticInventory([]string{"Ubuntu 22.04 LTS", "Windows Server 2019"})
	res := &recordingResolver{}
	s := NewScheduler(inv, res, Config{}, zap.NewNop())

	run := s.RunFull(context.Background())
	assert.Equal(t, KindFull, run.Kind)
	assert.Equal(t, StatusOK, run.Status)
	assert.Equal(t, 2, run.ItemsScanned)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	assert.Equal(t, []string{"Ubuntu 22.04 LTS", "Windows Server 2019"}, res.resolved())
}

func TestRunIncrementalOnlySeesNewItems(t *testing.T) {
	inv := NewStaticInventory([]string{"seeded item"})
	res := &recordingResolver{}
	s := NewScheduler(inv, res, Config{}, zap.NewNop())

	// Seed items predate every pass; the first incremental pass skips them.
	run := s.RunIncremental(context.Background())
	assert.Equal(t, StatusOK, run.Status)
	assert.Zero(t, run.ItemsScanned)

	inv.Add("fresh item")
	run = s.RunIncremental(context.Background())
	assert.Equal(t, 1, run.ItemsScanned)
	assert.Equal(t, []string{"fresh item"}, res.resolved())

	// Already-covered items do not reappear on the next pass.
	run = s.RunIncremental(context.Background())
	assert.Zero(t, run.ItemsScanned)
}

func TestRunFullRecordsHardFailure(t *testing.T) {
	inv := NewStaticInventory([]string{"good", "bad", "also good"})
	res := &recordingResolver{errFn: func(raw string) error {
		if raw == "bad" {
			return errors.New("store exploded")
		}
		return nil
	}}
	s := NewScheduler(inv, res, Config{}, zap.NewNop())

	run := s.RunFull(context.Background())
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Err, "store exploded")
	// A hard failure on one item does not abort the pass.
	assert.Equal(t, 3, run.ItemsScanned)
}

func TestRunFullToleratesTimeouts(t *testing.T) {
	inv := NewStaticInventory([]string{"slow item"})
	res := &recordingResolver{errFn: func(string) error {
		return fmt.Errorf("resolve: %w", context.DeadlineExceeded)
	}}
	s := NewScheduler(inv, res, Config{}, zap.NewNop())

	run := s.RunFull(context.Background())
	assert.Equal(t, StatusOK, run.Status, "per-item timeouts are not pass failures")
}

type failingInventory struct{}

func (failingInventory) Items(context.Context) ([]string, error) {
	return nil, errors.New("inventory offline")
}

func (failingInventory) ItemsSince(context.Context, time.Time) ([]string, error) {
	return nil, errors.New("inventory offline")
}

func TestRunFullInventoryError(t *testing.T) {
	s := NewScheduler(failingInventory{}, &recordingResolver{}, Config{}, zap.NewNop())

	run := s.RunFull(context.Background())
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Err, "inventory offline")
	assert.Zero(t, run.ItemsScanned)
}

func TestHistoryMostRecentFirstAndBounded(t *testing.T) {
	inv := NewStaticInventory(nil)
	s := NewScheduler(inv, &recordingResolver{}, Config{HistorySize: 3}, zap.NewNop())

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.RunFull(context.Background()).ID)
	}

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, ids[4], history[0].ID)
	assert.Equal(t, ids[3], history[1].ID)
	assert.Equal(t, ids[2], history[2].ID)
}

func TestRunCancelledContext(t *testing.T) {
	inv := NewStaticInventory([]string{"a", "b", "c"})
	res := &recordingResolver{}
	s := NewScheduler(inv, res, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := s.RunFull(ctx)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Zero(t, run.ItemsScanned)
}

func TestSchedulerStartStop(t *testing.T) {
	inv := NewStaticInventory([]string{"item"})
	res := &recordingResolver{}
	s := NewScheduler(inv, res, Config{
		FullInterval:        10 * time.Millisecond,
		IncrementalInterval: time.Hour,
	}, zap.NewNop())

	s.Start()
	assert.Eventually(t, func() bool {
		return len(s.History()) > 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	// Stop is idempotent and no passes run afterwards.
	s.Stop()
	n := len(s.History())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(s.History()))
}

func TestStaticInventoryItems(t *testing.T) {
	inv := NewStaticInventory([]string{"a"})
	inv.Add("b")

	items, err := inv.Items(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}
