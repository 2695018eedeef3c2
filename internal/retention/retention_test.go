package retention

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecheck/internal/storage/sqlite"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	onPrune func()
}

func (f *fakePruner) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, cutoff)
	n := len(f.cutoffs)
	f.mu.Unlock()
	if f.onPrune != nil {
		f.onPrune()
	}
	return int64(n), f.err
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, 30, "0 3 * * *", nil, nil)
	assert.Error(t, err)
	_, err = New(&fakePruner{}, 0, "0 3 * * *", nil, nil)
	assert.Error(t, err)
	_, err = New(&fakePruner{}, 30, "every night", nil, nil)
	assert.ErrorContains(t, err, "invalid retention_schedule")

	s, err := New(&fakePruner{}, 30, " 0 3 * * * ", time.UTC, nil)
	require.NoError(t, err)
	next := s.sched.Next(time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), next)
}

func TestRunOnceUsesRetentionWindow(t *testing.T) {
	pruner := &fakePruner{}
	s, err := New(pruner, 7, "0 3 * * *", time.UTC, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) }

	deleted, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), pruner.cutoffs[0])

	pruner.err = errors.New("disk full")
	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestRunPrunesOnScheduleUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner := &fakePruner{}
	pruner.onPrune = func() {
		pruner.mu.Lock()
		n := len(pruner.cutoffs)
		pruner.mu.Unlock()
		if n == 2 {
			cancel()
		}
	}
	s, err := New(pruner, 30, "*/5 * * * *", time.UTC, nil)
	require.NoError(t, err)

	var waits []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	s.now = func() time.Time { return time.Date(2026, 3, 10, 3, 2, 0, 0, time.UTC) }

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	assert.GreaterOrEqual(t, len(pruner.cutoffs), 2)
	require.NotEmpty(t, waits)
	assert.Equal(t, 3*time.Minute, waits[0])
}

func TestRunOnceAgainstStore(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "retention.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SaveTurn(context.Background(), sqlite.Turn{UserID: "u1", Notes: "Shipped the billing migration."})
	require.NoError(t, err)

	s, err := New(store, 30, "0 3 * * *", time.UTC, nil)
	require.NoError(t, err)

	deleted, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	s.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	deleted, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
