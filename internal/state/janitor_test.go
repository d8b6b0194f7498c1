package state_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
	"github.com/leonardcser/jsonstate/internal/state/statetest"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestJanitorSweepsUntilCancelled(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(nil) })

	sweeper := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := state.StartJanitor(ctx, sweeper, 5*time.Millisecond)

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestJanitorKeepsRunningAfterErrors(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(nil) })

	sweeper := &countingSweeper{err: errors.New("disk gone")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state.StartJanitor(ctx, sweeper, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestJanitorPurgesMemory(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(nil) })

	clock := statetest.NewClock()
	store := state.NewMemory(state.WithClock(clock.Now))
	tenant := statetest.Tenant("tenant")
	require.NoError(t, store.Set(context.Background(), tenant, "flow", "k", nil, []byte(`1`), state.Seconds(1)))
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state.StartJanitor(ctx, store, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, time.Millisecond)
}
