package state_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/jsonstate/internal/state"
	"github.com/leonardcser/jsonstate/internal/state/statetest"
)

func newMemoryHarness(t *testing.T) statetest.Harness {
	clock := statetest.NewClock()
	return statetest.Harness{
		Store:   state.NewMemory(state.WithClock(clock.Now)),
		Advance: clock.Advance,
	}
}

func TestMemoryContract(t *testing.T) {
	statetest.Run(t, newMemoryHarness)
}

func TestMemoryGetEvictsExpired(t *testing.T) {
	ctx := context.Background()
	clock := statetest.NewClock()
	store := state.NewMemory(state.WithClock(clock.Now))
	tenant := statetest.Tenant("tenant")

	require.NoError(t, store.Set(ctx, tenant, "flow", "a", nil, json.RawMessage(`1`), state.Seconds(1)))
	require.Equal(t, 1, store.Len())

	clock.Advance(time.Second)
	_, found, err := store.Get(ctx, tenant, "flow", "a", nil)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryDeleteIgnoresExpiry(t *testing.T) {
	ctx := context.Background()
	clock := statetest.NewClock()
	store := state.NewMemory(state.WithClock(clock.Now))
	tenant := statetest.Tenant("tenant")

	require.NoError(t, store.Set(ctx, tenant, "flow", "a", nil, json.RawMessage(`1`), state.Seconds(1)))
	clock.Advance(time.Minute)

	removed, err := store.Delete(ctx, tenant, "flow", "a")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	clock := statetest.NewClock()
	store := state.NewMemory(state.WithClock(clock.Now))
	tenant := statetest.Tenant("tenant")

	for i := 0; i < 10; i++ {
		ttl := state.Seconds(5)
		if i%2 == 0 {
			ttl = state.KeepTTL
		}
		require.NoError(t, store.Set(ctx, tenant, "flow", fmt.Sprintf("k%d", i), nil, json.RawMessage(`{}`), ttl))
	}

	purged, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	clock.Advance(5 * time.Second)
	purged, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, purged)
	assert.Equal(t, 5, store.Len())
}

func TestMemoryConcurrentPathSetsLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory()
	tenant := statetest.Tenant("tenant")

	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p := state.Path{fmt.Sprintf("w%d", w), fmt.Sprintf("%d", i)}
				err := store.Set(ctx, tenant, "flow", "shared", p, json.RawMessage(`true`), state.KeepTTL)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	raw, found, err := store.Get(ctx, tenant, "flow", "shared", nil)
	require.NoError(t, err)
	require.True(t, found)

	var doc map[string][]bool
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc, writers)
	for w := 0; w < writers; w++ {
		assert.Len(t, doc[fmt.Sprintf("w%d", w)], perWriter)
	}
}

func TestMemoryConcurrentDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory()
	tenant := statetest.Tenant("tenant")

	for i := 0; i < 200; i++ {
		require.NoError(t, store.Set(ctx, tenant, "flow", fmt.Sprintf("k%d", i), nil, json.RawMessage(`1`), state.KeepTTL))
	}

	var wg sync.WaitGroup
	counts := make([]uint64, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := store.DeleteByPrefix(ctx, tenant, "flow")
			assert.NoError(t, err)
			counts[i] = n
		}(i)
	}
	wg.Wait()

	var total uint64
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, uint64(200), total, "each entry is counted by exactly one caller")
	assert.Zero(t, store.Len())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory()
	tenant := statetest.Tenant("tenant")

	value := json.RawMessage(`{"a":1}`)
	require.NoError(t, store.Set(ctx, tenant, "flow", "k", nil, value, state.KeepTTL))
	value[5] = '9'

	got, found, err := store.Get(ctx, tenant, "flow", "k", nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"a":1}`, string(got))
}
