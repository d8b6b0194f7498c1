// Package statetest holds the behaviour every state.Store backend must share.
// Backend tests call Run with a constructor; the suite drives time through
// Harness.Advance so expiry is checked without sleeping.
package statetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/jsonstate/internal/state"
)

// Clock is a manually advanced time source for state.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness is one backend under test.
type Harness struct {
	Store state.Store
	// Advance moves the backend's notion of time forward by d.
	Advance func(d time.Duration)
}

// Tenant returns a tenant context in the dev environment.
func Tenant(name string) state.TenantCtx {
	return state.TenantCtx{Env: "dev", Tenant: name}
}

// UniquePrefix keeps tests that share a backend from colliding.
func UniquePrefix(base string) string {
	return base + "-" + uuid.NewString()
}

// MustGet fails the test when the document is absent.
func MustGet(t *testing.T, s state.Store, tenant state.TenantCtx, prefix, key string, p state.Path) json.RawMessage {
	t.Helper()
	doc, found, err := s.Get(context.Background(), tenant, prefix, key, p)
	require.NoError(t, err)
	require.True(t, found, "expected %s/%s%s to be present", prefix, key, p)
	return doc
}

// AssertAbsent fails the test when the document is present.
func AssertAbsent(t *testing.T, s state.Store, tenant state.TenantCtx, prefix, key string) {
	t.Helper()
	doc, found, err := s.Get(context.Background(), tenant, prefix, key, nil)
	require.NoError(t, err)
	assert.False(t, found, "expected %s/%s to be absent, got %s", prefix, key, doc)
}

func set(t *testing.T, s state.Store, tenant state.TenantCtx, prefix, key string, p state.Path, value string, ttl state.TTL) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), tenant, prefix, key, p, json.RawMessage(value), ttl))
}

// Run exercises the full Store contract against backends built by newHarness.
// Each subtest gets a fresh harness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/roundtrip")

		docs := []string{
			`{"a":[1,2,3],"status":"ready"}`,
			`[true,false,null,{"nested":{"deep":[{}]}}]`,
			`"just a string"`,
			`9007199254740993`,
			`-12.5e3`,
			`null`,
			`{"html":"<b>&</b>","unicode":"żółw ☃"}`,
		}
		for _, doc := range docs {
			set(t, h.Store, tenant, prefix, "node/a", nil, doc, state.KeepTTL)
			got := MustGet(t, h.Store, tenant, prefix, "node/a", nil)
			assert.JSONEq(t, doc, string(got))
		}
	})

	t.Run("large integers keep precision", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/numbers")

		set(t, h.Store, tenant, prefix, "n", nil, `{"id":9007199254740993}`, state.KeepTTL)
		set(t, h.Store, tenant, prefix, "n", state.MustPath("/other"), `1`, state.KeepTTL)
		got := MustGet(t, h.Store, tenant, prefix, "n", state.MustPath("/id"))
		assert.Equal(t, "9007199254740993", string(got))
	})

	t.Run("path round trip", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/path")
		p := state.MustPath("/a/0/b")

		set(t, h.Store, tenant, prefix, "node", p, `"leaf"`, state.KeepTTL)

		leaf := MustGet(t, h.Store, tenant, prefix, "node", p)
		assert.JSONEq(t, `"leaf"`, string(leaf))
		whole := MustGet(t, h.Store, tenant, prefix, "node", nil)
		assert.JSONEq(t, `{"a":[{"b":"leaf"}]}`, string(whole))
	})

	t.Run("path edits existing document", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/edit")
		p := state.MustPath("/a/1")

		set(t, h.Store, tenant, prefix, "node", nil, `{"a":[1,2,3],"status":"ready"}`, state.KeepTTL)
		assert.JSONEq(t, `2`, string(MustGet(t, h.Store, tenant, prefix, "node", p)))

		set(t, h.Store, tenant, prefix, "node", p, `42`, state.KeepTTL)
		assert.JSONEq(t, `{"a":[1,42,3],"status":"ready"}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))

		set(t, h.Store, tenant, prefix, "node", state.MustPath("/a/5"), `"pad"`, state.KeepTTL)
		assert.JSONEq(t, `{"a":[1,42,3,null,null,"pad"],"status":"ready"}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))

		set(t, h.Store, tenant, prefix, "node", nil, `{"a":[9,8],"status":"replaced"}`, state.KeepTTL)
		assert.JSONEq(t, `{"a":[9,8],"status":"replaced"}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
	})

	t.Run("unresolved path is not found", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/missing")

		_, found, err := h.Store.Get(ctx, tenant, prefix, "nope", nil)
		require.NoError(t, err)
		assert.False(t, found)

		set(t, h.Store, tenant, prefix, "node", nil, `{"a":[1],"s":"x","n":null}`, state.KeepTTL)
		for _, pointer := range []string{"/b", "/a/1", "/a/x", "/s/0", "/n/k", "/a/-1"} {
			_, found, err := h.Store.Get(ctx, tenant, prefix, "node", state.MustPath(pointer))
			require.NoError(t, err)
			assert.False(t, found, "pointer %s", pointer)
		}
		null := MustGet(t, h.Store, tenant, prefix, "node", state.MustPath("/n"))
		assert.Equal(t, "null", string(null))
	})

	t.Run("tenant isolation", func(t *testing.T) {
		h := newHarness(t)
		prefix := UniquePrefix("flow/isolation")
		base := state.TenantCtx{Env: "dev", Tenant: "tenant-a"}
		others := []state.TenantCtx{
			{Env: "dev", Tenant: "tenant-b"},
			{Env: "prod", Tenant: "tenant-a"},
			{Env: "dev", Tenant: "tenant-a", Team: "team"},
			{Env: "dev", Tenant: "tenant-a", Team: "team", User: "user"},
		}

		set(t, h.Store, base, prefix, "node", nil, `{"owner":"a"}`, state.KeepTTL)
		for _, other := range others {
			AssertAbsent(t, h.Store, other, prefix, "node")
		}
		MustGet(t, h.Store, base, prefix, "node", nil)
	})

	t.Run("delete by prefix", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		p := UniquePrefix("flow/delete")
		q := UniquePrefix("flow/other")

		set(t, h.Store, tenant, p, "node/a", nil, `{"a":1}`, state.KeepTTL)
		set(t, h.Store, tenant, p, "node/b", nil, `{"b":2}`, state.KeepTTL)
		set(t, h.Store, tenant, q, "node/c", nil, `{"c":3}`, state.KeepTTL)

		removed, err := h.Store.DeleteByPrefix(ctx, tenant, p)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), removed)

		AssertAbsent(t, h.Store, tenant, p, "node/a")
		AssertAbsent(t, h.Store, tenant, p, "node/b")
		assert.JSONEq(t, `{"c":3}`, string(MustGet(t, h.Store, tenant, q, "node/c", nil)))
	})

	t.Run("delete by prefix is tenant scoped", func(t *testing.T) {
		h := newHarness(t)
		a := Tenant("tenant-a")
		b := Tenant("tenant-b")
		prefix := UniquePrefix("flow/shared")

		set(t, h.Store, a, prefix, "node/a", nil, `{"a":1}`, state.KeepTTL)
		set(t, h.Store, b, prefix, "node/a", nil, `{"b":2}`, state.KeepTTL)

		removed, err := h.Store.DeleteByPrefix(ctx, a, prefix)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), removed)
		MustGet(t, h.Store, b, prefix, "node/a", nil)
	})

	t.Run("delete by prefix respects the separator", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow")

		set(t, h.Store, tenant, prefix, "k", nil, `1`, state.KeepTTL)
		set(t, h.Store, tenant, prefix+"2", "k", nil, `2`, state.KeepTTL)

		removed, err := h.Store.DeleteByPrefix(ctx, tenant, prefix)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), removed)
		MustGet(t, h.Store, tenant, prefix+"2", "k", nil)

		removed, err = h.Store.DeleteByPrefix(ctx, tenant, prefix)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/ttl")

		set(t, h.Store, tenant, prefix, "node/a", nil, `{"ttl":true}`, state.Seconds(1))
		MustGet(t, h.Store, tenant, prefix, "node/a", nil)

		h.Advance(1100 * time.Millisecond)
		AssertAbsent(t, h.Store, tenant, prefix, "node/a")
	})

	t.Run("ttl zero clears expiry", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/persist")

		set(t, h.Store, tenant, prefix, "node", nil, `{"v":1}`, state.Seconds(10))
		set(t, h.Store, tenant, prefix, "node", nil, `{"v":2}`, state.NoExpiry)

		h.Advance(time.Hour)
		assert.JSONEq(t, `{"v":2}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
	})

	t.Run("keep ttl on update preserves remaining ttl", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/keep")

		set(t, h.Store, tenant, prefix, "node", nil, `{"v":1}`, state.Seconds(60))
		h.Advance(20 * time.Second)
		set(t, h.Store, tenant, prefix, "node", nil, `{"v":2}`, state.KeepTTL)
		set(t, h.Store, tenant, prefix, "node", state.MustPath("/w"), `3`, state.KeepTTL)

		// Neither reset to a fresh 60s (would live until 80s) nor cleared.
		h.Advance(30 * time.Second)
		assert.JSONEq(t, `{"v":2,"w":3}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
		h.Advance(15 * time.Second)
		AssertAbsent(t, h.Store, tenant, prefix, "node")
	})

	t.Run("explicit ttl replaces previous deadline", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/refresh")

		set(t, h.Store, tenant, prefix, "node", nil, `{}`, state.Seconds(10))
		h.Advance(8 * time.Second)
		set(t, h.Store, tenant, prefix, "node", state.MustPath("/x"), `1`, state.Seconds(10))
		h.Advance(8 * time.Second)
		assert.JSONEq(t, `{"x":1}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
	})

	t.Run("longest ttl keeps the entry", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/max-ttl")

		set(t, h.Store, tenant, prefix, "node", nil, `{"v":1}`, state.MaxTTL)
		MustGet(t, h.Store, tenant, prefix, "node", nil)
		h.Advance(24 * time.Hour)
		MustGet(t, h.Store, tenant, prefix, "node", nil)
	})

	t.Run("ttl beyond the maximum is rejected", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/huge-ttl")

		set(t, h.Store, tenant, prefix, "node", nil, `{"v":1}`, state.Seconds(60))
		for _, ttl := range []state.TTL{state.MaxTTL + 1, state.TTL(10_000_000_000)} {
			err := h.Store.Set(ctx, tenant, prefix, "node", nil, json.RawMessage(`{"v":2}`), ttl)
			assert.ErrorIs(t, err, state.ErrInvalidInput, "ttl %d", ttl)
		}
		assert.JSONEq(t, `{"v":1}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
	})

	t.Run("keep ttl on create means no expiry", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/create")

		set(t, h.Store, tenant, prefix, "whole", nil, `1`, state.KeepTTL)
		set(t, h.Store, tenant, prefix, "path", state.MustPath("/a"), `1`, state.KeepTTL)

		h.Advance(24 * time.Hour)
		MustGet(t, h.Store, tenant, prefix, "whole", nil)
		MustGet(t, h.Store, tenant, prefix, "path", nil)
	})

	t.Run("expired entry is replaced not merged", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/expired")

		set(t, h.Store, tenant, prefix, "node", nil, `{"a":1}`, state.Seconds(1))
		h.Advance(2 * time.Second)
		set(t, h.Store, tenant, prefix, "node", state.MustPath("/b"), `2`, state.KeepTTL)

		assert.JSONEq(t, `{"b":2}`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
		h.Advance(time.Hour)
		MustGet(t, h.Store, tenant, prefix, "node", nil)
	})

	t.Run("delete idempotence", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/delete-one")

		set(t, h.Store, tenant, prefix, "node/a", nil, `{"a":1}`, state.KeepTTL)

		removed, err := h.Store.Delete(ctx, tenant, prefix, "node/a")
		require.NoError(t, err)
		assert.True(t, removed)
		AssertAbsent(t, h.Store, tenant, prefix, "node/a")

		removed, err = h.Store.Delete(ctx, tenant, prefix, "node/a")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("non numeric segment on array fails", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/invalid")

		set(t, h.Store, tenant, prefix, "node", nil, `[1,2]`, state.KeepTTL)
		err := h.Store.Set(ctx, tenant, prefix, "node", state.MustPath("/foo"), json.RawMessage(`"leaf"`), state.KeepTTL)
		require.Error(t, err)
		assert.ErrorIs(t, err, state.ErrInvalidInput)
		assert.Equal(t, state.CodeInvalidInput, state.CodeOf(err))
		assert.JSONEq(t, `[1,2]`, string(MustGet(t, h.Store, tenant, prefix, "node", nil)))
	})

	t.Run("scalar is not a container", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/scalar")

		set(t, h.Store, tenant, prefix, "node", nil, `{"a":5}`, state.KeepTTL)
		err := h.Store.Set(ctx, tenant, prefix, "node", state.MustPath("/a/b"), json.RawMessage(`1`), state.KeepTTL)
		assert.ErrorIs(t, err, state.ErrInvalidInput)
	})

	t.Run("value must be json", func(t *testing.T) {
		h := newHarness(t)
		tenant := Tenant("tenant")
		prefix := UniquePrefix("flow/json")

		for _, bad := range []string{``, `{`, `{"a":1} trailing`, `nope`} {
			err := h.Store.Set(ctx, tenant, prefix, "node", nil, json.RawMessage(bad), state.KeepTTL)
			assert.ErrorIs(t, err, state.ErrInvalidInput, "value %q", bad)
			err = h.Store.Set(ctx, tenant, prefix, "node", state.MustPath("/a"), json.RawMessage(bad), state.KeepTTL)
			assert.ErrorIs(t, err, state.ErrInvalidInput, "value %q", bad)
		}
		AssertAbsent(t, h.Store, tenant, prefix, "node")
	})
}
