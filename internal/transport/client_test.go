package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
	"github.com/leonardcser/jsonstate/internal/state/statetest"
	"github.com/leonardcser/jsonstate/internal/transport"
)

// startDaemon serves store on a fresh Unix socket and returns its path.
func startDaemon(t *testing.T, store state.Store) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "s.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- transport.Serve(l, store) }()
	t.Cleanup(func() {
		_ = l.Close()
		assert.NoError(t, <-done)
	})
	return sock
}

func newClient(t *testing.T, sock string) *transport.Client {
	t.Helper()
	c := transport.NewClient(sock)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientContract(t *testing.T) {
	statetest.Run(t, func(t *testing.T) statetest.Harness {
		clock := statetest.NewClock()
		sock := startDaemon(t, state.NewMemory(state.WithClock(clock.Now)))
		return statetest.Harness{Store: newClient(t, sock), Advance: clock.Advance}
	})
}

func TestClientCarriesErrorCodes(t *testing.T) {
	ctx := context.Background()
	sock := startDaemon(t, state.NewMemory())
	c := newClient(t, sock)
	tenant := statetest.Tenant("tenant")

	require.NoError(t, c.Set(ctx, tenant, "flow", "node", nil, json.RawMessage(`[1]`), state.KeepTTL))
	err := c.Set(ctx, tenant, "flow", "node", state.MustPath("/foo"), json.RawMessage(`1`), state.KeepTTL)
	require.ErrorIs(t, err, state.ErrInvalidInput)

	local := state.NewMemory()
	require.NoError(t, local.Set(ctx, tenant, "flow", "node", nil, json.RawMessage(`[1]`), state.KeepTTL))
	want := local.Set(ctx, tenant, "flow", "node", state.MustPath("/foo"), json.RawMessage(`1`), state.KeepTTL)
	assert.Equal(t, want.Error(), err.Error(), "remote errors read like local ones")

	// The connection survives a failed request.
	assert.JSONEq(t, `[1]`, string(statetest.MustGet(t, c, tenant, "flow", "node", nil)))
}

func TestClientUnavailableWithoutDaemon(t *testing.T) {
	c := newClient(t, filepath.Join(t.TempDir(), "missing.sock"))
	ctx := context.Background()

	_, _, err := c.Get(ctx, statetest.Tenant("tenant"), "flow", "node", nil)
	assert.ErrorIs(t, err, state.ErrUnavailable)
	assert.ErrorIs(t, c.Ping(ctx), state.ErrUnavailable)
}

func TestClientRedialsAfterClose(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory()
	tenant := statetest.Tenant("tenant")
	sock := filepath.Join(t.TempDir(), "s.sock")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	go func() { _ = transport.Serve(l, store) }()

	c := newClient(t, sock)
	require.NoError(t, c.Set(ctx, tenant, "flow", "node", nil, json.RawMessage(`1`), state.KeepTTL))

	// Replace the daemon's listener; the client must dial the new one.
	require.NoError(t, l.Close())
	require.NoError(t, c.Close())

	l, err = net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()
	go func() { _ = transport.Serve(l, store) }()

	assert.JSONEq(t, `1`, string(statetest.MustGet(t, c, tenant, "flow", "node", nil)))
}

func TestClientDetectsMismatchedResponse(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "s.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req transport.Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			return
		}
		_ = json.NewEncoder(conn).Encode(transport.Response{ID: "someone-else", OK: true})
		// Hold the connection until the client hangs up.
		_, _ = conn.Read(make([]byte, 1))
	}()

	c := newClient(t, sock)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Delete(ctx, statetest.Tenant("tenant"), "flow", "node")
	assert.ErrorIs(t, err, state.ErrInternal)
}

func TestClientRejectsInvalidJSONLocally(t *testing.T) {
	c := newClient(t, filepath.Join(t.TempDir(), "never-dialled.sock"))
	err := c.Set(context.Background(), statetest.Tenant("tenant"), "flow", "node", nil, json.RawMessage(`{`), state.KeepTTL)
	assert.ErrorIs(t, err, state.ErrInvalidInput)
}

func TestHandleUnknownOp(t *testing.T) {
	resp := transport.Handle(context.Background(), state.NewMemory(), transport.Request{ID: "1", Op: "merge"})
	assert.False(t, resp.OK)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, state.CodeInvalidInput, resp.Code)
	assert.Contains(t, resp.Error, "merge")
}

func TestHandleRejectsHugeArrayIndex(t *testing.T) {
	store := state.NewMemory()
	resp := transport.Handle(context.Background(), store, transport.Request{
		ID:     "1",
		Op:     transport.OpSet,
		Tenant: statetest.Tenant("tenant"),
		Prefix: "flow",
		Key:    "node",
		Path:   "/a/4611686018427387903",
		Value:  json.RawMessage(`1`),
	})
	assert.False(t, resp.OK)
	assert.Equal(t, state.CodeInvalidInput, resp.Code)
	statetest.AssertAbsent(t, store, statetest.Tenant("tenant"), "flow", "node")
}

func TestHandleMissingTTLKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	clock := statetest.NewClock()
	store := state.NewMemory(state.WithClock(clock.Now))
	tenant := statetest.Tenant("tenant")
	require.NoError(t, store.Set(ctx, tenant, "flow", "node", nil, json.RawMessage(`1`), state.Seconds(10)))

	var req transport.Request
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","op":"set","tenant":{"env":"dev","tenant":"tenant"},"prefix":"flow","key":"node","value":2}`), &req))
	resp := transport.Handle(ctx, store, req)
	require.True(t, resp.OK, resp.Error)

	clock.Advance(10 * time.Second)
	statetest.AssertAbsent(t, store, tenant, "flow", "node")
}

func TestHandleRejectsTTLBeyondMaximum(t *testing.T) {
	huge := int64(10_000_000_000)
	resp := transport.Handle(context.Background(), state.NewMemory(), transport.Request{
		ID:     "1",
		Op:     transport.OpSet,
		Tenant: statetest.Tenant("tenant"),
		Prefix: "flow",
		Key:    "node",
		Value:  json.RawMessage(`1`),
		TTL:    &huge,
	})
	assert.False(t, resp.OK)
	assert.Equal(t, state.CodeInvalidInput, resp.Code)
}

// panickingStore fails every call with a panic.
type panickingStore struct{ failingStore }

func (panickingStore) Delete(context.Context, state.TenantCtx, string, string) (bool, error) {
	panic("boom")
}

func TestServeSurvivesPanickingConnection(t *testing.T) {
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(nil) })
	ctx := context.Background()
	sock := startDaemon(t, panickingStore{failingStore{err: state.Internal("unused")}})

	bad := newClient(t, sock)
	_, err := bad.Delete(ctx, statetest.Tenant("tenant"), "flow", "node")
	require.ErrorIs(t, err, state.ErrUnavailable, "the panicking connection is dropped")

	// The daemon still accepts and answers new connections.
	good := newClient(t, sock)
	_, err = good.DeleteByPrefix(ctx, statetest.Tenant("tenant"), "flow")
	assert.ErrorIs(t, err, state.ErrInternal)
}
