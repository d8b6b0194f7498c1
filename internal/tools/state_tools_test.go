package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/jsonstate/internal/state"
)

func call(t *testing.T, h Handler, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text, res.IsError
}

func args(kv ...any) map[string]any {
	m := map[string]any{"env": "dev", "tenant": "acme", "prefix": "flow", "key": "node"}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestStateToolsRoundTrip(t *testing.T) {
	store := state.NewMemory()
	get := StateGetHandler(store)
	set := StateSetHandler(store)

	out, isErr := call(t, set, args("path", "/a/0/b", "value", `"leaf"`))
	require.False(t, isErr, out)
	assert.Equal(t, "ok", out)

	out, isErr = call(t, get, args())
	require.False(t, isErr, out)
	assert.JSONEq(t, `{"a":[{"b":"leaf"}]}`, out)

	out, _ = call(t, get, args("path", "/a/0/b"))
	assert.JSONEq(t, `"leaf"`, out)

	out, _ = call(t, get, args("tenant", "other"))
	assert.Equal(t, NotFound, out)

	out, isErr = call(t, StateDeleteHandler(store), args())
	require.False(t, isErr, out)
	assert.JSONEq(t, `{"deleted":true}`, out)
	out, _ = call(t, get, args())
	assert.Equal(t, NotFound, out)
}

func TestStateToolsTTL(t *testing.T) {
	store := state.NewMemory()
	set := StateSetHandler(store)

	_, isErr := call(t, set, args("value", `1`, "ttl", float64(0)))
	require.False(t, isErr)
	_, isErr = call(t, set, args("value", `2`, "ttl", float64(30)))
	require.False(t, isErr)

	out, _ := call(t, StateGetHandler(store), args())
	assert.Equal(t, "2", out)
}

func TestStateDeletePrefixTool(t *testing.T) {
	store := state.NewMemory()
	set := StateSetHandler(store)
	for _, key := range []string{"a", "b"} {
		_, isErr := call(t, set, args("key", key, "value", `{}`))
		require.False(t, isErr)
	}
	_, isErr := call(t, set, args("prefix", "other", "value", `{}`))
	require.False(t, isErr)

	out, isErr := call(t, StateDeletePrefixHandler(store), map[string]any{"env": "dev", "tenant": "acme", "prefix": "flow"})
	require.False(t, isErr, out)
	assert.JSONEq(t, `{"deleted":2}`, out)
}

func TestStateToolsReportErrors(t *testing.T) {
	store := state.NewMemory()

	out, isErr := call(t, StateSetHandler(store), args("value", `{`))
	assert.True(t, isErr)
	assert.Contains(t, out, string(state.CodeInvalidInput))

	out, isErr = call(t, StateGetHandler(store), args("path", "no-slash"))
	assert.True(t, isErr)
	assert.Contains(t, out, string(state.CodeInvalidInput))

	_, isErr = call(t, StateGetHandler(store), map[string]any{"env": "dev"})
	assert.True(t, isErr, "tenant is required")

	_, isErr = call(t, StateSetHandler(store), args())
	assert.True(t, isErr, "value is required")
}

func TestStateSetRejectsTTLBeyondMaximum(t *testing.T) {
	store := state.NewMemory()
	out, isErr := call(t, StateSetHandler(store), args("value", `1`, "ttl", float64(state.MaxTTL)+1))
	assert.True(t, isErr)
	assert.Contains(t, out, string(state.CodeInvalidInput))

	out, isErr = call(t, StateSetHandler(store), args("value", `1`, "ttl", 1e30))
	assert.True(t, isErr, out)

	out, _ = call(t, StateGetHandler(store), args())
	assert.Equal(t, NotFound, out)
}
