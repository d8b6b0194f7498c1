package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/jsonstate/internal/state"
)

// Handler is the callback signature mcp-go uses for tools.
type Handler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// NotFound is the text returned by state-get when nothing resolves.
const NotFound = "not found"

func tenantArgs(req mcp.CallToolRequest) (state.TenantCtx, error) {
	env, err := req.RequireString("env")
	if err != nil {
		return state.TenantCtx{}, err
	}
	tenant, err := req.RequireString("tenant")
	if err != nil {
		return state.TenantCtx{}, err
	}
	return state.TenantCtx{
		Env:    env,
		Tenant: tenant,
		Team:   req.GetString("team", ""),
		User:   req.GetString("user", ""),
	}, nil
}

// locate reads the tenant, prefix and key arguments shared by the
// single-entry tools.
func locate(req mcp.CallToolRequest) (state.TenantCtx, string, string, error) {
	t, err := tenantArgs(req)
	if err != nil {
		return t, "", "", err
	}
	prefix, err := req.RequireString("prefix")
	if err != nil {
		return t, "", "", err
	}
	key, err := req.RequireString("key")
	if err != nil {
		return t, "", "", err
	}
	return t, prefix, key, nil
}

// StateGetHandler returns the MCP tool handler for the "state-get" tool.
func StateGetHandler(store state.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, prefix, key, err := locate(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p, err := state.ParsePath(req.GetString("path", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		doc, found, err := store.Get(ctx, t, prefix, key, p)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !found {
			return mcp.NewToolResultText(NotFound), nil
		}
		return mcp.NewToolResultText(string(doc)), nil
	}
}

// StateSetHandler returns the MCP tool handler for the "state-set" tool.
// A missing or negative ttl keeps the current expiry.
func StateSetHandler(store state.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, prefix, key, err := locate(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p, err := state.ParsePath(req.GetString("path", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ttl := state.KeepTTL
		if secs := req.GetFloat("ttl", -1); secs >= 0 {
			if secs > float64(state.MaxTTL) {
				return mcp.NewToolResultError(state.InvalidInput("ttl %.0f exceeds the maximum of %d seconds", secs, int64(state.MaxTTL)).Error()), nil
			}
			ttl = state.TTL(int64(secs))
		}
		if err := store.Set(ctx, t, prefix, key, p, json.RawMessage(value), ttl); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("ok"), nil
	}
}

// StateDeleteHandler returns the MCP tool handler for the "state-delete" tool.
func StateDeleteHandler(store state.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, prefix, key, err := locate(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		deleted, err := store.Delete(ctx, t, prefix, key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"deleted":%t}`, deleted)), nil
	}
}

// StateDeletePrefixHandler returns the MCP tool handler for the
// "state-delete-prefix" tool.
func StateDeletePrefixHandler(store state.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := tenantArgs(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prefix, err := req.RequireString("prefix")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		n, err := store.DeleteByPrefix(ctx, t, prefix)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(`{"deleted":%d}`, n)), nil
	}
}
