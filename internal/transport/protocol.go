package transport

import (
	"encoding/json"

	"github.com/leonardcser/jsonstate/internal/state"
)

// JSON protocol between the state daemon and Client over a Unix domain
// socket. Requests and responses are newline-delimited objects on one
// long-lived connection; each response echoes the ID of its request.

// Operations understood by the daemon.
const (
	OpGet          = "get"
	OpSet          = "set"
	OpDelete       = "delete"
	OpDeletePrefix = "delete_prefix"
)

type Request struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Tenant state.TenantCtx `json:"tenant"`
	Prefix string          `json:"prefix"`
	Key    string          `json:"key,omitempty"`
	Path   string          `json:"path,omitempty"` // JSON pointer, "" for the whole document
	Value  json.RawMessage `json:"value,omitempty"`
	TTL    *int64          `json:"ttl,omitempty"` // seconds; absent keeps the current expiry
}

type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Found   bool            `json:"found,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
	Count   uint64          `json:"count,omitempty"`
	Code    state.Code      `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// err rebuilds the store error carried by a failed response.
func (r *Response) err() error {
	if r.OK {
		return nil
	}
	return &state.Error{Code: state.ParseCode(string(r.Code)), Msg: r.Error}
}

// ttl is the expiry a set request asks for. A missing field keeps the
// current expiry, matching the HTTP and MCP surfaces.
func (r *Request) ttl() state.TTL {
	if r.TTL == nil {
		return state.KeepTTL
	}
	return state.TTL(*r.TTL)
}
