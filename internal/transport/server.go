package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
)

// Serve answers protocol requests from every connection accepted on l until
// l is closed.
func Serve(l net.Listener, store state.Store) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("accept: %v", err)
			continue
		}
		go handleConn(conn, store)
	}
}

func handleConn(conn net.Conn, store state.Store) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic serving connection, dropping it: %v", r)
		}
	}()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	enc.SetEscapeHTML(false)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debugf("dropping connection: %v", err)
			}
			return
		}
		resp := Handle(context.Background(), store, req)
		if err := enc.Encode(&resp); err != nil {
			logger.Debugf("write response %s: %v", req.ID, err)
			return
		}
	}
}

// Handle executes a single request against store.
func Handle(ctx context.Context, store state.Store, req Request) Response {
	resp := Response{ID: req.ID}
	var err error
	switch req.Op {
	case OpGet:
		var p state.Path
		if p, err = state.ParsePath(req.Path); err == nil {
			resp.Value, resp.Found, err = store.Get(ctx, req.Tenant, req.Prefix, req.Key, p)
		}
	case OpSet:
		var p state.Path
		if p, err = state.ParsePath(req.Path); err == nil {
			err = store.Set(ctx, req.Tenant, req.Prefix, req.Key, p, req.Value, req.ttl())
		}
	case OpDelete:
		resp.Deleted, err = store.Delete(ctx, req.Tenant, req.Prefix, req.Key)
	case OpDeletePrefix:
		resp.Count, err = store.DeleteByPrefix(ctx, req.Tenant, req.Prefix)
	default:
		err = state.InvalidInput("unknown op %q", req.Op)
	}
	if err != nil {
		logger.Debugf("%s %s/%s: %v", req.Op, req.Prefix, req.Key, err)
		return Response{ID: req.ID, Code: state.CodeOf(err), Error: state.Message(err)}
	}
	resp.OK = true
	return resp
}
