package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/leonardcser/jsonstate/internal/logger"
)

// upsertScript writes KEYS[1] = ARGV[1] with a TTL in milliseconds taken from
// ARGV[2]: > 0 sets it, 0 clears it, anything else keeps whatever TTL the key
// currently has. Reading PTTL and writing happen in one server-side step.
var upsertScript = redis.NewScript(`
local key = KEYS[1]
local payload = ARGV[1]
local ttl_ms = tonumber(ARGV[2])

if ttl_ms ~= nil and ttl_ms > 0 then
  redis.call("SET", key, payload, "PX", ttl_ms)
  return ttl_ms
end

if ttl_ms == 0 then
  redis.call("SET", key, payload)
  redis.call("PERSIST", key)
  return ttl_ms
end

local current_ttl = redis.call("PTTL", key)
if current_ttl > 0 then
  redis.call("SET", key, payload, "PX", current_ttl)
else
  redis.call("SET", key, payload)
end
return current_ttl
`)

// Redis is the persistent backend. It keeps a single connection, opened on
// first use, and serializes every command behind one mutex.
//
// Only the final write of Set is atomic. A path-scoped Set loads the
// document, edits it locally and writes it back in a second step, so two
// concurrent path-scoped writers to the same key can lose one update.
type Redis struct {
	client    *redis.Client
	scanCount int64

	mu   sync.Mutex
	conn *redis.Conn
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. The store takes ownership of it.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{client: client, scanCount: o.scanCount}
}

// OpenRedis builds a store from a redis:// URL. No connection is made until
// the first operation.
func OpenRedis(url string, opts ...Option) (*Redis, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, Unavailable("connect redis", err)
	}
	return NewRedis(redis.NewClient(ropts), opts...), nil
}

// withConn runs fn on the shared connection, establishing it if needed.
// A transport failure drops the connection so the next call redials.
func (r *Redis) withConn(ctx context.Context, fn func(*redis.Conn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		conn := r.client.Conn()
		if err := conn.Ping(ctx).Err(); err != nil {
			_ = conn.Close()
			return Unavailable("connect redis", err)
		}
		r.conn = conn
	}
	if r.conn == nil {
		return Internal("redis connection not initialized")
	}

	if err := fn(r.conn); err != nil {
		if !isReplyError(err) {
			_ = r.conn.Close()
			r.conn = nil
		}
		return Unavailable("redis command", err)
	}
	return nil
}

// Ping establishes the shared connection if needed and checks the server
// answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(conn *redis.Conn) error {
		return conn.Ping(ctx).Err()
	})
}

// isReplyError reports whether the server answered with an error, in which
// case the connection itself is still usable.
func isReplyError(err error) bool {
	var reply redis.Error
	return errors.As(err, &reply)
}

func (r *Redis) load(ctx context.Context, fqn string) (any, bool, error) {
	var raw string
	found := true
	err := r.withConn(ctx, func(conn *redis.Conn) error {
		v, err := conn.Get(ctx, fqn).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		raw = v
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	doc, err := decode([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (r *Redis) Get(ctx context.Context, t TenantCtx, prefix, key string, p Path) (json.RawMessage, bool, error) {
	doc, found, err := r.load(ctx, Compose(t, prefix, key))
	if err != nil || !found {
		return nil, false, err
	}
	value, ok := ReadAt(doc, p)
	if !ok {
		return nil, false, nil
	}
	raw, err := encode(value)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *Redis) Set(ctx context.Context, t TenantCtx, prefix, key string, p Path, value json.RawMessage, ttl TTL) error {
	if err := ttl.Validate(); err != nil {
		return err
	}
	fqn := Compose(t, prefix, key)

	var payload json.RawMessage
	if len(p) == 0 {
		compacted, err := compact(value)
		if err != nil {
			return err
		}
		payload = compacted
	} else {
		v, err := decode(value)
		if err != nil {
			return err
		}
		base, _, err := r.load(ctx, fqn)
		if err != nil {
			return err
		}
		doc, err := WriteAt(base, p, v)
		if err != nil {
			return err
		}
		if payload, err = encode(doc); err != nil {
			return err
		}
	}

	return r.withConn(ctx, func(conn *redis.Conn) error {
		return upsertScript.Run(ctx, conn, []string{fqn}, string(payload), ttlArg(ttl)).Err()
	})
}

// ttlArg maps a TTL onto the script's millisecond argument.
func ttlArg(ttl TTL) int64 {
	switch {
	case ttl.Keep():
		return -1
	case ttl == NoExpiry:
		return 0
	default:
		return int64(ttl) * 1000
	}
}

func (r *Redis) Delete(ctx context.Context, t TenantCtx, prefix, key string) (bool, error) {
	fqn := Compose(t, prefix, key)
	var removed int64
	err := r.withConn(ctx, func(conn *redis.Conn) error {
		n, err := conn.Del(ctx, fqn).Result()
		removed = n
		return err
	})
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// DeleteByPrefix walks the keyspace with SCAN and deletes each batch as it
// arrives. If a batch fails the count of keys removed so far is returned
// together with the error.
func (r *Redis) DeleteByPrefix(ctx context.Context, t TenantCtx, prefix string) (uint64, error) {
	base := ComposePrefix(t, prefix)
	pattern := escapeGlob(base) + "*"
	var deleted uint64

	err := r.withConn(ctx, func(conn *redis.Conn) error {
		var cursor uint64
		for {
			keys, next, err := conn.Scan(ctx, cursor, pattern, r.scanCount).Result()
			if err != nil {
				return err
			}

			batch := keys[:0]
			for _, k := range keys {
				if strings.HasPrefix(k, base) {
					batch = append(batch, k)
				}
			}
			if len(batch) > 0 {
				n, err := conn.Del(ctx, batch...).Result()
				if err != nil {
					return err
				}
				deleted += uint64(n)
			}

			if next == 0 {
				return nil
			}
			cursor = next
		}
	})

	if deleted > 0 {
		logger.Debugf("bulk deleted %d redis keys under %s", deleted, base)
	}
	return deleted, err
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close releases the shared connection and the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	return r.client.Close()
}
