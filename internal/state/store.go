package state

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// TTL is an expiry request in seconds for Set.
//
//   - KeepTTL leaves the expiry of an existing entry untouched; new entries
//     get none.
//   - 0 clears any expiry.
//   - n > 0 expires the entry n seconds from now, replacing any previous
//     deadline.
type TTL int64

const (
	KeepTTL  TTL = -1
	NoExpiry TTL = 0
	// MaxTTL is the longest expiry Set accepts, in seconds.
	MaxTTL TTL = math.MaxUint32
)

// Validate rejects expiries longer than MaxTTL.
func (t TTL) Validate() error {
	if t > MaxTTL {
		return InvalidInput("ttl %d exceeds the maximum of %d seconds", int64(t), int64(MaxTTL))
	}
	return nil
}

// Seconds builds a TTL of n seconds.
func Seconds(n uint32) TTL { return TTL(n) }

// Keep reports whether t leaves an existing expiry untouched.
func (t TTL) Keep() bool { return t < 0 }

// Duration is the relative deadline t requests. Zero for KeepTTL and
// NoExpiry.
func (t TTL) Duration() time.Duration {
	if t <= 0 {
		return 0
	}
	return time.Duration(t) * time.Second
}

// deadline applies the TTL policy: current is kept for KeepTTL, cleared for
// NoExpiry and replaced by now+t otherwise. The zero time means no expiry.
func (t TTL) deadline(now, current time.Time) time.Time {
	switch {
	case t.Keep():
		return current
	case t == NoExpiry:
		return time.Time{}
	default:
		return now.Add(t.Duration())
	}
}

// Store is the JSON document store contract. Every backend gives the same
// observable semantics; pick one at construction time.
type Store interface {
	// Get returns the document under (t, prefix, key), or the sub-value at p
	// when p is non-empty. found is false when the entry is absent, expired
	// or p does not resolve.
	Get(ctx context.Context, t TenantCtx, prefix, key string, p Path) (doc json.RawMessage, found bool, err error)

	// Set replaces the whole document when p is empty and upserts the value
	// at p otherwise, creating intermediate containers as needed.
	Set(ctx context.Context, t TenantCtx, prefix, key string, p Path, value json.RawMessage, ttl TTL) error

	// Delete removes the entry and reports whether it was present.
	Delete(ctx context.Context, t TenantCtx, prefix, key string) (bool, error)

	// DeleteByPrefix removes every entry under (t, prefix) and returns how
	// many were removed.
	DeleteByPrefix(ctx context.Context, t TenantCtx, prefix string) (uint64, error)

	Close() error
}

// Sweeper is implemented by backends without native expiry so a janitor can
// purge expired entries nobody reads.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now       func() time.Time
	scanCount int64
	bucket    string
}

func defaultOptions() options {
	return options{
		now:       time.Now,
		scanCount: 512,
		bucket:    "state",
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock replaces time.Now for backends that evaluate expiry themselves.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithScanCount sets the SCAN batch hint used by Redis bulk deletion.
func WithScanCount(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.scanCount = n
		}
	}
}

// WithBucket names the bbolt bucket documents live in.
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}
