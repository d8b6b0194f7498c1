package state

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 32

// Memory is the volatile in-process backend. Entries live in a sharded map;
// every mutation of one key happens under its shard lock, so concurrent Sets
// to the same key never lose an update. There is no cross-key atomicity:
// DeleteByPrefix snapshots matching keys and then removes them one by one,
// so keys inserted meanwhile can be missed.
type Memory struct {
	shards [memoryShards]*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	doc       any
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

var _ Store = (*Memory)(nil)
var _ Sweeper = (*Memory)(nil)

// NewMemory creates an empty volatile store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	m := &Memory{now: o.now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	return m
}

func (m *Memory) shard(fqn string) *memoryShard {
	return m.shards[xxhash.Sum64String(fqn)%memoryShards]
}

func (m *Memory) Get(_ context.Context, t TenantCtx, prefix, key string, p Path) (json.RawMessage, bool, error) {
	fqn := Compose(t, prefix, key)
	s := m.shard(fqn)
	now := m.now()

	s.mu.RLock()
	entry, ok := s.entries[fqn]
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	if entry.expired(now) {
		s.mu.RUnlock()
		m.evict(s, fqn, now)
		return nil, false, nil
	}
	value, found := ReadAt(entry.doc, p)
	if !found {
		s.mu.RUnlock()
		return nil, false, nil
	}
	// Encode under the read lock: Set mutates documents in place.
	raw, err := encode(value)
	s.mu.RUnlock()
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// evict removes fqn if it is still expired once the write lock is held.
func (m *Memory) evict(s *memoryShard, fqn string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[fqn]; ok && entry.expired(now) {
		delete(s.entries, fqn)
	}
}

func (m *Memory) Set(_ context.Context, t TenantCtx, prefix, key string, p Path, value json.RawMessage, ttl TTL) error {
	if err := ttl.Validate(); err != nil {
		return err
	}
	v, err := decode(value)
	if err != nil {
		return err
	}
	fqn := Compose(t, prefix, key)
	s := m.shard(fqn)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	entry, ok := s.entries[fqn]
	if ok && entry.expired(now) {
		delete(s.entries, fqn)
		ok = false
	}

	if !ok {
		doc, err := WriteAt(nil, p, v)
		if err != nil {
			return err
		}
		s.entries[fqn] = &memoryEntry{doc: doc, expiresAt: ttl.deadline(now, time.Time{})}
		return nil
	}

	doc, err := WriteAt(entry.doc, p, v)
	if err != nil {
		return err
	}
	entry.doc = doc
	entry.expiresAt = ttl.deadline(now, entry.expiresAt)
	return nil
}

// Delete does not look at expiry: an expired entry that has not been purged
// yet still counts as present.
func (m *Memory) Delete(_ context.Context, t TenantCtx, prefix, key string) (bool, error) {
	fqn := Compose(t, prefix, key)
	s := m.shard(fqn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fqn]; !ok {
		return false, nil
	}
	delete(s.entries, fqn)
	return true, nil
}

func (m *Memory) DeleteByPrefix(_ context.Context, t TenantCtx, prefix string) (uint64, error) {
	pattern := ComposePrefix(t, prefix)

	var keys []string
	for _, s := range m.shards {
		s.mu.RLock()
		for fqn := range s.entries {
			if strings.HasPrefix(fqn, pattern) {
				keys = append(keys, fqn)
			}
		}
		s.mu.RUnlock()
	}

	var removed uint64
	for _, fqn := range keys {
		s := m.shard(fqn)
		s.mu.Lock()
		if _, ok := s.entries[fqn]; ok {
			delete(s.entries, fqn)
			removed++
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Sweep purges every expired entry and returns how many were removed.
func (m *Memory) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	purged := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		s.mu.Lock()
		for fqn, entry := range s.entries {
			if entry.expired(now) {
				delete(s.entries, fqn)
				purged++
			}
		}
		s.mu.Unlock()
	}
	return purged, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Close is a no-op; the map is dropped with the store.
func (m *Memory) Close() error { return nil }
