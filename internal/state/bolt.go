package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt is an embedded durable backend. Each value is stored as
//
//	8 bytes big endian expiresAt (unix ms, 0 = never) || JSON document
//
// Every mutation runs in its own write transaction, so per-key updates are
// atomic and DeleteByPrefix removes a consistent snapshot.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

const headerLen = 8

var _ Store = (*Bolt)(nil)
var _ Sweeper = (*Bolt)(nil)

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string, opts ...Option) (*Bolt, error) {
	o := buildOptions(opts)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, Unavailable("open bolt", err)
	}
	bucket := []byte(o.bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, Unavailable("create bucket", err)
	}
	return &Bolt{db: db, bucket: bucket, now: o.now}, nil
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func packValue(expiresAt time.Time, doc []byte) []byte {
	var ms int64
	if !expiresAt.IsZero() {
		ms = expiresAt.UnixMilli()
	}
	buf := make([]byte, headerLen+len(doc))
	binary.BigEndian.PutUint64(buf[:headerLen], uint64(ms))
	copy(buf[headerLen:], doc)
	return buf
}

// unpackValue splits a stored value. The returned doc aliases v and is only
// valid inside the transaction that read it.
func unpackValue(v []byte) (time.Time, []byte, error) {
	if len(v) < headerLen {
		return time.Time{}, nil, InvalidInput("stored value shorter than its header")
	}
	ms := int64(binary.BigEndian.Uint64(v[:headerLen]))
	var expiresAt time.Time
	if ms > 0 {
		expiresAt = time.UnixMilli(ms)
	}
	return expiresAt, v[headerLen:], nil
}

// txErr passes taxonomy errors raised inside a transaction through and
// classifies everything else as a storage failure.
func txErr(context string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return Wrap(CodeUnavailable, "bolt "+context, err)
}

func expiredAt(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !expiresAt.After(now)
}

func (b *Bolt) Get(_ context.Context, t TenantCtx, prefix, key string, p Path) (json.RawMessage, bool, error) {
	fqn := []byte(Compose(t, prefix, key))
	now := b.now()

	var doc any
	var exists, expired bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get(fqn)
		if v == nil {
			return nil
		}
		exists = true
		expiresAt, raw, err := unpackValue(v)
		if err != nil {
			return err
		}
		if expiredAt(expiresAt, now) {
			expired = true
			return nil
		}
		doc, err = decode(raw)
		return err
	})
	if err != nil {
		return nil, false, txErr("get", err)
	}
	if !exists {
		return nil, false, nil
	}
	if expired {
		if err := b.purge(fqn, now); err != nil {
			return nil, false, err
		}
		return nil, false, nil
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

// purge deletes fqn if it is still expired inside the write transaction.
func (b *Bolt) purge(fqn []byte, now time.Time) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		v := bucket.Get(fqn)
		if v == nil {
			return nil
		}
		expiresAt, _, err := unpackValue(v)
		if err != nil || !expiredAt(expiresAt, now) {
			return err
		}
		return bucket.Delete(fqn)
	})
	return txErr("purge expired", err)
}

func (b *Bolt) Set(_ context.Context, t TenantCtx, prefix, key string, p Path, value json.RawMessage, ttl TTL) error {
	if err := ttl.Validate(); err != nil {
		return err
	}
	v, err := decode(value)
	if err != nil {
		return err
	}
	fqn := []byte(Compose(t, prefix, key))

	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		now := b.now()

		var base any
		var current time.Time
		if stored := bucket.Get(fqn); stored != nil {
			expiresAt, raw, err := unpackValue(stored)
			if err != nil {
				return err
			}
			if !expiredAt(expiresAt, now) {
				current = expiresAt
				if len(p) > 0 {
					if base, err = decode(raw); err != nil {
						return err
					}
				}
			}
		}

		doc, err := WriteAt(base, p, v)
		if err != nil {
			return err
		}
		raw, err := encode(doc)
		if err != nil {
			return err
		}
		return bucket.Put(fqn, packValue(ttl.deadline(now, current), raw))
	})
	return txErr("set", err)
}

// Delete does not look at expiry, matching Memory.
func (b *Bolt) Delete(_ context.Context, t TenantCtx, prefix, key string) (bool, error) {
	fqn := []byte(Compose(t, prefix, key))
	var existed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket.Get(fqn) == nil {
			return nil
		}
		existed = true
		return bucket.Delete(fqn)
	})
	if err != nil {
		return false, txErr("delete", err)
	}
	return existed, nil
}

func (b *Bolt) DeleteByPrefix(_ context.Context, t TenantCtx, prefix string) (uint64, error) {
	pattern := []byte(ComposePrefix(t, prefix))
	var removed uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.Seek(pattern); k != nil && bytes.HasPrefix(k, pattern); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, txErr("delete prefix", err)
	}
	return removed, nil
}

// Sweep removes every expired value.
func (b *Bolt) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := b.now()
	purged := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			expiresAt, _, err := unpackValue(v)
			if err != nil {
				return nil
			}
			if expiredAt(expiresAt, now) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, txErr("sweep", err)
	}
	return purged, nil
}
