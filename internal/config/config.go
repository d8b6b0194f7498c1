// Package config selects and opens the state backend from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leonardcser/jsonstate/internal/state"
	"github.com/leonardcser/jsonstate/internal/transport"
)

// Backend names accepted in JSONSTATE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendSocket = "socket"
)

// Environment variables read by FromEnv.
const (
	EnvBackend       = "JSONSTATE_BACKEND"
	EnvRedisURL      = "JSONSTATE_REDIS_URL"
	EnvBoltPath      = "JSONSTATE_BOLT_PATH"
	EnvBoltBucket    = "JSONSTATE_BOLT_BUCKET"
	EnvSocket        = "JSONSTATE_SOCK"
	EnvHTTPAddr      = "JSONSTATE_HTTP_ADDR"
	EnvSweepInterval = "JSONSTATE_SWEEP_INTERVAL"
)

// Config holds everything needed to open a store and run the daemon.
type Config struct {
	Backend       string
	RedisURL      string
	BoltPath      string
	BoltBucket    string
	SocketPath    string
	HTTPAddr      string // empty disables the HTTP listener
	SweepInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is set: a bolt
// database and daemon socket under the user's cache directory.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendBolt,
		RedisURL:      "redis://localhost:6379/0",
		BoltPath:      filepath.Join(cacheDir(), "state.bbolt"),
		BoltBucket:    "state",
		SocketPath:    filepath.Join(cacheDir(), "state.sock"),
		SweepInterval: time.Minute,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.RedisURL != "" {
		c.RedisURL = source.RedisURL
	}
	if source.BoltPath != "" {
		c.BoltPath = source.BoltPath
	}
	if source.BoltBucket != "" {
		c.BoltBucket = source.BoltBucket
	}
	if source.SocketPath != "" {
		c.SocketPath = source.SocketPath
	}
	if source.HTTPAddr != "" {
		c.HTTPAddr = source.HTTPAddr
	}
	if source.SweepInterval > 0 {
		c.SweepInterval = source.SweepInterval
	}
}

// FromEnv merges the JSONSTATE_* variables over DefaultConfig.
func FromEnv() (Config, error) {
	return Load(DefaultConfig())
}

// Load merges the JSONSTATE_* variables over base. Binaries with a
// different default backend pass their own base.
func Load(base Config) (Config, error) {
	cfg := base
	env := Config{
		Backend:    strings.ToLower(strings.TrimSpace(os.Getenv(EnvBackend))),
		RedisURL:   os.Getenv(EnvRedisURL),
		BoltPath:   os.Getenv(EnvBoltPath),
		BoltBucket: os.Getenv(EnvBoltBucket),
		SocketPath: os.Getenv(EnvSocket),
		HTTPAddr:   os.Getenv(EnvHTTPAddr),
	}
	if v := os.Getenv(EnvSweepInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("%s: invalid duration %q", EnvSweepInterval, v)
		}
		env.SweepInterval = d
	}
	cfg.Merge(&env)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that Backend names a known store.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis, BackendBolt, BackendSocket:
		return nil
	default:
		return fmt.Errorf("%s: unknown backend %q", EnvBackend, c.Backend)
	}
}

// Open constructs the configured backend. Redis and socket backends verify
// connectivity before returning.
func Open(ctx context.Context, cfg Config) (state.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return state.NewMemory(), nil
	case BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
		return state.OpenBolt(cfg.BoltPath, state.WithBucket(cfg.BoltBucket))
	case BackendRedis:
		r, err := state.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	case BackendSocket:
		c := transport.NewClient(cfg.SocketPath)
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "jsonstate")
}
