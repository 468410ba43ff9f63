// Package storage provides key/value persistence for workspace records:
// in-memory, SQLite and Redis backends behind one interface, plus the
// debounced writer that coalesces bursts of edits into single writes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Errors shared by every backend.
var (
	// ErrNotFound is returned by Get for a key that was never set or was
	// removed.
	ErrNotFound = errors.New("record not found")

	// ErrQuotaExceeded is returned by Set when the write would take the
	// backend past its size limit. Nothing is written.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Backend is a flat key/value store. Keys are slash-separated record paths
// such as "t1/annotations".
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Keys lists keys beginning with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Options configures Open.
type Options struct {
	Kind string
	// Path is the SQLite database file.
	Path string
	// RedisURL is a redis:// URL.
	RedisURL string
	// Prefix namespaces Redis keys.
	Prefix string
	// MaxBytes caps the total stored value size. Zero means no limit.
	MaxBytes int64
}

// Open returns the backend opts describe.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case "", KindMemory:
		return NewMemory(opts.MaxBytes), nil
	case KindSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend needs a database path")
		}
		db, err := OpenSQLite(opts.Path, opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		return db, nil
	case KindRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis backend needs a URL")
		}
		r, err := OpenRedis(ctx, opts.RedisURL, opts.Prefix, opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}
