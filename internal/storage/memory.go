package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Backend, used in tests and for sessions whose
// durable storage has failed.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemory returns an empty Memory backend. maxBytes of zero means no
// limit.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{data: map[string][]byte{}, maxBytes: maxBytes}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.used - int64(len(m.data[key])) + int64(len(value))
	if m.maxBytes > 0 && next > m.maxBytes {
		return fmt.Errorf("%w: %s needs %d bytes, limit %d", ErrQuotaExceeded, key, next, m.maxBytes)
	}
	m.data[key] = slices.Clone(value)
	m.used = next
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.data[key]))
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Used returns the total stored value size.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) Close() error { return nil }
