// Package kv defines the durable key/value record store used for local
// client state, plus an in-memory implementation.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("kv: record not found")

// Store persists opaque records under string keys.
type Store interface {
	// Get returns the record stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous record.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the record under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is an in-memory Store. Data is lost on restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

var _ Store = (*Memory)(nil)
