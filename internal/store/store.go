// Package store persists encoded gateway sessions.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/R3E-Network/bridge_client/internal/errors"
)

// Store keeps opaque session records keyed by session id.
type Store interface {
	// Save creates or replaces the record for id.
	Save(ctx context.Context, id string, data []byte) error
	// Load returns the record for id or a NotFound error.
	Load(ctx context.Context, id string) ([]byte, error)
	// List returns all stored ids.
	List(ctx context.Context) ([]string, error)
	// Delete removes the record for id or returns a NotFound error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Memory is a thread-safe in-memory Store for tests and single-process use.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, id string, data []byte) error {
	if id == "" {
		return errors.InvalidInput("id", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[id]
	if !ok {
		return nil, errors.NotFound("session", id)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return errors.NotFound("session", id)
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }
