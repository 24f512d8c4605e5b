package credential

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process [Store]. Nothing survives a restart.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. A nil now means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, records: make(map[string]record)}
}

// Set implements [Store].
func (m *Memory) Set(_ context.Context, name, value string, ttl time.Duration) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = newRecord(value, m.now(), effectiveTTL(ttl))
	return nil
}

// Get implements [Store]. Expired entries are evicted on access.
func (m *Memory) Get(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return "", ErrNotFound
	}
	if rec.expired(m.now()) {
		delete(m.records, name)
		return "", ErrNotFound
	}
	return rec.Value, nil
}

// Remove implements [Store].
func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	return nil
}

// Close implements [Store].
func (m *Memory) Close() error { return nil }
