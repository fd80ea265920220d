package usage

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store. All data is lost when the process
// exits.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
	opts    options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		opts:    buildOptions("usage.memory", opts),
	}
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.opts.clock.Now().Add(ttl)
}

// live returns the entry for key if present and unexpired. Caller holds mu.
func (m *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.opts.clock.Now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	var current float64
	if e, ok := m.live(key); ok {
		v, err := parseNumber(key, e.value)
		if err != nil {
			return 0, err
		}
		current = v
	}

	next := current + amount
	m.entries[key] = memoryEntry{value: formatNumber(next), expiresAt: m.expiry(ttl)}
	return next, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	e, ok := m.live(key)
	if !ok {
		return 0, nil
	}
	return parseNumber(key, e.value)
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	e, ok := m.live(key)
	if !ok {
		return nil, false, nil
	}
	return []byte(e.value), true, nil
}

// SetWithTTL implements Store.
func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.entries[key] = memoryEntry{value: string(value), expiresAt: m.expiry(ttl)}
	return nil
}

// KeysMatching implements Store. Keys are returned sorted.
func (m *MemoryStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	if _, err := globMatch(pattern, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.opts.clock.Now()
	var keys []string
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if ok, _ := globMatch(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.opts.clock.Now()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

// globMatch matches like Redis and SQLite GLOB, where * also spans '/'.
func globMatch(pattern, key string) (bool, error) {
	const sep = "\x00"
	return path.Match(strings.ReplaceAll(pattern, "/", sep), strings.ReplaceAll(key, "/", sep))
}
