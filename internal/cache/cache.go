// Package cache holds short-lived reply cooldown markers keyed by customer phone.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache is a TTL key set. Implementations must make SetIfAbsent atomic.
type Cache interface {
	// Has reports whether key is present and unexpired.
	Has(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key, or 0 when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// SetIfAbsent stores key for ttl unless it is already present. It reports whether it stored.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Set stores key for ttl, replacing any existing entry.
	Set(ctx context.Context, key string, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// sweepInterval bounds how often a write scans the whole map for expired keys.
const sweepInterval = time.Minute

// Memory is an in-process Cache. Expired keys are dropped when read, by a write
// once sweepInterval has passed, or by Sweep.
type Memory struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	entries   map[string]time.Time
	nextSweep time.Time
}

// NewMemory returns an empty in-process cache driven by clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:     clock,
		entries:   make(map[string]time.Time),
		nextSweep: clock.Now().Add(sweepInterval),
	}
}

// Sweep removes every expired key and returns how many were removed.
func (m *Memory) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweep(m.clock.Now()), nil
}

// Len returns the number of stored keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweep(now time.Time) int64 {
	var n int64
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
			n++
		}
	}
	m.nextSweep = now.Add(sweepInterval)
	return n
}

func (m *Memory) maybeSweep(now time.Time) {
	if !now.Before(m.nextSweep) {
		m.sweep(now)
	}
}

func (m *Memory) live(key string) (time.Time, bool) {
	exp, ok := m.entries[key]
	if !ok {
		return time.Time{}, false
	}
	if !m.clock.Now().Before(exp) {
		delete(m.entries, key)
		return time.Time{}, false
	}
	return exp, true
}

func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(key)
	return ok, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.live(key)
	if !ok {
		return 0, nil
	}
	return exp.Sub(m.clock.Now()), nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	now := m.clock.Now()
	m.maybeSweep(now)
	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.maybeSweep(now)
	m.entries[key] = now.Add(ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
