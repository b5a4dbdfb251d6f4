package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// TTLMap is a concurrency-safe map whose entries expire after a per-entry
// TTL. When capacity is positive the map never holds more than capacity keys;
// expired entries are purged first, then the entry closest to expiry is
// evicted.
type TTLMap[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]item[V]
	capacity int
}

func NewTTLMap[K comparable, V any]() *TTLMap[K, V] {
	return NewBoundedTTLMap[K, V](0)
}

func NewBoundedTTLMap[K comparable, V any](capacity int) *TTLMap[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &TTLMap[K, V]{items: map[K]item[V]{}, capacity: capacity}
}

func (m *TTLMap[K, V]) Get(key K) (V, time.Time, bool) {
	var zero V
	if m == nil {
		return zero, time.Time{}, false
	}
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return zero, time.Time{}, false
	}
	return it.Value, it.ExpiresAt, true
}

// GetFresh returns the value only while now is before its expiry.
func (m *TTLMap[K, V]) GetFresh(key K, now time.Time) (V, bool) {
	var zero V
	v, exp, ok := m.Get(key)
	if !ok || expired(exp, now) {
		return zero, false
	}
	return v, true
}

func (m *TTLMap[K, V]) SetWithTTL(key K, value V, now time.Time, ttl time.Duration) {
	exp := time.Time{}
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.set(key, value, exp, now)
}

func (m *TTLMap[K, V]) set(key K, value V, expiresAt time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; !exists && m.capacity > 0 && len(m.items) >= m.capacity {
		m.makeRoomLocked(now)
	}
	m.items[key] = item[V]{Value: value, ExpiresAt: expiresAt}
}

func (m *TTLMap[K, V]) makeRoomLocked(now time.Time) {
	for k, it := range m.items {
		if expired(it.ExpiresAt, now) {
			delete(m.items, k)
		}
	}
	if len(m.items) < m.capacity {
		return
	}
	var (
		victim    K
		victimExp time.Time
		found     bool
	)
	for k, it := range m.items {
		// Entries without expiry are evicted last.
		if it.ExpiresAt.IsZero() {
			if !found {
				victim, found = k, true
			}
			continue
		}
		if !found || victimExp.IsZero() || it.ExpiresAt.Before(victimExp) {
			victim, victimExp, found = k, it.ExpiresAt, true
		}
	}
	if found {
		delete(m.items, victim)
	}
}

func (m *TTLMap[K, V]) Delete(key K) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// InvalidateAll drops every entry regardless of key or expiry.
func (m *TTLMap[K, V]) InvalidateAll() {
	if m == nil {
		return
	}
	m.mu.Lock()
	clear(m.items)
	m.mu.Unlock()
}

// ReplaceAll drops every entry and stores key in the same critical section,
// so readers see either the old contents or the new entry alone.
func (m *TTLMap[K, V]) ReplaceAll(key K, value V, now time.Time, ttl time.Duration) {
	if m == nil {
		return
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.mu.Lock()
	clear(m.items)
	m.items[key] = item[V]{Value: value, ExpiresAt: exp}
	m.mu.Unlock()
}

func (m *TTLMap[K, V]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *TTLMap[K, V]) Entries() map[K]Entry[V] {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[K]Entry[V], len(m.items))
	for k, it := range m.items {
		out[k] = Entry[V]{
			Value:     it.Value,
			ExpiresAt: it.ExpiresAt,
		}
	}
	return out
}

func expired(exp time.Time, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
