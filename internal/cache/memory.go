package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and periodically by a janitor goroutine.
type Memory struct {
	mu       sync.Mutex
	items    map[string]entry
	order    []string
	maxItems int
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

func NewMemory(janitorEvery time.Duration, maxItems int) *Memory {
	m := &Memory{
		items:    make(map[string]entry),
		maxItems: maxItems,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if janitorEvery > 0 {
		go m.janitor(janitorEvery)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.removeLocked(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// removeLocked drops key from both the map and the insertion order, so a
// later Set re-inserts it as the newest entry.
func (m *Memory) removeLocked(key string) {
	delete(m.items, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	if _, exists := m.items[key]; !exists {
		m.order = append(m.order, key)
	}
	m.items[key] = entry{value: append([]byte(nil), value...), expiresAt: exp}
	m.evictLocked()
	return nil
}

// evictLocked drops the oldest inserted keys once the size limit is hit.
func (m *Memory) evictLocked() {
	if m.maxItems <= 0 {
		return
	}
	for len(m.items) > m.maxItems && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.items, oldest)
	}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.order[:0]
	for _, k := range m.order {
		e, ok := m.items[k]
		if !ok {
			continue
		}
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.items, k)
			continue
		}
		kept = append(kept, k)
	}
	m.order = kept
}

func (m *Memory) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
