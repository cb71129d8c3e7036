package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements Backend with an in-process map. Suitable for
// single-instance deployments and tests; multi-instance deployments behind a
// load balancer need the Redis backend for cross-process atomicity.
type MemoryCache struct {
	mu              sync.Mutex
	data            map[string]memoryEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
	closeOnce       sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		data:            make(map[string]memoryEntry),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		delete(m.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value. ttl <= 0 means no expiry.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *MemoryCache) GetDelete(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	delete(m.data, key)
	if entry.expired(time.Now()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryCache) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
		}
	}
}
