package utils

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// CacheManager holds short-lived listing results keyed by query.
type CacheManager struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	gen     uint64
	now     func() time.Time
}

func NewCacheManager() *CacheManager {
	return &CacheManager{entries: make(map[string]cacheEntry), now: time.Now}
}

func (cm *CacheManager) Set(key string, value interface{}, ttl time.Duration) {
	cm.mu.Lock()
	cm.entries[key] = cacheEntry{value: value, expiresAt: cm.now().Add(ttl)}
	cm.mu.Unlock()
}

// Generation changes on every Clear. Read it before loading a value from the
// backing store and pass it to SetIfGeneration.
func (cm *CacheManager) Generation() uint64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.gen
}

// SetIfGeneration stores value only if no Clear happened since gen was read.
func (cm *CacheManager) SetIfGeneration(key string, value interface{}, ttl time.Duration, gen uint64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.gen != gen {
		return false
	}
	cm.entries[key] = cacheEntry{value: value, expiresAt: cm.now().Add(ttl)}
	return true
}

// Get returns a live value. An expired entry is dropped on read.
func (cm *CacheManager) Get(key string) (interface{}, bool) {
	cm.mu.RLock()
	entry, ok := cm.entries[key]
	cm.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if cm.now().After(entry.expiresAt) {
		cm.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (cm *CacheManager) Delete(key string) {
	cm.mu.Lock()
	delete(cm.entries, key)
	cm.mu.Unlock()
}

// Clear drops every entry. Called after each write to the store.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	cm.entries = make(map[string]cacheEntry)
	cm.gen++
	cm.mu.Unlock()
}

// Size counts entries, expired ones included until swept.
func (cm *CacheManager) Size() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.entries)
}

// StartCleanup sweeps expired entries every interval until ctx is done.
func (cm *CacheManager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cm.cleanupExpired()
			}
		}
	}()
}

func (cm *CacheManager) cleanupExpired() {
	now := cm.now()
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for key, entry := range cm.entries {
		if now.After(entry.expiresAt) {
			delete(cm.entries, key)
		}
	}
}
