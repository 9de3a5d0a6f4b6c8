// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package cache provides a typed in-memory TTL cache.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Stats tracks cache performance.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// TTL is a thread-safe cache whose entries expire after a fixed duration.
//
// A background goroutine sweeps expired entries every cleanup interval
// until Stop is called. Expired entries are also dropped lazily on Get.
//
//	durations := cache.New[int64, int](time.Hour)
//	defer durations.Stop()
//	durations.Set(1234, 420)
//	if secs, ok := durations.Get(1234); ok {
//	    ...
//	}
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	ttl     time.Duration
	stats   Stats

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a cache with the given default TTL. The sweep runs every ttl,
// bounded to [1m, 5m].
func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &TTL[K, V]{
		entries: make(map[K]Entry[V]),
		ttl:     ttl,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	c.stats.LastCleanup = c.now()

	interval := ttl
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	go c.cleanupLoop(interval)

	return c
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		c.record(func(s *Stats) { s.Misses++ })
		return zero, false
	}

	if c.now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, ok := c.entries[key]; ok && c.now().After(cur.ExpiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
			c.stats.TotalKeys = int64(len(c.entries))
		}
		c.stats.Misses++
		c.mu.Unlock()
		return zero, false
	}

	c.record(func(s *Stats) { s.Hits++ })
	return entry.Value, true
}

// GetMany splits keys into cached values and missing keys.
func (c *TTL[K, V]) GetMany(keys []K) (map[K]V, []K) {
	found := make(map[K]V, len(keys))
	var missing []K
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			found[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	return found, missing
}

// Set stores value under key with the default TTL.
func (c *TTL[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *TTL[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[V]{Value: value, ExpiresAt: c.now().Add(ttl)}
	c.stats.TotalKeys = int64(len(c.entries))
}

// Delete removes key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Evictions++
		c.stats.TotalKeys = int64(len(c.entries))
	}
}

// Clear removes every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[K]Entry[V])
	c.stats.TotalKeys = 0
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the statistics.
func (c *TTL[K, V]) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Stop ends the background sweep. The cache stays usable.
func (c *TTL[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTL[K, V]) record(fn func(s *Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *TTL[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *TTL[K, V]) cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
	c.stats.TotalKeys = int64(len(c.entries))
	c.stats.LastCleanup = now
}
