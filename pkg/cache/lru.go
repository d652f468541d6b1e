/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache provides an in-memory LRU with hit and miss statistics.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats holds the hit and miss counters of a cache.
type Stats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Hits returns the number of lookups that found an entry.
func (s *Stats) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the number of lookups that found nothing.
func (s *Stats) Misses() int64 {
	return s.misses.Load()
}

// HitRate returns the ratio of hits among all lookups, between 0 and 1.
func (s *Stats) HitRate() float64 {
	total := s.Hits() + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// LRU is a fixed size least recently used cache with statistics.
type LRU[K comparable, V any] struct {
	cache *lru.Cache[K, V]
	stats *Stats
	name  string
}

// NewLRU creates a cache holding at most size entries.
func NewLRU[K comparable, V any](size int, name string) (*LRU[K, V], error) {
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}

	return &LRU[K, V]{
		cache: c,
		stats: &Stats{},
		name:  name,
	}, nil
}

// Get returns the entry of the given key and records a hit or a miss.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := c.cache.Get(key)
	if ok {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	return v, ok
}

// Add adds or replaces the entry of the given key.
func (c *LRU[K, V]) Add(key K, v V) {
	c.cache.Add(key, v)
}

// Remove removes the entry of the given key.
func (c *LRU[K, V]) Remove(key K) {
	c.cache.Remove(key)
}

// RemoveIf removes every entry for which fn returns true.
func (c *LRU[K, V]) RemoveIf(fn func(key K, v V) bool) int {
	removed := 0
	for _, key := range c.cache.Keys() {
		if v, ok := c.cache.Peek(key); ok && fn(key, v) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Purge removes all entries.
func (c *LRU[K, V]) Purge() {
	c.cache.Purge()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	return c.cache.Len()
}

// Stats returns the statistics of the cache.
func (c *LRU[K, V]) Stats() *Stats {
	return c.stats
}

// Name returns the name of the cache.
func (c *LRU[K, V]) Name() string {
	return c.name
}
