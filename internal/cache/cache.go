// Package cache provides the bounded, TTL-aware key-value store shared by the
// metadata index and the freshness-record cache.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Config holds store settings.
type Config struct {
	Capacity int           // Maximum number of entries before LRU eviction
	TTL      time.Duration // Entry lifetime (0 = entries never expire)
	Now      func() time.Time
}

// Store is a fixed-capacity LRU map whose entries also expire after TTL.
// It is safe for concurrent use.
type Store[K comparable, V any] struct {
	lru *lru.Cache[K, item[V]]
	ttl time.Duration
	now func() time.Time
}

type item[V any] struct {
	value    V
	storedAt time.Time
}

// New creates a new store.
func New[K comparable, V any](cfg Config) (*Store[K, V], error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %s", cfg.TTL)
	}
	l, err := lru.New[K, item[V]](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store[K, V]{lru: l, ttl: cfg.TTL, now: now}, nil
}

func (s *Store[K, V]) expired(it item[V]) bool {
	return s.ttl > 0 && !s.now().Before(it.storedAt.Add(s.ttl))
}

// Get returns the value for key and marks it recently used.
// An expired entry is removed and reported as a miss.
func (s *Store[K, V]) Get(key K) (V, bool) {
	it, ok := s.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if s.expired(it) {
		s.lru.Remove(key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// Peek is Get without touching recency.
func (s *Store[K, V]) Peek(key K) (V, bool) {
	it, ok := s.lru.Peek(key)
	if !ok || s.expired(it) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// PutIfAbsent stores value unless a live entry for key already exists.
// Reports whether the value was stored. Two concurrent callers may both
// store; the later write wins.
func (s *Store[K, V]) PutIfAbsent(key K, value V) bool {
	if it, ok := s.lru.Peek(key); ok && !s.expired(it) {
		return false
	}
	s.lru.Add(key, item[V]{value: value, storedAt: s.now()})
	return true
}

// Put stores value, replacing any existing entry and restarting its TTL.
func (s *Store[K, V]) Put(key K, value V) {
	s.lru.Add(key, item[V]{value: value, storedAt: s.now()})
}

// Len returns the number of entries, including expired ones not yet removed.
func (s *Store[K, V]) Len() int {
	return s.lru.Len()
}

// Purge removes all entries.
func (s *Store[K, V]) Purge() {
	s.lru.Purge()
}
