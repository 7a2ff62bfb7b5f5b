// Package cache provides the in-process entry store: keyed values with TTLs,
// capacity-driven eviction, a background expiration sweeper, tag and glob
// based bulk invalidation, and running statistics.
//
// A Cache serializes every entry mutation behind a single mutex so that the
// memory and entry-count totals always reflect the live entry set. Lifecycle
// notifications are delivered to an [events.Listener] after the lock has been
// released, which makes it safe for listeners to call back into the cache.
package cache

import (
	"errors"
	"time"
)

var (
	// ErrEmptyKey is returned when an operation is given an empty key.
	ErrEmptyKey = errors.New("cache: empty key")
	// ErrInvalidTTL is returned for a negative TTL (or a non-positive one
	// where an explicit lifetime is required).
	ErrInvalidTTL = errors.New("cache: invalid ttl")
	// ErrEntryTooLarge is returned when a single value is larger than the
	// configured memory budget. Nothing is evicted in that case.
	ErrEntryTooLarge = errors.New("cache: entry exceeds memory budget")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("cache: invalid config")
)

// Layer is the logical tier an entry is assigned to. Only LayerMemory is
// backed by storage; the other tiers are recorded as metadata.
type Layer string

const (
	LayerMemory      Layer = "MEMORY"
	LayerRedis       Layer = "REDIS"
	LayerDistributed Layer = "DISTRIBUTED"
)

// SetOptions controls how an entry is stored. The zero value stores the entry
// in memory, untagged, with the configured default TTL.
type SetOptions struct {
	TTL   time.Duration
	Tags  []string
	Layer Layer
}

// Item is a single element of an MSet batch.
type Item[V any] struct {
	Key     string
	Value   V
	Options SetOptions
}

// Entry is a point-in-time copy of a cached entry and its metadata.
type Entry[V any] struct {
	Key            string
	Value          V
	TTL            time.Duration
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
	Tags           []string
	Layer          Layer
	Size           int64
}
