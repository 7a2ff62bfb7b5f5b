package cache

import (
	"slices"
	"time"
)

// entry is the mutable record owned by the store. It is only touched with
// Cache.mu held.
type entry[V any] struct {
	key            string
	value          V
	ttl            time.Duration
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	tags           map[string]struct{}
	layer          Layer
	size           int64
	seq            uint64 // insertion order, breaks eviction ties
}

func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

func (e *entry[V]) hasTag(tag string) bool {
	_, ok := e.tags[tag]
	return ok
}

func (e *entry[V]) tagList() []string {
	if len(e.tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.tags))
	for t := range e.tags {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (e *entry[V]) snapshot() Entry[V] {
	return Entry[V]{
		Key:            e.key,
		Value:          e.value,
		TTL:            e.ttl,
		CreatedAt:      e.createdAt,
		ExpiresAt:      e.expiresAt,
		LastAccessedAt: e.lastAccessedAt,
		AccessCount:    e.accessCount,
		Tags:           e.tagList(),
		Layer:          e.layer,
		Size:           e.size,
	}
}

func tagSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}
