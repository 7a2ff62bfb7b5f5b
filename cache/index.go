package cache

import (
	"slices"
	"strings"

	"github.com/Keksclan/rawrcache/events"
)

// InvalidateByTag removes every entry carrying tag and returns the count. The
// tag's last-invalidated time is updated even when nothing matched.
func (c *Cache[V]) InvalidateByTag(tag string) int {
	var evs []events.Event

	c.mu.Lock()
	keys := make([]string, 0, len(c.tagIndex[tag]))
	for k := range c.tagIndex[tag] {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	n := 0
	for _, k := range keys {
		if c.removeLocked(k, events.ReasonInvalidated, &evs) {
			n++
		}
	}
	now := c.now()
	c.stats.tagInvalidatedAt[tag] = now
	evs = append(evs, events.New(now, events.TagInvalidatedPayload{Tag: tag, Count: n}))
	c.mu.Unlock()

	c.emit(evs)
	return n
}

// InvalidateByTags calls InvalidateByTag for each tag in turn and returns the
// sum of the counts. Tags are not deduplicated.
func (c *Cache[V]) InvalidateByTags(tags ...string) int {
	n := 0
	for _, t := range tags {
		n += c.InvalidateByTag(t)
	}
	return n
}

// GetByTag returns the unexpired entries carrying tag, sorted by key. It has
// no effect on statistics or access metadata.
func (c *Cache[V]) GetByTag(tag string) []Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Entry[V], 0, len(c.tagIndex[tag]))
	for k := range c.tagIndex[tag] {
		if e := c.entries[k]; !e.expired(now) {
			out = append(out, e.snapshot())
		}
	}
	slices.SortFunc(out, func(a, b Entry[V]) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// InvalidateByPattern removes every entry whose key matches the glob pattern
// in full and returns the count. '*' matches any substring.
func (c *Cache[V]) InvalidateByPattern(pattern string) int {
	var evs []events.Event

	c.mu.Lock()
	n := 0
	for k := range c.entries {
		if c.matcher.Match(pattern, k) && c.removeLocked(k, events.ReasonInvalidated, &evs) {
			n++
		}
	}
	evs = append(evs, events.New(c.now(), events.PatternInvalidatedPayload{Pattern: pattern, Count: n}))
	c.mu.Unlock()

	c.emit(evs)
	return n
}

// GetKeysByPattern returns the sorted unexpired keys matching pattern.
func (c *Cache[V]) GetKeysByPattern(pattern string) []string {
	c.mu.Lock()
	now := c.now()
	var out []string
	for k, e := range c.entries {
		if !e.expired(now) && c.matcher.Match(pattern, k) {
			out = append(out, k)
		}
	}
	c.mu.Unlock()

	slices.Sort(out)
	return out
}
