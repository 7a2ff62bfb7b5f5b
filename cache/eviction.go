package cache

import "github.com/Keksclan/rawrcache/events"

// overCapacityLocked reports whether inserting an entry of size bytes would
// break MaxEntries or MaxMemoryBytes.
func (c *Cache[V]) overCapacityLocked(size int64) bool {
	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		return true
	}
	return c.cfg.MaxMemoryBytes > 0 && c.memoryUsage+size > c.cfg.MaxMemoryBytes
}

// makeRoomLocked evicts one victim at a time until an entry of size bytes
// fits. The loop is bounded by the entry count at entry so it cannot spin.
func (c *Cache[V]) makeRoomLocked(size int64, evs *[]events.Event) {
	limit := len(c.entries)
	for range limit {
		if !c.overCapacityLocked(size) {
			return
		}
		victim, ok := c.victimLocked()
		if !ok {
			return
		}
		c.removeLocked(victim.key, events.ReasonEvicted, evs)
	}
}

// victimLocked scans the live entries for the one the configured strategy
// evicts first. Ties go to the entry inserted earliest.
func (c *Cache[V]) victimLocked() (*entry[V], bool) {
	var victim *entry[V]
	for _, e := range c.entries {
		if victim == nil || evictsBefore(c.cfg.Strategy, e, victim) {
			victim = e
		}
	}
	return victim, victim != nil
}

func evictsBefore[V any](s Strategy, a, b *entry[V]) bool {
	switch s {
	case LFU:
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
	case FIFO:
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
	case TTL:
		if !a.expiresAt.Equal(b.expiresAt) {
			return a.expiresAt.Before(b.expiresAt)
		}
	default:
		if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		}
	}
	return a.seq < b.seq
}
