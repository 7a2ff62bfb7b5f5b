package cache

import "github.com/Keksclan/rawrcache/events"

// Sweep removes every entry whose expiry has passed and returns how many were
// removed. A single cache.cleanup event follows the individual removals when
// anything was removed. The background sweeper calls Sweep on every tick.
func (c *Cache[V]) Sweep() int {
	var evs []events.Event

	c.mu.Lock()
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if e.expired(now) && c.removeLocked(key, events.ReasonExpired, &evs) {
			n++
		}
	}
	if n > 0 {
		evs = append(evs, events.New(now, events.CleanupPayload{Count: n}))
	}
	c.mu.Unlock()

	c.emit(evs)
	return n
}

func (c *Cache[V]) sweepTick() error {
	if n := c.Sweep(); n > 0 {
		c.opts.logger.Debug("expired cache entries swept", "count", n)
	}
	return nil
}
