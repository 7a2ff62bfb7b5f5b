package cache

import (
	"time"

	"github.com/Keksclan/rawrcache/events"
)

// maxLatencySamples bounds the rolling window used for AvgAccessTime.
const maxLatencySamples = 1000

// Stats is a point-in-time view of the cache.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
	Expirations   uint64

	TotalEntries int
	MemoryUsage  int64
	// HitRate is Hits/(Hits+Misses), or zero before any read.
	HitRate       float64
	AvgAccessTime time.Duration

	Tags   map[string]TagStats
	Layers map[Layer]LayerStats
}

// TagStats breaks the cache down by tag. Hits are cumulative across the
// lifetime of the cache (until Clear) and survive the tagged entries.
type TagStats struct {
	Entries         int
	Hits            uint64
	LastInvalidated time.Time
}

// LayerStats breaks the cache down by layer.
type LayerStats struct {
	Entries     int
	MemoryUsage int64
	Hits        uint64
}

// counters is the running state behind Stats. Guarded by Cache.mu.
type counters struct {
	hits, misses  uint64
	evictions     uint64
	invalidations uint64
	expirations   uint64

	tagHits          map[string]uint64
	layerHits        map[Layer]uint64
	tagInvalidatedAt map[string]time.Time

	latency    []time.Duration
	latencyPos int
	latencySum time.Duration
}

func newCounters() counters {
	return counters{
		tagHits:          make(map[string]uint64),
		layerHits:        make(map[Layer]uint64),
		tagInvalidatedAt: make(map[string]time.Time),
		latency:          make([]time.Duration, 0, maxLatencySamples),
	}
}

func (c *Cache[V]) recordHitLocked(e *entry[V]) {
	if !c.cfg.EnableStats {
		return
	}
	c.stats.hits++
	c.stats.layerHits[e.layer]++
	for t := range e.tags {
		c.stats.tagHits[t]++
	}
}

func (c *Cache[V]) recordMissLocked() {
	if c.cfg.EnableStats {
		c.stats.misses++
	}
}

func (c *Cache[V]) recordRemovalLocked(reason events.RemovalReason) {
	if !c.cfg.EnableStats {
		return
	}
	switch reason {
	case events.ReasonEvicted:
		c.stats.evictions++
	case events.ReasonExpired:
		c.stats.expirations++
	default:
		c.stats.invalidations++
	}
}

// recordLatencyLocked adds d to the rolling window, overwriting the oldest
// sample once the window is full.
func (c *Cache[V]) recordLatencyLocked(d time.Duration) {
	if !c.cfg.EnableStats {
		return
	}
	s := &c.stats
	if len(s.latency) < maxLatencySamples {
		s.latency = append(s.latency, d)
		s.latencySum += d
		return
	}
	s.latencySum += d - s.latency[s.latencyPos]
	s.latency[s.latencyPos] = d
	s.latencyPos = (s.latencyPos + 1) % maxLatencySamples
}

// Stats computes a fresh snapshot by scanning the entry set.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	out := Stats{
		Hits:          s.hits,
		Misses:        s.misses,
		Evictions:     s.evictions,
		Invalidations: s.invalidations,
		Expirations:   s.expirations,
		TotalEntries:  len(c.entries),
		MemoryUsage:   c.memoryUsage,
		Tags:          make(map[string]TagStats),
		Layers:        make(map[Layer]LayerStats),
	}
	if total := s.hits + s.misses; total > 0 {
		out.HitRate = float64(s.hits) / float64(total)
	}
	if n := len(s.latency); n > 0 {
		out.AvgAccessTime = s.latencySum / time.Duration(n)
	}

	for _, e := range c.entries {
		ls := out.Layers[e.layer]
		ls.Entries++
		ls.MemoryUsage += e.size
		out.Layers[e.layer] = ls
		for t := range e.tags {
			ts := out.Tags[t]
			ts.Entries++
			out.Tags[t] = ts
		}
	}
	for t, h := range s.tagHits {
		ts := out.Tags[t]
		ts.Hits = h
		out.Tags[t] = ts
	}
	for t, at := range s.tagInvalidatedAt {
		ts := out.Tags[t]
		ts.LastInvalidated = at
		out.Tags[t] = ts
	}
	for l, h := range s.layerHits {
		ls := out.Layers[l]
		ls.Hits = h
		out.Layers[l] = ls
	}
	return out
}

// LastSnapshot returns the statistics computed by the most recent periodic
// refresh, if one has run since the cache was created or cleared.
func (c *Cache[V]) LastSnapshot() (Stats, bool) {
	if s := c.snapshot.Load(); s != nil {
		return *s, true
	}
	return Stats{}, false
}

func (c *Cache[V]) refreshTick() error {
	s := c.Stats()
	c.snapshot.Store(&s)
	c.opts.logger.Debug("cache statistics refreshed",
		"entries", s.TotalEntries,
		"memory_bytes", s.MemoryUsage,
		"hit_rate", s.HitRate,
	)
	return nil
}
