// Package metrics exports cache statistics and rate-limit decisions as
// Prometheus metrics.
package metrics

import (
	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by *cache.Cache.
type StatsSource interface {
	Stats() cache.Stats
}

// LimiterSource is implemented by *ratelimit.Limiter.
type LimiterSource interface {
	Stats() ratelimit.Stats
}

// Collector is a prometheus.Collector that reads a fresh snapshot on every
// scrape. Counters restart from zero after cache.Clear, which Prometheus
// treats as a counter reset.
type Collector struct {
	cache   StatsSource
	limiter LimiterSource

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	evictions     *prometheus.Desc
	invalidations *prometheus.Desc
	expirations   *prometheus.Desc
	entries       *prometheus.Desc
	memory        *prometheus.Desc
	hitRatio      *prometheus.Desc
	accessTime    *prometheus.Desc

	tagEntries    *prometheus.Desc
	tagHits       *prometheus.Desc
	layerEntries  *prometheus.Desc
	layerMemory   *prometheus.Desc
	layerHits     *prometheus.Desc
	rlAllowed     *prometheus.Desc
	rlDenied      *prometheus.Desc
	rlTrackedKeys *prometheus.Desc
}

// NewCollector builds a Collector. limiter may be nil, in which case no
// rate-limit metrics are exported.
func NewCollector(namespace string, c StatsSource, limiter LimiterSource) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		cache:   c,
		limiter: limiter,

		hits:          desc("cache", "hits_total", "Reads that found a live entry."),
		misses:        desc("cache", "misses_total", "Reads that found no live entry."),
		evictions:     desc("cache", "evictions_total", "Entries removed to satisfy capacity limits."),
		invalidations: desc("cache", "invalidations_total", "Entries removed by delete or tag/pattern invalidation."),
		expirations:   desc("cache", "expirations_total", "Entries removed because their TTL elapsed."),
		entries:       desc("cache", "entries", "Live entries."),
		memory:        desc("cache", "memory_bytes", "Sum of the serialized sizes of live entries."),
		hitRatio:      desc("cache", "hit_ratio", "Hits divided by reads."),
		accessTime:    desc("cache", "access_seconds_avg", "Average duration of recent get/set calls."),

		tagEntries:   desc("cache", "tag_entries", "Live entries per tag.", "tag"),
		tagHits:      desc("cache", "tag_hits_total", "Hits per tag.", "tag"),
		layerEntries: desc("cache", "layer_entries", "Live entries per layer.", "layer"),
		layerMemory:  desc("cache", "layer_memory_bytes", "Memory per layer.", "layer"),
		layerHits:    desc("cache", "layer_hits_total", "Hits per layer.", "layer"),

		rlAllowed:     desc("ratelimit", "allowed_total", "Rate-limit checks that were allowed."),
		rlDenied:      desc("ratelimit", "denied_total", "Rate-limit checks that were denied."),
		rlTrackedKeys: desc("ratelimit", "keys", "Keys with rate-limit state."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.evictions, c.invalidations, c.expirations,
		c.entries, c.memory, c.hitRatio, c.accessTime,
		c.tagEntries, c.tagHits, c.layerEntries, c.layerMemory, c.layerHits,
	} {
		ch <- d
	}
	if c.limiter != nil {
		ch <- c.rlAllowed
		ch <- c.rlDenied
		ch <- c.rlTrackedKeys
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.evictions, s.Evictions)
	counter(c.invalidations, s.Invalidations)
	counter(c.expirations, s.Expirations)
	gauge(c.entries, float64(s.TotalEntries))
	gauge(c.memory, float64(s.MemoryUsage))
	gauge(c.hitRatio, s.HitRate)
	gauge(c.accessTime, s.AvgAccessTime.Seconds())

	for tag, ts := range s.Tags {
		gauge(c.tagEntries, float64(ts.Entries), tag)
		counter(c.tagHits, ts.Hits, tag)
	}
	for layer, ls := range s.Layers {
		gauge(c.layerEntries, float64(ls.Entries), string(layer))
		gauge(c.layerMemory, float64(ls.MemoryUsage), string(layer))
		counter(c.layerHits, ls.Hits, string(layer))
	}

	if c.limiter != nil {
		rs := c.limiter.Stats()
		counter(c.rlAllowed, rs.Allowed)
		counter(c.rlDenied, rs.Denied)
		gauge(c.rlTrackedKeys, float64(rs.Keys))
	}
}
