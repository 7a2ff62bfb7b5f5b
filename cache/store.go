package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/rawrcache/events"
	"github.com/Keksclan/rawrcache/internal/glob"
	"github.com/Keksclan/rawrcache/internal/janitor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Cache is an in-process store of V values. All methods are safe for
// concurrent use.
type Cache[V any] struct {
	cfg     Config
	opts    options
	sizer   func(V) (int64, error)
	tracer  trace.Tracer
	matcher *glob.Matcher

	mu          sync.Mutex
	entries     map[string]*entry[V]
	tagIndex    map[string]map[string]struct{}
	memoryUsage int64
	seq         uint64
	stats       counters

	sweeper   *janitor.Janitor
	refresher *janitor.Janitor
	snapshot  atomic.Pointer[Stats]
}

// New creates a stopped Cache. Call Start to run the expiration sweeper and
// the statistics refresh, and Close when done.
func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.listener == nil {
		o.listener = events.Nop
	}

	sizer := serializedSize[V]
	if o.sizer != nil {
		fn, ok := o.sizer.(func(V) (int64, error))
		if !ok {
			return nil, fmt.Errorf("%w: sizer %T does not match value type", ErrInvalidConfig, o.sizer)
		}
		sizer = fn
	}

	matcher, err := glob.NewMatcher(256)
	if err != nil {
		o.logger.Warn("pattern compile cache unavailable", "err", err)
	}

	if cfg.InvalidationStrategy != Immediate {
		o.logger.Warn("invalidation strategy is advisory, using IMMEDIATE",
			"configured", string(cfg.InvalidationStrategy))
	}

	c := &Cache[V]{
		cfg:      cfg,
		opts:     o,
		sizer:    sizer,
		tracer:   o.tracer(),
		matcher:  matcher,
		entries:  make(map[string]*entry[V]),
		tagIndex: make(map[string]map[string]struct{}),
		stats:    newCounters(),
	}
	c.sweeper = janitor.New("expiration-sweeper", cfg.SweepInterval, c.sweepTick, o.logger)
	if cfg.EnableStats {
		c.refresher = janitor.New("stats-refresh", cfg.StatsInterval, c.refreshTick, o.logger)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Cache[V]) Config() Config { return c.cfg }

// Start launches the background sweeper and statistics refresh.
func (c *Cache[V]) Start() {
	c.sweeper.Start()
	if c.refresher != nil {
		c.refresher.Start()
	}
}

// Stop cancels the background timers and waits for them to exit. The cache
// stays usable; expired entries are still removed lazily.
func (c *Cache[V]) Stop() {
	c.sweeper.Stop()
	if c.refresher != nil {
		c.refresher.Stop()
	}
}

// Close stops the background timers and releases the pattern compile cache.
// Pattern operations after Close still work, compiling without the cache.
func (c *Cache[V]) Close() {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher.Close()
}

func (c *Cache[V]) now() time.Time { return c.opts.now() }

func (c *Cache[V]) emit(evs []events.Event) {
	for _, ev := range evs {
		c.opts.listener.OnEvent(ev)
	}
}

// Set inserts or overwrites key. When the insert would exceed MaxEntries or
// MaxMemoryBytes, entries are evicted first according to the configured
// Strategy. A value larger than the whole memory budget is rejected with
// ErrEntryTooLarge and nothing is evicted.
//
// Overwriting a key replaces its value, tags, layer and lifetime; its access
// count is kept.
func (c *Cache[V]) Set(key string, value V, opts SetOptions) error {
	start := c.now()
	if key == "" {
		return ErrEmptyKey
	}
	if opts.TTL < 0 {
		return fmt.Errorf("%w: %s for key %q", ErrInvalidTTL, opts.TTL, key)
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL
	}
	layer := opts.Layer
	if layer == "" {
		layer = LayerMemory
	}

	size, err := c.sizer(value)
	if err != nil {
		return fmt.Errorf("cache: measuring value for key %q: %w", key, err)
	}
	if c.cfg.MaxMemoryBytes > 0 && size > c.cfg.MaxMemoryBytes {
		return fmt.Errorf("%w: key %q is %d bytes, budget %d", ErrEntryTooLarge, key, size, c.cfg.MaxMemoryBytes)
	}

	var evs []events.Event

	c.mu.Lock()
	now := c.now()
	var accessCount uint64
	if old, ok := c.entries[key]; ok {
		accessCount = old.accessCount
		c.unlinkLocked(old)
	}
	c.makeRoomLocked(size, &evs)

	e := &entry[V]{
		key:            key,
		value:          value,
		ttl:            ttl,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
		accessCount:    accessCount,
		tags:           tagSet(opts.Tags),
		layer:          layer,
		size:           size,
	}
	c.linkLocked(e)
	c.recordLatencyLocked(c.now().Sub(start))
	evs = append(evs, events.New(now, events.SetPayload{
		Key:   key,
		Tags:  e.tagList(),
		Layer: string(layer),
		TTL:   ttl,
		Size:  size,
	}))
	c.mu.Unlock()

	c.emit(evs)
	return nil
}

// Get returns the value for key if present and unexpired. An expired entry
// found here is removed before the miss is reported.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.GetEntry(key)
	return e.Value, ok
}

// GetEntry is Get returning the entry metadata along with the value.
func (c *Cache[V]) GetEntry(key string) (Entry[V], bool) {
	start := c.now()
	var evs []events.Event

	c.mu.Lock()
	var out Entry[V]
	e, ok := c.accessLocked(key, &evs)
	if ok {
		out = e.snapshot()
	}
	c.recordLatencyLocked(c.now().Sub(start))
	c.mu.Unlock()

	c.emit(evs)
	return out, ok
}

// accessLocked looks key up as a counted read.
func (c *Cache[V]) accessLocked(key string, evs *[]events.Event) (*entry[V], bool) {
	now := c.now()
	e, ok := c.entries[key]
	if ok && e.expired(now) {
		c.removeLocked(key, events.ReasonExpired, evs)
		ok = false
	}
	if !ok {
		c.recordMissLocked()
		return nil, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	c.recordHitLocked(e)
	*evs = append(*evs, events.New(now, events.HitPayload{Key: key}))
	return e, true
}

// Has reports whether key is present and unexpired. It does not count as a
// hit or a miss.
func (c *Cache[V]) Has(key string) bool {
	var evs []events.Event

	c.mu.Lock()
	_, ok := c.liveLocked(key, &evs)
	c.mu.Unlock()

	c.emit(evs)
	return ok
}

// liveLocked returns the entry for key, removing it first if it expired.
func (c *Cache[V]) liveLocked(key string, evs *[]events.Event) (*entry[V], bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeLocked(key, events.ReasonExpired, evs)
		return nil, false
	}
	return e, true
}

// Delete removes key and reports whether anything was removed.
func (c *Cache[V]) Delete(key string) bool {
	var evs []events.Event

	c.mu.Lock()
	removed := c.removeLocked(key, events.ReasonDeleted, &evs)
	c.mu.Unlock()

	c.emit(evs)
	return removed
}

// GetOrSet returns the cached value for key. On a miss it calls loader with
// the cache unlocked, stores the result and returns it. A loader error is
// returned as is and nothing is stored.
//
// There is no single-flight: concurrent misses for the same key may each run
// loader, and the last one to finish wins.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, opts SetOptions, loader func(context.Context) (V, error)) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrEmptyKey
	}

	ctx, span := c.tracer.Start(ctx, "rawrcache.GetOrSet", trace.WithAttributes(
		attribute.String("cache.key", key),
	))
	defer span.End()

	if v, ok := c.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return v, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	v, err := loader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	if err := c.Set(key, v, opts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	return v, nil
}

// Clear removes every entry, resets the aggregate statistics and returns the
// number of entries removed.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*entry[V])
	c.tagIndex = make(map[string]map[string]struct{})
	c.memoryUsage = 0
	c.stats = newCounters()
	now := c.now()
	c.mu.Unlock()

	c.snapshot.Store(nil)
	c.emit([]events.Event{events.New(now, events.ClearedPayload{Count: n})})
	return n
}

// Touch extends the lifetime of key by its original TTL, counted from now.
// It returns false if key is absent or already expired.
func (c *Cache[V]) Touch(key string) bool {
	var evs []events.Event

	c.mu.Lock()
	e, ok := c.liveLocked(key, &evs)
	if ok {
		e.expiresAt = c.now().Add(e.ttl)
	}
	c.mu.Unlock()

	c.emit(evs)
	return ok
}

// SetTTL gives key a new lifetime counted from now. It returns false if key
// is absent or expired.
func (c *Cache[V]) SetTTL(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %s for key %q", ErrInvalidTTL, ttl, key)
	}
	var evs []events.Event

	c.mu.Lock()
	e, ok := c.liveLocked(key, &evs)
	if ok {
		now := c.now()
		e.ttl = ttl
		e.expiresAt = now.Add(ttl)
		evs = append(evs, events.New(now, events.TTLUpdatedPayload{Key: key, TTL: ttl}))
	}
	c.mu.Unlock()

	c.emit(evs)
	return ok, nil
}

// GetTTL returns the remaining lifetime of key, clamped to zero. The boolean
// is false when the key does not exist.
func (c *Cache[V]) GetTTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return max(e.expiresAt.Sub(c.now()), 0), true
}

// MGet returns the values of every key that is a hit.
func (c *Cache[V]) MGet(keys ...string) map[string]V {
	out := make(map[string]V, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// MSet stores every item independently. Items that fail do not prevent the
// others from being stored; their errors are joined.
func (c *Cache[V]) MSet(items ...Item[V]) error {
	var errs []error
	for _, it := range items {
		if err := c.Set(it.Key, it.Value, it.Options); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MDelete deletes every key and returns how many were removed.
func (c *Cache[V]) MDelete(keys ...string) int {
	n := 0
	for _, k := range keys {
		if c.Delete(k) {
			n++
		}
	}
	return n
}

// Keys returns the keys currently held, expired or not, in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.Unlock()

	slices.Sort(out)
	return out
}

// Len returns the number of entries currently held.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// linkLocked adds e to the map, the tag index and the memory total.
func (c *Cache[V]) linkLocked(e *entry[V]) {
	c.seq++
	e.seq = c.seq
	c.entries[e.key] = e
	c.memoryUsage += e.size
	for t := range e.tags {
		keys, ok := c.tagIndex[t]
		if !ok {
			keys = make(map[string]struct{})
			c.tagIndex[t] = keys
		}
		keys[e.key] = struct{}{}
	}
}

// unlinkLocked undoes linkLocked without counting or notifying.
func (c *Cache[V]) unlinkLocked(e *entry[V]) {
	delete(c.entries, e.key)
	c.memoryUsage -= e.size
	for t := range e.tags {
		keys := c.tagIndex[t]
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.tagIndex, t)
		}
	}
}

// removeLocked is the single removal routine shared by deletes,
// invalidation, expiry and eviction.
func (c *Cache[V]) removeLocked(key string, reason events.RemovalReason, evs *[]events.Event) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlinkLocked(e)
	c.recordRemovalLocked(reason)
	*evs = append(*evs, events.New(c.now(), events.DeletedPayload{Key: key, Reason: reason}))
	return true
}
