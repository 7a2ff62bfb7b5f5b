// Package rawrcache is an in-process cache and rate-limit engine.
//
// An [Engine] composes the keyed entry store of package cache with a
// fixed-window rate limiter, a registry of warmup patterns and a Prometheus
// collector. Lifecycle events from all of them go to one listener.
//
//	eng, err := rawrcache.New[[]byte](rawrcache.WithListener(events.Log(logger, slog.LevelDebug)))
//	if err != nil { ... }
//	eng.Start()
//	defer eng.Close()
//
//	_ = eng.Set("user:1", payload, cache.SetOptions{TTL: time.Minute, Tags: []string{"users"}})
//	res, _ := eng.CheckRateLimit(ratelimit.Rule{Key: "ip:10.0.0.1", MaxRequests: 100, Window: time.Minute})
package rawrcache

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/internal/janitor"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/warmup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the facade over the cache, the rate limiter and the warmup
// registry. Cache operations are promoted from the embedded *cache.Cache.
type Engine[V any] struct {
	*cache.Cache[V]

	limiter   *ratelimit.Limiter
	patterns  *warmup.Registry[V]
	collector *metrics.Collector
	registry  *prometheus.Registry
	pruner    *janitor.Janitor
	log       *slog.Logger
	tp        trace.TracerProvider
}

// New creates a stopped Engine. Call Start to run the background timers and
// Close when done.
func New[V any](opts ...Option) (*Engine[V], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	c, err := cache.New[V](cfg.cache,
		cache.WithListener(cfg.listener),
		cache.WithLogger(cfg.logger),
		cache.WithClock(cfg.now),
		cache.WithTracerProvider(cfg.tracerProvider),
	)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.WithListener(cfg.listener),
		ratelimit.WithLogger(cfg.logger),
		ratelimit.WithClock(cfg.now),
	)
	patterns := warmup.NewRegistry(c,
		warmup.WithListener(cfg.listener),
		warmup.WithLogger(cfg.logger),
		warmup.WithClock(cfg.now),
		warmup.WithTracerProvider(cfg.tracerProvider),
	)

	collector := metrics.NewCollector(cfg.metricsNamespace, c, limiter)
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		c.Close()
		return nil, err
	}

	logger := cfg.logger
	pruner := janitor.New("engine-prune", c.Config().SweepInterval, func() error {
		if n := limiter.Prune(); n > 0 {
			logger.Debug("pruned idle rate-limit state", "keys", n)
		}
		if n := patterns.Prune(); n > 0 {
			logger.Debug("pruned finished warmup tasks", "tasks", n)
		}
		return nil
	}, logger)

	return &Engine[V]{
		Cache:     c,
		limiter:   limiter,
		patterns:  patterns,
		collector: collector,
		registry:  registry,
		pruner:    pruner,
		log:       logger,
		tp:        cfg.tracerProvider,
	}, nil
}

// Start launches the expiration sweeper, the statistics refresh and the
// pruner for idle rate-limit state and finished warmup tasks.
func (e *Engine[V]) Start() {
	e.Cache.Start()
	e.pruner.Start()
}

// Stop cancels all background timers and waits for them to exit.
func (e *Engine[V]) Stop() {
	e.pruner.Stop()
	e.Cache.Stop()
}

// Close stops the engine and releases its resources.
func (e *Engine[V]) Close() {
	e.pruner.Stop()
	e.Cache.Close()
}

// CheckRateLimit counts one request against rule.Key.
func (e *Engine[V]) CheckRateLimit(rule ratelimit.Rule) (ratelimit.Result, error) {
	return e.limiter.Check(rule)
}

// ResetRateLimit discards the window and block state of key.
func (e *Engine[V]) ResetRateLimit(key string) bool {
	return e.limiter.Reset(key)
}

// Limiter returns the underlying rate limiter.
func (e *Engine[V]) Limiter() *ratelimit.Limiter { return e.limiter }

// CreatePattern stores a new warmup pattern.
func (e *Engine[V]) CreatePattern(spec warmup.PatternSpec) (warmup.Pattern, error) {
	return e.patterns.Create(spec)
}

// GetPattern returns the pattern with id.
func (e *Engine[V]) GetPattern(id string) (warmup.Pattern, error) {
	return e.patterns.Get(id)
}

// ListPatterns returns all patterns ordered by creation time.
func (e *Engine[V]) ListPatterns() []warmup.Pattern {
	return e.patterns.List()
}

// UpdatePattern replaces the spec of pattern id.
func (e *Engine[V]) UpdatePattern(id string, spec warmup.PatternSpec) (warmup.Pattern, error) {
	return e.patterns.Update(id, spec)
}

// DeletePattern removes pattern id.
func (e *Engine[V]) DeletePattern(id string) error {
	return e.patterns.Delete(id)
}

// Warmup bulk-inserts entries using the TTL and tags of pattern id.
func (e *Engine[V]) Warmup(ctx context.Context, patternID string, entries []warmup.Entry[V]) (warmup.Task, error) {
	return e.patterns.Warmup(ctx, patternID, entries)
}

// WarmupTask returns the state of a warmup task.
func (e *Engine[V]) WarmupTask(id string) (warmup.Task, error) {
	return e.patterns.Task(id)
}

// Collector returns the Prometheus collector of this engine, for callers
// that register it with their own registry.
func (e *Engine[V]) Collector() prometheus.Collector { return e.collector }

// MetricsHandler returns an http.Handler that serves this engine's metrics.
func (e *Engine[V]) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
