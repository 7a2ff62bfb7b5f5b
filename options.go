package rawrcache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/events"
	"go.opentelemetry.io/otel/trace"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	cache            cache.Config
	listener         events.Listener
	logger           *slog.Logger
	now              func() time.Time
	tracerProvider   trace.TracerProvider
	metricsNamespace string
}

func defaultConfig() config {
	return config{
		cache:            cache.DefaultConfig(),
		listener:         events.Nop,
		logger:           slog.Default(),
		now:              time.Now,
		metricsNamespace: "rawrcache",
	}
}

// Option configures an Engine.
type Option func(*config)

// WithConfig replaces the cache configuration. Start from
// cache.DefaultConfig and override fields; New rejects invalid values.
func WithConfig(cfg cache.Config) Option {
	return func(c *config) { c.cache = cfg }
}

// WithListener sets the receiver of every lifecycle event: cache, rate
// limiter and warmup. Use events.Multi to fan out.
func WithListener(l events.Listener) Option {
	return func(c *config) { c.listener = l }
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock replaces time.Now in all components, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithTracerProvider sets the provider for GetOrSet and Warmup spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithMetricsNamespace sets the Prometheus namespace. Defaults to "rawrcache".
func WithMetricsNamespace(ns string) Option {
	return func(c *config) { c.metricsNamespace = ns }
}
