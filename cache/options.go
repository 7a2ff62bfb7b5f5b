package cache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Option configures runtime collaborators of a Cache.
type Option func(*options)

type options struct {
	listener       events.Listener
	logger         *slog.Logger
	now            func() time.Time
	tracerProvider trace.TracerProvider
	sizer          any
}

// WithListener sets the receiver of lifecycle events.
func WithListener(l events.Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithLogger sets the logger used for background work.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTracerProvider sets the provider used to trace GetOrSet loaders. When
// unset the global otel provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithSizer overrides how the byte size of a value is measured. V must match
// the value type of the cache it is passed to.
func WithSizer[V any](fn func(V) (int64, error)) Option {
	return func(o *options) { o.sizer = fn }
}

func defaultOptions() options {
	return options{
		listener: events.Nop,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

func (o options) tracer() trace.Tracer {
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("github.com/Keksclan/rawrcache/cache")
}

// serializedSize measures raw bytes and strings directly and everything else
// by its JSON encoding.
func serializedSize[V any](v V) (int64, error) {
	switch x := any(v).(type) {
	case []byte:
		return int64(len(x)), nil
	case string:
		return int64(len(x)), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
