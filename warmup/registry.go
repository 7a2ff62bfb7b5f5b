package warmup

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/events"
	"github.com/Keksclan/rawrcache/internal/glob"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Registry.
type Option func(*options)

type options struct {
	listener       events.Listener
	logger         *slog.Logger
	now            func() time.Time
	tracerProvider trace.TracerProvider
	taskRetention  time.Duration
}

// DefaultTaskRetention is how long finished tasks stay visible to Task.
const DefaultTaskRetention = time.Hour

// WithListener sets the receiver of pattern and warmup events.
func WithListener(l events.Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTracerProvider sets the provider used to trace warmup runs.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithTaskRetention sets how long completed and failed tasks are kept
// before Prune drops them.
func WithTaskRetention(d time.Duration) Option {
	return func(o *options) { o.taskRetention = d }
}

// Registry stores patterns and warmup tasks for one cache. Patterns have a
// lifecycle independent of the entries they produced: deleting a pattern
// leaves warmed entries in place.
type Registry[V any] struct {
	cache  *cache.Cache[V]
	opts   options
	tracer trace.Tracer

	mu       sync.RWMutex
	patterns map[string]*Pattern
	tasks    map[string]*Task
}

// NewRegistry creates an empty Registry that warms c.
func NewRegistry[V any](c *cache.Cache[V], opts ...Option) *Registry[V] {
	o := options{
		listener: events.Nop,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.listener == nil {
		o.listener = events.Nop
	}
	if o.taskRetention <= 0 {
		o.taskRetention = DefaultTaskRetention
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Registry[V]{
		cache:    c,
		opts:     o,
		tracer:   tp.Tracer("github.com/Keksclan/rawrcache/warmup"),
		patterns: make(map[string]*Pattern),
		tasks:    make(map[string]*Task),
	}
}

// Create stores a new pattern and emits cache.pattern.created.
func (r *Registry[V]) Create(spec PatternSpec) (Pattern, error) {
	if err := spec.validate(); err != nil {
		return Pattern{}, err
	}
	now := r.opts.now()
	p := &Pattern{
		ID:          uuid.NewString(),
		PatternSpec: spec,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.Tags = slices.Clone(spec.Tags)

	r.mu.Lock()
	r.patterns[p.ID] = p
	out := p.clone()
	r.mu.Unlock()

	r.opts.listener.OnEvent(events.New(now, events.PatternCreatedPayload{
		PatternID: p.ID,
		Name:      p.Name,
	}))
	return out, nil
}

// Get returns the pattern with id.
func (r *Registry[V]) Get(id string) (Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patterns[id]
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	return p.clone(), nil
}

// List returns all patterns ordered by creation time.
func (r *Registry[V]) List() []Pattern {
	r.mu.RLock()
	out := make([]Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Pattern) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Update replaces the spec of an existing pattern.
func (r *Registry[V]) Update(id string, spec PatternSpec) (Pattern, error) {
	if err := spec.validate(); err != nil {
		return Pattern{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patterns[id]
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	p.PatternSpec = spec
	p.Tags = slices.Clone(spec.Tags)
	p.UpdatedAt = r.opts.now()
	return p.clone(), nil
}

// Delete removes a pattern. Entries it warmed stay in the cache.
func (r *Registry[V]) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patterns[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	delete(r.patterns, id)
	return nil
}

// Task returns the current state of a warmup task.
func (r *Registry[V]) Task(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *t, nil
}

// Prune drops finished tasks older than the retention period. Pending and
// running tasks are always kept. It returns the number of tasks dropped.
func (r *Registry[V]) Prune() int {
	cutoff := r.opts.now().Add(-r.opts.taskRetention)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, t := range r.tasks {
		if t.Status.finished() && t.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}

// Warmup inserts entries into the cache using the TTL and tags of the
// pattern with id. It runs synchronously and returns the finished task.
//
// The first entry that cannot be stored (key outside the pattern glob, a
// rejected Set, or ctx cancellation) fails the task; the returned error
// wraps the cause and Task.Error carries its message. Entries warmed before
// the failure are not rolled back. An unknown id returns ErrPatternNotFound
// without creating a task.
func (r *Registry[V]) Warmup(ctx context.Context, id string, entries []Entry[V]) (Task, error) {
	p, err := r.Get(id)
	if err != nil {
		return Task{}, err
	}

	ctx, span := r.tracer.Start(ctx, "rawrcache.Warmup", trace.WithAttributes(
		attribute.String("warmup.pattern_id", p.ID),
		attribute.String("warmup.pattern", p.KeyPattern),
		attribute.Int("warmup.entries", len(entries)),
	))
	defer span.End()

	task := &Task{ID: uuid.NewString(), PatternID: p.ID, Status: StatusPending}
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()
	span.SetAttributes(attribute.String("warmup.task_id", task.ID))

	r.setStatus(task, StatusRunning, 0, nil)
	r.emit(events.WarmupStarted, task)

	warmed := 0
	opts := cache.SetOptions{TTL: p.TTL, Tags: p.Tags}
	for _, e := range entries {
		if err = ctx.Err(); err != nil {
			break
		}
		if !glob.Match(p.KeyPattern, e.Key) {
			err = fmt.Errorf("%w: %q does not match %q", ErrKeyMismatch, e.Key, p.KeyPattern)
			break
		}
		if err = r.cache.Set(e.Key, e.Value, opts); err != nil {
			err = fmt.Errorf("warmup: set %q: %w", e.Key, err)
			break
		}
		warmed++
	}
	span.SetAttributes(attribute.Int("warmup.entries_warmed", warmed))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.setStatus(task, StatusFailed, warmed, err)
		r.emit(events.WarmupFailed, task)
		r.opts.logger.Warn("warmup failed",
			"task_id", task.ID,
			"pattern_id", p.ID,
			"entries_warmed", warmed,
			"err", err,
		)
		out, _ := r.Task(task.ID)
		return out, err
	}

	r.setStatus(task, StatusCompleted, warmed, nil)
	r.emit(events.WarmupCompleted, task)
	r.opts.logger.Debug("warmup completed", "task_id", task.ID, "pattern_id", p.ID, "entries_warmed", warmed)
	return r.Task(task.ID)
}

func (r *Registry[V]) setStatus(t *Task, s Status, warmed int, err error) {
	now := r.opts.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	t.Status = s
	t.EntriesWarmed = warmed
	switch s {
	case StatusRunning:
		t.StartedAt = now
	case StatusCompleted, StatusFailed:
		t.FinishedAt = now
	}
	if err != nil {
		t.Error = err.Error()
	}
}

func (r *Registry[V]) emit(phase events.Type, t *Task) {
	r.mu.RLock()
	p := events.WarmupPayload{
		Phase:         phase,
		TaskID:        t.ID,
		PatternID:     t.PatternID,
		EntriesWarmed: t.EntriesWarmed,
		Error:         t.Error,
	}
	r.mu.RUnlock()
	r.opts.listener.OnEvent(events.New(r.opts.now(), p))
}
