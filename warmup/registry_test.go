package warmup_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/events"
	"github.com/Keksclan/rawrcache/warmup"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRegistry(t *testing.T, opts ...warmup.Option) (*warmup.Registry[string], *cache.Cache[string], *events.Channel) {
	t.Helper()
	c, err := cache.New[string](cache.DefaultConfig())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Close)
	ch := events.NewChannel(64)
	opts = append([]warmup.Option{warmup.WithListener(ch)}, opts...)
	return warmup.NewRegistry(c, opts...), c, ch
}

func drain(ch *events.Channel) []events.Type {
	var out []events.Type
	for {
		select {
		case ev := <-ch.C():
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func mustCreate(t *testing.T, r *warmup.Registry[string], spec warmup.PatternSpec) warmup.Pattern {
	t.Helper()
	p, err := r.Create(spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreate_GetAndEvent(t *testing.T) {
	r, _, ch := newRegistry(t)
	p := mustCreate(t, r, warmup.PatternSpec{Name: "users", KeyPattern: "user:*", TTL: time.Minute, Tags: []string{"users"}})

	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", p)
	}
	got, err := r.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "users" || got.KeyPattern != "user:*" {
		t.Fatalf("got %+v", got)
	}
	if evs := drain(ch); !slices.Equal(evs, []events.Type{events.PatternCreated}) {
		t.Fatalf("events %v", evs)
	}
}

func TestCreate_Invalid(t *testing.T) {
	r, _, _ := newRegistry(t)
	for _, spec := range []warmup.PatternSpec{
		{KeyPattern: "a:*"},
		{Name: "a"},
		{Name: "a", KeyPattern: "a:*", TTL: -time.Second},
	} {
		if _, err := r.Create(spec); !errors.Is(err, warmup.ErrInvalidPattern) {
			t.Fatalf("spec %+v: expected ErrInvalidPattern, got %v", spec, err)
		}
	}
}

func TestPatternCRUD(t *testing.T) {
	r, _, _ := newRegistry(t)
	a := mustCreate(t, r, warmup.PatternSpec{Name: "a", KeyPattern: "a:*"})
	b := mustCreate(t, r, warmup.PatternSpec{Name: "b", KeyPattern: "b:*"})

	if n := len(r.List()); n != 2 {
		t.Fatalf("List len = %d, want 2", n)
	}

	up, err := r.Update(a.ID, warmup.PatternSpec{Name: "a2", KeyPattern: "a:v2:*", TTL: time.Hour})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.Name != "a2" || up.TTL != time.Hour || up.CreatedAt != a.CreatedAt {
		t.Fatalf("unexpected update result %+v", up)
	}

	if err := r.Delete(b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(b.ID); !errors.Is(err, warmup.ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound after delete, got %v", err)
	}
	if err := r.Delete(b.ID); !errors.Is(err, warmup.ErrPatternNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := r.Update("nope", warmup.PatternSpec{Name: "x", KeyPattern: "x"}); !errors.Is(err, warmup.ErrPatternNotFound) {
		t.Fatalf("update unknown: %v", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, _, _ := newRegistry(t)
	p := mustCreate(t, r, warmup.PatternSpec{Name: "a", KeyPattern: "a:*", Tags: []string{"x"}})

	p.Tags[0] = "mutated"
	got, _ := r.Get(p.ID)
	if got.Tags[0] != "x" {
		t.Fatal("caller mutation leaked into the registry")
	}
}

func TestWarmup_Completes(t *testing.T) {
	r, c, ch := newRegistry(t)
	p := mustCreate(t, r, warmup.PatternSpec{Name: "users", KeyPattern: "user:*", TTL: time.Minute, Tags: []string{"users"}})
	drain(ch)

	task, err := r.Warmup(t.Context(), p.ID, []warmup.Entry[string]{
		{Key: "user:1", Value: "alice"},
		{Key: "user:2", Value: "bob"},
	})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if task.Status != warmup.StatusCompleted || task.EntriesWarmed != 2 || task.Error != "" {
		t.Fatalf("task %+v", task)
	}

	e, ok := c.GetEntry("user:2")
	if !ok || e.Value != "bob" {
		t.Fatalf("warmed entry missing: %+v ok=%v", e, ok)
	}
	if e.TTL != time.Minute || !slices.Equal(e.Tags, []string{"users"}) {
		t.Fatalf("pattern ttl/tags not applied: %+v", e)
	}

	evs := drain(ch)
	if evs[0] != events.WarmupStarted || evs[len(evs)-1] != events.WarmupCompleted {
		t.Fatalf("events %v", evs)
	}

	stored, err := r.Task(task.ID)
	if err != nil || stored.Status != warmup.StatusCompleted {
		t.Fatalf("Task lookup: %+v %v", stored, err)
	}
}

func TestWarmup_UnknownPattern(t *testing.T) {
	r, _, _ := newRegistry(t)
	if _, err := r.Warmup(t.Context(), "missing", nil); !errors.Is(err, warmup.ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound, got %v", err)
	}
}

func TestWarmup_FailureKeepsWarmedEntries(t *testing.T) {
	r, c, ch := newRegistry(t)
	p := mustCreate(t, r, warmup.PatternSpec{Name: "users", KeyPattern: "user:*"})
	drain(ch)

	task, err := r.Warmup(t.Context(), p.ID, []warmup.Entry[string]{
		{Key: "user:1", Value: "alice"},
		{Key: "order:1", Value: "nope"},
		{Key: "user:3", Value: "carol"},
	})
	if !errors.Is(err, warmup.ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
	if task.Status != warmup.StatusFailed || task.EntriesWarmed != 1 || task.Error == "" {
		t.Fatalf("task %+v", task)
	}
	if !c.Has("user:1") {
		t.Fatal("entries warmed before the failure must stay")
	}
	if c.Has("user:3") {
		t.Fatal("entries after the failure must not be warmed")
	}
	if evs := drain(ch); evs[len(evs)-1] != events.WarmupFailed {
		t.Fatalf("events %v", evs)
	}
}

func TestWarmup_CancelledContext(t *testing.T) {
	r, c, _ := newRegistry(t)
	p := mustCreate(t, r, warmup.PatternSpec{Name: "a", KeyPattern: "*"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	task, err := r.Warmup(ctx, p.ID, []warmup.Entry[string]{{Key: "k", Value: "v"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if task.Status != warmup.StatusFailed || c.Len() != 0 {
		t.Fatalf("task %+v, len %d", task, c.Len())
	}
}

func TestTask_NotFound(t *testing.T) {
	r, _, _ := newRegistry(t)
	if _, err := r.Task("missing"); !errors.Is(err, warmup.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestPrune_DropsFinishedTasksAfterRetention(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r, _, _ := newRegistry(t, warmup.WithClock(clock), warmup.WithTaskRetention(time.Minute))
	p := mustCreate(t, r, warmup.PatternSpec{Name: "users", KeyPattern: "user:*", TTL: time.Minute})

	done, err := r.Warmup(t.Context(), p.ID, []warmup.Entry[string]{{Key: "user:1", Value: "a"}})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	failed, _ := r.Warmup(t.Context(), p.ID, []warmup.Entry[string]{{Key: "other", Value: "b"}})

	if n := r.Prune(); n != 0 {
		t.Fatalf("pruned %d tasks inside the retention period", n)
	}

	now = now.Add(2 * time.Minute)
	if n := r.Prune(); n != 2 {
		t.Fatalf("expected 2 pruned tasks, got %d", n)
	}
	for _, id := range []string{done.ID, failed.ID} {
		if _, err := r.Task(id); !errors.Is(err, warmup.ErrTaskNotFound) {
			t.Fatalf("task %s: expected ErrTaskNotFound, got %v", id, err)
		}
	}
}

func TestWarmup_Traced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r, _, _ := newRegistry(t, warmup.WithTracerProvider(tp))
	p := mustCreate(t, r, warmup.PatternSpec{Name: "a", KeyPattern: "a:*"})
	if _, err := r.Warmup(t.Context(), p.ID, []warmup.Entry[string]{{Key: "a:1", Value: "v"}}); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "rawrcache.Warmup" {
		t.Fatalf("expected one rawrcache.Warmup span, got %d", len(spans))
	}
}
