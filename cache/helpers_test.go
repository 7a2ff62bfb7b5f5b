package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/events"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// recorder collects every emitted event.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) OnEvent(ev events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func mustNew[V any](t *testing.T, cfg Config, opts ...Option) *Cache[V] {
	t.Helper()
	c, err := New[V](cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// testCache returns a string cache on a fake clock with a recorder attached.
func testCache(t *testing.T, mutate func(*Config)) (*Cache[string], *fakeClock, *recorder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := newFakeClock()
	rec := &recorder{}
	c := mustNew[string](t, cfg, WithClock(clk.Now), WithListener(rec))
	return c, clk, rec
}
