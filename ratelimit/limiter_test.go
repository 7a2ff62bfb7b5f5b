package ratelimit_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/events"
	"github.com/Keksclan/rawrcache/ratelimit"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T) (*ratelimit.Limiter, *clock, *events.Channel) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ch := events.NewChannel(64)
	return ratelimit.NewLimiter(ratelimit.WithClock(clk.Now), ratelimit.WithListener(ch)), clk, ch
}

func mustCheck(t *testing.T, l *ratelimit.Limiter, rule ratelimit.Rule) ratelimit.Result {
	t.Helper()
	res, err := l.Check(rule)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return res
}

func TestLimiter_AllowsUpToMaxThenDenies(t *testing.T) {
	l, _, ch := newLimiter(t)
	rule := ratelimit.Rule{Key: "ip:1", MaxRequests: 2, Window: 10 * time.Second}

	for i, wantRemaining := range []int{1, 0} {
		res := mustCheck(t, l, rule)
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if res.Remaining != wantRemaining {
			t.Fatalf("request %d: remaining %d, want %d", i+1, res.Remaining, wantRemaining)
		}
	}

	res := mustCheck(t, l, rule)
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("3rd request: got %+v, want denied with 0 remaining", res)
	}
	if res.Blocked {
		t.Fatal("no block duration configured, expected Blocked=false")
	}

	select {
	case ev := <-ch.C():
		if ev.Type != events.RateLimitExceeded {
			t.Fatalf("unexpected event %q", ev.Type)
		}
	default:
		t.Fatal("expected a rate limit exceeded event")
	}
}

func TestLimiter_ResetRearmsKey(t *testing.T) {
	l, _, _ := newLimiter(t)
	rule := ratelimit.Rule{Key: "ip:1", MaxRequests: 2, Window: 10 * time.Second}
	for range 3 {
		mustCheck(t, l, rule)
	}

	if !l.Reset("ip:1") {
		t.Fatal("expected Reset to report existing state")
	}
	if res := mustCheck(t, l, rule); !res.Allowed || res.Remaining != 1 {
		t.Fatalf("after reset: %+v", res)
	}
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	l, clk, _ := newLimiter(t)
	rule := ratelimit.Rule{Key: "k", MaxRequests: 1, Window: time.Second}

	mustCheck(t, l, rule)
	if mustCheck(t, l, rule).Allowed {
		t.Fatal("expected 2nd request in window to be denied")
	}

	clk.Advance(time.Second)
	if res := mustCheck(t, l, rule); !res.Allowed {
		t.Fatalf("expected fresh window to allow, got %+v", res)
	}
}

func TestLimiter_BlockDuration(t *testing.T) {
	l, clk, _ := newLimiter(t)
	rule := ratelimit.Rule{Key: "login:bob", MaxRequests: 1, Window: time.Second, BlockDuration: 5 * time.Second}

	mustCheck(t, l, rule)
	res := mustCheck(t, l, rule)
	if res.Allowed || !res.Blocked {
		t.Fatalf("2nd request: %+v, want denied and blocked", res)
	}
	if !res.BlockedUntil.After(clk.Now()) {
		t.Fatalf("blockedUntil %v not in the future", res.BlockedUntil)
	}

	// The window has rolled over but the block still holds, and the
	// counter is untouched while blocked.
	clk.Advance(2 * time.Second)
	before, _ := l.State("login:bob")
	res = mustCheck(t, l, rule)
	if res.Allowed || !res.Blocked || res.Remaining != 0 {
		t.Fatalf("during block: %+v", res)
	}
	if after, _ := l.State("login:bob"); after.Count != before.Count {
		t.Fatalf("blocked request touched the counter: %d -> %d", before.Count, after.Count)
	}

	clk.Advance(3 * time.Second)
	if res := mustCheck(t, l, rule); !res.Allowed {
		t.Fatalf("after block: %+v", res)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _, _ := newLimiter(t)
	a := ratelimit.Rule{Key: "a", MaxRequests: 1, Window: time.Minute}
	b := ratelimit.Rule{Key: "b", MaxRequests: 1, Window: time.Minute}

	mustCheck(t, l, a)
	if mustCheck(t, l, a).Allowed {
		t.Fatal("expected a to be limited")
	}
	if !mustCheck(t, l, b).Allowed {
		t.Fatal("expected b to be unaffected by a")
	}
}

func TestLimiter_InvalidRule(t *testing.T) {
	l, _, _ := newLimiter(t)
	bad := []ratelimit.Rule{
		{Key: "", MaxRequests: 1, Window: time.Second},
		{Key: "k", MaxRequests: -1, Window: time.Second},
		{Key: "k", MaxRequests: 1, Window: 0},
		{Key: "k", MaxRequests: 1, Window: time.Second, BlockDuration: -time.Second},
	}
	for _, r := range bad {
		if _, err := l.Check(r); !errors.Is(err, ratelimit.ErrInvalidRule) {
			t.Fatalf("rule %+v: expected ErrInvalidRule, got %v", r, err)
		}
	}
	if l.Stats().Keys != 0 {
		t.Fatal("invalid rules must not create state")
	}
}

func TestLimiter_ZeroMaxDeniesAll(t *testing.T) {
	l, _, ch := newLimiter(t)
	rule := ratelimit.Rule{Key: "closed", MaxRequests: 0, Window: time.Second}

	for range 3 {
		res := mustCheck(t, l, rule)
		if res.Allowed || res.Remaining != 0 {
			t.Fatalf("expected denial with nothing remaining, got %+v", res)
		}
	}
	if got := l.Stats().Denied; got != 3 {
		t.Fatalf("expected 3 denials, got %d", got)
	}
	if n := len(ch.C()); n != 3 {
		t.Fatalf("expected 3 exceeded events, got %d", n)
	}
}

func TestLimiter_PruneDropsIdleKeys(t *testing.T) {
	l, clk, _ := newLimiter(t)
	mustCheck(t, l, ratelimit.Rule{Key: "idle", MaxRequests: 5, Window: time.Second})
	mustCheck(t, l, ratelimit.Rule{Key: "busy", MaxRequests: 5, Window: time.Hour})
	blocked := ratelimit.Rule{Key: "blocked", MaxRequests: 1, Window: time.Second, BlockDuration: time.Hour}
	mustCheck(t, l, blocked)
	mustCheck(t, l, blocked)

	clk.Advance(2 * time.Second)
	if n := l.Prune(); n != 1 {
		t.Fatalf("Prune = %d, want 1", n)
	}
	if _, ok := l.State("idle"); ok {
		t.Fatal("expected idle key to be pruned")
	}
	if _, ok := l.State("blocked"); !ok {
		t.Fatal("blocked key must survive pruning")
	}
}

func TestLimiter_Stats(t *testing.T) {
	l, _, _ := newLimiter(t)
	rule := ratelimit.Rule{Key: "k", MaxRequests: 1, Window: time.Minute}
	mustCheck(t, l, rule)
	mustCheck(t, l, rule)
	mustCheck(t, l, rule)

	s := l.Stats()
	if s.Allowed != 1 || s.Denied != 2 || s.Keys != 1 {
		t.Fatalf("stats %+v", s)
	}
}
