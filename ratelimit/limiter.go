// Package ratelimit provides a per-key fixed-window request limiter with
// optional block periods.
//
// Each key counts requests in discrete windows that reset wholesale when they
// elapse, so a burst straddling a window boundary can see up to twice the
// limit. A key that exceeds its limit with a BlockDuration is rejected
// outright until the block ends, regardless of window state.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/rawrcache/events"
	"golang.org/x/time/rate"
)

// ErrInvalidRule is returned by Check for a malformed Rule.
var ErrInvalidRule = errors.New("ratelimit: invalid rule")

// Rule describes the limit applied to one key.
type Rule struct {
	Key string
	// MaxRequests is the number of requests allowed per window. Zero denies
	// every request.
	MaxRequests int
	Window      time.Duration
	// BlockDuration, when positive, rejects every request for that long
	// after the limit is exceeded.
	BlockDuration time.Duration
}

func (r Rule) validate() error {
	switch {
	case r.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidRule)
	case r.MaxRequests < 0:
		return fmt.Errorf("%w: negative max requests %d", ErrInvalidRule, r.MaxRequests)
	case r.Window <= 0:
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidRule, r.Window)
	case r.BlockDuration < 0:
		return fmt.Errorf("%w: negative block duration %s", ErrInvalidRule, r.BlockDuration)
	}
	return nil
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	// Count is the number of requests seen in the current window.
	Count   int
	ResetAt time.Time
	// Blocked is set while a block period is active.
	Blocked      bool
	BlockedUntil time.Time
}

// State is the stored window state of a key.
type State struct {
	Count         int
	WindowResetAt time.Time
	BlockedUntil  time.Time
}

// Stats counts decisions since the limiter was created.
type Stats struct {
	Allowed uint64
	Denied  uint64
	Keys    int
}

// Limiter tracks fixed-window state per key. All methods are safe for
// concurrent use.
type Limiter struct {
	listener events.Listener
	logger   *slog.Logger
	nowFunc  func() time.Time
	warn     rate.Sometimes

	mu     sync.Mutex
	states map[string]*State

	allowed atomic.Uint64
	denied  atomic.Uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithListener sets the receiver of cache.ratelimit.exceeded events.
func WithListener(l events.Listener) Option {
	return func(lim *Limiter) { lim.listener = l }
}

// WithLogger sets the logger used for sampled limit warnings.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) { lim.nowFunc = now }
}

// NewLimiter creates an empty Limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		listener: events.Nop,
		logger:   slog.Default(),
		nowFunc:  time.Now,
		warn:     rate.Sometimes{First: 1, Interval: 10 * time.Second},
		states:   make(map[string]*State),
	}
	for _, o := range opts {
		o(l)
	}
	if l.listener == nil {
		l.listener = events.Nop
	}
	return l
}

// Check records one request against rule.Key and reports whether it may
// proceed. Exceeding the limit is a normal result, not an error; the error
// is reserved for malformed rules.
func (l *Limiter) Check(rule Rule) (Result, error) {
	if err := rule.validate(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	now := l.nowFunc()
	st, ok := l.states[rule.Key]
	if !ok {
		st = &State{}
		l.states[rule.Key] = st
	}

	var res Result
	switch {
	case now.Before(st.BlockedUntil):
		res = Result{
			Count:        st.Count,
			ResetAt:      st.WindowResetAt,
			Blocked:      true,
			BlockedUntil: st.BlockedUntil,
		}
	default:
		st.BlockedUntil = time.Time{}
		if !now.Before(st.WindowResetAt) {
			st.Count = 0
			st.WindowResetAt = now.Add(rule.Window)
		}
		st.Count++
		res = Result{
			Allowed:   st.Count <= rule.MaxRequests,
			Remaining: max(rule.MaxRequests-st.Count, 0),
			Count:     st.Count,
			ResetAt:   st.WindowResetAt,
		}
		if !res.Allowed && rule.BlockDuration > 0 {
			st.BlockedUntil = now.Add(rule.BlockDuration)
			res.Blocked = true
			res.BlockedUntil = st.BlockedUntil
		}
	}
	l.mu.Unlock()

	if res.Allowed {
		l.allowed.Add(1)
		return res, nil
	}

	l.denied.Add(1)
	l.listener.OnEvent(events.New(now, events.RateLimitExceededPayload{
		Key:          rule.Key,
		Count:        res.Count,
		MaxRequests:  rule.MaxRequests,
		BlockedUntil: res.BlockedUntil,
	}))
	l.warn.Do(func() {
		l.logger.Warn("rate limit exceeded",
			"key", rule.Key,
			"count", res.Count,
			"max_requests", rule.MaxRequests,
			"blocked", res.Blocked,
		)
	})
	return res, nil
}

// Reset discards all state for key so its next request starts a fresh
// window. It reports whether any state existed.
func (l *Limiter) Reset(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.states[key]
	delete(l.states, key)
	return ok
}

// State returns the stored state of key without counting a request.
func (l *Limiter) State(key string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Prune drops keys whose window has elapsed and that are not blocked. Such
// keys behave exactly like never-seen keys, so pruning is invisible to
// callers. It returns the number of keys dropped.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	n := 0
	for k, st := range l.states {
		if !now.Before(st.WindowResetAt) && !now.Before(st.BlockedUntil) {
			delete(l.states, k)
			n++
		}
	}
	return n
}

// Stats returns decision totals and the number of tracked keys.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	keys := len(l.states)
	l.mu.Unlock()

	return Stats{
		Allowed: l.allowed.Load(),
		Denied:  l.denied.Load(),
		Keys:    keys,
	}
}
