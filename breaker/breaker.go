// Package breaker provides a minimal, thread-safe circuit breaker used to
// stop calling a backend that keeps failing.
//
// States:
//   - Closed: calls flow normally; consecutive failures are counted.
//   - Open: calls are rejected; after OpenTimeout the breaker moves to HalfOpen.
//   - HalfOpen: a limited number of probe calls are let through; enough
//     successes close the breaker, any failure reopens it.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("breaker: open")

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config holds the circuit breaker parameters. Zero fields take defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// before the breaker trips to Open. Default 5.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays Open. Default 5s.
	OpenTimeout time.Duration
	// HalfOpenMaxSuccess is the number of consecutive probe successes that
	// close the breaker again. Default 1.
	HalfOpenMaxSuccess int
	// OnStateChange, when set, is called with the breaker lock held after
	// every transition. It must not call back into the breaker.
	OnStateChange func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 5 * time.Second
	}
	if c.HalfOpenMaxSuccess <= 0 {
		c.HalfOpenMaxSuccess = 1
	}
	return c
}

// Breaker is a minimal circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	openedAt  time.Time
	nowFunc   func() time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:     cfg.withDefaults(),
		state:   Closed,
		nowFunc: time.Now,
	}
}

// State returns the current state. An Open breaker whose timeout has elapsed
// reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// Allow reports whether a call may proceed: always when Closed, while probe
// slots remain when HalfOpen, never when Open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.HalfOpenMaxSuccess
	default:
		return false
	}
}

// Do runs fn when the breaker allows it and records the outcome. It returns
// ErrOpen without calling fn otherwise.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.setState(Closed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case HalfOpen:
		b.toOpen()
	}
}

// checkOpenTimeout moves Open to HalfOpen once the timeout has elapsed.
// Must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(HalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) toOpen() {
	b.setState(Open)
	b.openedAt = b.nowFunc()
	b.successes = 0
}

func (b *Breaker) setState(s State) {
	if s == b.state {
		return
	}
	from := b.state
	b.state = s
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, s)
	}
}
