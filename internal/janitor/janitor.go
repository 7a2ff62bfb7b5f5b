// Package janitor runs a function on a fixed interval until stopped. A failing
// or panicking run is logged and the loop moves on to the next tick.
package janitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Janitor is a cancellable periodic task. All methods are safe for concurrent
// use; Start and Stop are idempotent.
type Janitor struct {
	name     string
	interval time.Duration
	fn       func() error
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a stopped Janitor that calls fn every interval once started.
func New(name string, interval time.Duration, fn func() error, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

// Start launches the background loop. A non-positive interval disables it.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stop != nil || j.interval <= 0 {
		return
	}
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	go j.loop(j.stop, j.done)
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	stop, done := j.stop, j.done
	j.stop, j.done = nil, nil
	j.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the loop is active.
func (j *Janitor) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stop != nil
}

func (j *Janitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := j.runOnce(); err != nil {
				j.logger.Error("janitor run failed", "janitor", j.name, "err", err)
			}
		}
	}
}

// runOnce calls fn, converting a panic into an error.
func (j *Janitor) runOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn()
}
