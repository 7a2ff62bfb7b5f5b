package events

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Listener receives lifecycle events. OnEvent is called synchronously on the
// goroutine that performed the operation, after internal locks are released;
// implementations must not block for long.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// OnEvent calls f(ev).
func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Nop discards every event.
var Nop Listener = ListenerFunc(func(Event) {})

type multi []Listener

func (m multi) OnEvent(ev Event) {
	for _, l := range m {
		l.OnEvent(ev)
	}
}

// Multi fans an event out to every non-nil listener in order.
func Multi(listeners ...Listener) Listener {
	out := make(multi, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return out
}

// Channel delivers events on a buffered channel. When the buffer is full the
// event is dropped and counted rather than blocking the cache.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewChannel creates a Channel listener with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Event, size)}
}

// OnEvent enqueues ev without blocking.
func (c *Channel) OnEvent(ev Event) {
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// C returns the receive side of the channel.
func (c *Channel) C() <-chan Event { return c.ch }

// Dropped returns the number of events discarded because the buffer was full.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Log writes every event to logger at the given level.
func Log(logger *slog.Logger, level slog.Level) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return ListenerFunc(func(ev Event) {
		logger.Log(context.Background(), level, "cache event",
			"type", string(ev.Type),
			"payload", ev.Payload,
		)
	})
}
