package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/retry"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "rawrcache:events"

// RedisPublisher forwards events as JSON to a Redis pub/sub channel so that
// out-of-process collaborators (analytics, audit logging) can observe the
// cache. Publishing is asynchronous and fail soft: OnEvent never blocks the
// caller, and an unreachable Redis only costs dropped events.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	retry   retry.Config
	breaker *breaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
	warn    rate.Sometimes

	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// RedisConfig configures a RedisPublisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Channel defaults to DefaultRedisChannel.
	Channel string
	// QueueSize bounds the number of events waiting to be published.
	QueueSize int
	// Timeout bounds each publish attempt.
	Timeout time.Duration
	// Retry controls re-publishing after a failed attempt.
	Retry retry.Config
	// Breaker stops publish attempts after repeated failures so that a
	// Redis outage does not stall the queue on timeouts.
	Breaker breaker.Config
	Logger  *slog.Logger
}

// NewRedisPublisher creates a publisher and starts its worker goroutine.
// Call Close to flush pending events and release the connection.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisPublisher(rdb, cfg)
}

func newRedisPublisher(rdb *redis.Client, cfg RedisConfig) *RedisPublisher {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{
			MaxAttempts: 3,
			BaseDelay:   20 * time.Millisecond,
			MaxDelay:    200 * time.Millisecond,
			Jitter:      0.2,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker.OnStateChange == nil {
		logger, channel := cfg.Logger, cfg.Channel
		cfg.Breaker.OnStateChange = func(from, to breaker.State) {
			logger.Info("redis event publisher breaker changed state",
				"channel", channel, "from", from.String(), "to", to.String())
		}
	}

	p := &RedisPublisher{
		rdb:     rdb,
		channel: cfg.Channel,
		retry:   cfg.Retry,
		breaker: breaker.New(cfg.Breaker),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		warn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// OnEvent enqueues ev for publishing. Events are dropped when the queue is
// full or the publisher is closed.
func (p *RedisPublisher) OnEvent(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		p.warn.Do(func() {
			p.logger.Warn("redis event queue full, dropping events", "channel", p.channel)
		})
	}
}

// Publish sends ev synchronously, retrying according to the configured policy.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = retry.Do(ctx, p.retry, func(ctx context.Context) (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return struct{}{}, p.rdb.Publish(ctx, p.channel, body).Err()
	})
	return err
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		err := p.breaker.Do(func() error {
			return p.Publish(context.Background(), ev)
		})
		if err != nil {
			p.dropped.Add(1)
			if errors.Is(err, breaker.ErrOpen) {
				continue
			}
			p.warn.Do(func() {
				p.logger.Warn("publishing cache event to redis failed",
					"channel", p.channel, "type", string(ev.Type), "err", err)
			})
			continue
		}
		p.sent.Add(1)
	}
}

// Sent returns the number of events published successfully.
func (p *RedisPublisher) Sent() uint64 { return p.sent.Load() }

// Dropped returns the number of events that were never published.
func (p *RedisPublisher) Dropped() uint64 { return p.dropped.Load() }

// BreakerState reports whether publishing is currently suspended.
func (p *RedisPublisher) BreakerState() breaker.State { return p.breaker.State() }

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Subscribe opens a subscription on the publisher's channel. It is intended
// for consumers living in the same process, mostly tests and tooling.
func (p *RedisPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.rdb.Subscribe(ctx, p.channel)
}

// Close stops accepting events, waits for queued events to be attempted and
// closes the Redis client.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	if err := p.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
