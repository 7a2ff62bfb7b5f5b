package cache

import (
	"fmt"
	"time"
)

// Strategy selects the eviction victim when capacity is exceeded.
type Strategy string

const (
	// LRU evicts the entry with the oldest last access.
	LRU Strategy = "LRU"
	// LFU evicts the entry with the fewest successful reads.
	LFU Strategy = "LFU"
	// FIFO evicts the entry created first.
	FIFO Strategy = "FIFO"
	// TTL evicts the entry closest to expiry, even if it has not expired.
	TTL Strategy = "TTL"
)

// InvalidationStrategy is advisory: only Immediate is implemented.
type InvalidationStrategy string

const (
	Immediate InvalidationStrategy = "IMMEDIATE"
	Lazy      InvalidationStrategy = "LAZY"
	Scheduled InvalidationStrategy = "SCHEDULED"
)

// Config is the cache configuration record.
type Config struct {
	// DefaultTTL applies when SetOptions.TTL is zero.
	DefaultTTL time.Duration
	// MaxMemoryBytes bounds the summed size of all entries. Zero disables
	// the memory budget.
	MaxMemoryBytes int64
	// MaxEntries bounds the number of entries. Zero disables the limit.
	MaxEntries int
	Strategy   Strategy
	// InvalidationStrategy is accepted for compatibility and otherwise
	// ignored; invalidation is always immediate.
	InvalidationStrategy InvalidationStrategy
	// CompressionThresholdBytes is accepted but unused.
	CompressionThresholdBytes int64
	// EnableStats turns on hit/miss/latency accounting and the periodic
	// statistics refresh.
	EnableStats bool
	// SweepInterval is the period of the expiration sweeper. Zero selects
	// the default of one minute.
	SweepInterval time.Duration
	// StatsInterval is the period of the statistics refresh. Zero disables
	// it.
	StatsInterval time.Duration
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:                time.Hour,
		MaxMemoryBytes:            100 << 20,
		MaxEntries:                10_000,
		Strategy:                  LRU,
		InvalidationStrategy:      Immediate,
		CompressionThresholdBytes: 1024,
		EnableStats:               true,
		SweepInterval:             time.Minute,
		StatsInterval:             30 * time.Second,
	}
}

// withDefaults fills unset enum and interval fields.
func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = LRU
	}
	if c.InvalidationStrategy == "" {
		c.InvalidationStrategy = Immediate
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.DefaultTTL <= 0:
		return fmt.Errorf("%w: default ttl must be positive, got %s", ErrInvalidConfig, c.DefaultTTL)
	case c.MaxMemoryBytes < 0:
		return fmt.Errorf("%w: negative max memory %d", ErrInvalidConfig, c.MaxMemoryBytes)
	case c.MaxEntries < 0:
		return fmt.Errorf("%w: negative max entries %d", ErrInvalidConfig, c.MaxEntries)
	case c.CompressionThresholdBytes < 0:
		return fmt.Errorf("%w: negative compression threshold %d", ErrInvalidConfig, c.CompressionThresholdBytes)
	case c.SweepInterval < 0 || c.StatsInterval < 0:
		return fmt.Errorf("%w: negative interval", ErrInvalidConfig)
	}
	switch c.Strategy {
	case LRU, LFU, FIFO, TTL:
	default:
		return fmt.Errorf("%w: unknown eviction strategy %q", ErrInvalidConfig, c.Strategy)
	}
	switch c.InvalidationStrategy {
	case Immediate, Lazy, Scheduled:
	default:
		return fmt.Errorf("%w: unknown invalidation strategy %q", ErrInvalidConfig, c.InvalidationStrategy)
	}
	return nil
}
