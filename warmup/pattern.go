// Package warmup manages cache patterns, named templates of a key glob, a
// TTL and a tag set, and uses them to pre-populate a cache in batches.
package warmup

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrPatternNotFound is returned for an unknown pattern id.
	ErrPatternNotFound = errors.New("warmup: pattern not found")
	// ErrTaskNotFound is returned for an unknown warmup task id.
	ErrTaskNotFound = errors.New("warmup: task not found")
	// ErrInvalidPattern wraps pattern validation failures.
	ErrInvalidPattern = errors.New("warmup: invalid pattern")
	// ErrKeyMismatch fails a warmup whose entry key does not match the
	// pattern's key glob.
	ErrKeyMismatch = errors.New("warmup: key does not match pattern")
)

// PatternSpec is the user-supplied part of a Pattern.
type PatternSpec struct {
	Name string
	// KeyPattern is a glob where "*" matches any run of characters.
	KeyPattern string
	// TTL applied to warmed entries. Zero uses the cache default.
	TTL  time.Duration
	Tags []string
}

func (s PatternSpec) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPattern)
	case s.KeyPattern == "":
		return fmt.Errorf("%w: empty key pattern", ErrInvalidPattern)
	case s.TTL < 0:
		return fmt.Errorf("%w: negative ttl %s", ErrInvalidPattern, s.TTL)
	}
	return nil
}

// Pattern is a stored PatternSpec.
type Pattern struct {
	ID string
	PatternSpec
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Pattern) clone() Pattern {
	out := *p
	out.Tags = slices.Clone(p.Tags)
	return out
}
