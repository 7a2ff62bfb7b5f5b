package policy

import (
	"strings"
	"time"
)

// RateLimitRule describes the fixed-window limit applied to a group.
type RateLimitRule struct {
	// MaxRequests is the number of requests allowed within Window.
	MaxRequests int
	// Window is the length of one counting window.
	Window time.Duration
	// BlockDuration, when positive, rejects all requests for that long once
	// the limit is exceeded.
	BlockDuration time.Duration
}

// Policy holds the configuration that applies to a matched group.
type Policy struct {
	RateLimit *RateLimitRule
	// PerCaller keys the limiter by group and caller identity instead of by
	// group alone.
	PerCaller bool
}

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindGlob                    // lowest priority
)

// rule is a single matching rule inside a group.
type rule struct {
	kind    matchKind
	pattern string
	// literal is the number of non-wildcard characters of a glob.
	literal int
}

// GroupBuilder constructs a named group with one or more matching rules and
// a policy.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Glob adds a rule where "*" in pattern matches any run of characters and
// the whole name must match.
func (g *GroupBuilder) Glob(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{
		kind:    kindGlob,
		pattern: pattern,
		literal: len(pattern) - strings.Count(pattern, "*"),
	})
	return g
}

// Policy attaches a Policy to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
