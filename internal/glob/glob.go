// Package glob matches cache keys against single-wildcard patterns. The only
// special token is '*', which matches any (possibly empty) substring. Patterns
// are anchored: "user:*" matches "user:1" but not "x:user:1".
package glob

import (
	"regexp"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// Matcher compiles patterns into anchored regular expressions and memoizes
// the result in a ristretto cache.
type Matcher struct {
	rc *ristretto.Cache[string, *regexp.Regexp]
}

// NewMatcher creates a Matcher that keeps up to size compiled patterns.
func NewMatcher(size int64) (*Matcher, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Matcher{rc: rc}, nil
}

// Compile returns the anchored regexp for pattern.
func (m *Matcher) Compile(pattern string) *regexp.Regexp {
	if m == nil || m.rc == nil {
		return regexp.MustCompile(Expr(pattern))
	}
	if re, ok := m.rc.Get(pattern); ok {
		return re
	}
	re := regexp.MustCompile(Expr(pattern))
	m.rc.Set(pattern, re, 1)
	return re
}

// Match reports whether s matches pattern in full.
func (m *Matcher) Match(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	return m.Compile(pattern).MatchString(s)
}

// Close releases the compile cache. It must not overlap other calls on m;
// callers that share a Matcher across goroutines serialize Close with their
// own lock.
func (m *Matcher) Close() {
	if m != nil && m.rc != nil {
		m.rc.Close()
	}
}

// Expr translates pattern into an anchored regular expression. Every
// character other than '*' is matched literally.
func Expr(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return "^" + strings.Join(parts, ".*") + "$"
}

var defaultMatcher = sync.OnceValue(func() *Matcher {
	m, err := NewMatcher(1024)
	if err != nil {
		// An uncached matcher still compiles correctly.
		return nil
	}
	return m
})

// Match reports whether s matches pattern using the shared process-wide
// compile cache.
func Match(pattern, s string) bool {
	return defaultMatcher().Match(pattern, s)
}
