package glob

import (
	"fmt"
	"testing"
)

func TestExpr_QuotesMetaCharacters(t *testing.T) {
	if got, want := Expr("a.b*"), `^a\.b.*$`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMatch_Anchored(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"user:*", "user:1", true},
		{"user:*", "x:user:1", false},
		{"*:profile", "user:42:profile", true},
		{"*:profile", "user:42:profile:v2", false},
		{"user:*:profile", "user:7:profile", true},
		{"*", "", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"a.c", "abc", false},
		{"a+*", "a+b", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestMatcher_CompileIsReused(t *testing.T) {
	m, err := NewMatcher(16)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	t.Cleanup(m.Close)

	first := m.Compile("session:*")
	if !first.MatchString("session:abc") {
		t.Fatal("expected compiled pattern to match")
	}
	m.rc.Wait()

	if again := m.Compile("session:*"); again != first {
		t.Fatal("expected the cached regexp to be returned")
	}
}

func TestMatcher_RetainsUpToSize(t *testing.T) {
	const size = 64
	m, err := NewMatcher(size)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	t.Cleanup(m.Close)

	const n = 20
	for i := range n {
		m.Compile(fmt.Sprintf("tenant:%d:*", i))
		m.rc.Wait()
	}

	kept := 0
	for i := range n {
		if _, ok := m.rc.Get(fmt.Sprintf("tenant:%d:*", i)); ok {
			kept++
		}
	}
	if kept != n {
		t.Fatalf("retained %d/%d patterns", kept, n)
	}
}

func TestNilMatcher_StillMatches(t *testing.T) {
	var m *Matcher
	if !m.Match("k*", "key") {
		t.Fatal("expected nil matcher to fall back to direct compilation")
	}
}
