// Package policy maps names (gRPC full methods or rate-limit keys) to
// groups carrying a rate-limit policy.
package policy

// Resolver holds a set of groups and resolves a name to the best-matching
// group and its policy.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for name.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat glob matches.
//   - Among matches of the same kind the longer match wins; for globs the
//     number of literal characters counts.
//   - When two matches have equal kind and length the group that was
//     registered first wins.
//
// If no group matches, ok is false.
func (res *Resolver) Resolve(name string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, mLen := r.match(name)
			if !matched {
				continue
			}
			// A lower kind value means higher priority.
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}
