package policy

import (
	"strings"

	"github.com/Keksclan/rawrcache/internal/glob"
)

// match reports whether r matches name and returns the length used for
// tie-breaking among same-kind rules.
func (r *rule) match(name string) (matched bool, length int) {
	switch r.kind {
	case kindExact:
		if name == r.pattern {
			return true, len(r.pattern)
		}
	case kindPrefix:
		if strings.HasPrefix(name, r.pattern) {
			return true, len(r.pattern)
		}
	case kindGlob:
		if glob.Match(r.pattern, name) {
			return true, r.literal
		}
	}
	return false, 0
}
