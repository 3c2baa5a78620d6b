package freq

import (
	"fmt"
	"strings"
)

// Hierarchy is the ordered nesting of storage levels, outer to inner. Each level
// is a strict superset of the previous one; the root is implicit.
type Hierarchy []Frequency

// NewHierarchy validates levels. A leading root frequency is accepted and
// dropped so that [dataset, subject, session] and [subject, session] are the
// same hierarchy.
func NewHierarchy(levels ...Frequency) (Hierarchy, error) {
	if len(levels) > 0 && levels[0].Valid() && levels[0].IsRoot() {
		levels = levels[1:]
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("hierarchy needs at least one non-root level")
	}
	if !levels[0].Valid() {
		return nil, fmt.Errorf("hierarchy level 0: frequency has no space")
	}
	space := levels[0].Space()
	prev := space.Root()
	for i, l := range levels {
		if !l.Valid() || l.Space() != space {
			return nil, fmt.Errorf("hierarchy level %d: frequency not in space %s", i, space.Name())
		}
		if !prev.IsAncestorOf(l) {
			return nil, fmt.Errorf("hierarchy level %d (%s) must be a strict superset of %s", i, l, prev)
		}
		prev = l
	}
	return Hierarchy(append([]Frequency(nil), levels...)), nil
}

// ParseHierarchy resolves level names in space.
func ParseHierarchy(space *Space, names ...string) (Hierarchy, error) {
	levels := make([]Frequency, 0, len(names))
	for _, n := range names {
		f, err := space.Parse(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		levels = append(levels, f)
	}
	return NewHierarchy(levels...)
}

func (h Hierarchy) Space() *Space { return h[0].Space() }

// Leaf is the most specific level.
func (h Hierarchy) Leaf() Frequency { return h[len(h)-1] }

// Depth returns the number of levels.
func (h Hierarchy) Depth() int { return len(h) }

// Covers reports whether f can be addressed under this hierarchy: it belongs
// to the space and every bit of it is within the leaf.
func (h Hierarchy) Covers(f Frequency) bool {
	return f.Valid() && h.Leaf().Contains(f)
}

// Accounted splits f into the hierarchy levels it contains (always a prefix,
// since levels nest) and the bits those levels leave unaccounted.
func (h Hierarchy) Accounted(f Frequency) (levels []Frequency, remainder Frequency) {
	accounted := f.Space().Root()
	for _, l := range h {
		if !f.Contains(l) {
			break
		}
		levels = append(levels, l)
		accounted = l
	}
	return levels, f.AndNot(accounted)
}

// Level returns the level at depth d, where depth 0 is the root.
func (h Hierarchy) Level(d int) Frequency {
	if d == 0 {
		return h.Space().Root()
	}
	return h[d-1]
}

func (h Hierarchy) String() string {
	names := make([]string, len(h))
	for i, l := range h {
		names[i] = l.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}
