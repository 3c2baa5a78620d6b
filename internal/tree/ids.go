package tree

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/freq"
)

// IDs maps frequencies to identifiers. Basis dimensions and declared composite
// frequencies (e.g. subject) may both carry identifiers.
type IDs map[freq.Frequency]string

// Clone copies ids.
func (ids IDs) Clone() IDs {
	out := make(IDs, len(ids))
	for f, id := range ids {
		out[f] = id
	}
	return out
}

// Frequencies lists the keys ordered by bit value.
func (ids IDs) Frequencies() []freq.Frequency {
	out := make([]freq.Frequency, 0, len(ids))
	for f := range ids {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (ids IDs) String() string {
	parts := make([]string, 0, len(ids))
	for _, f := range ids.Frequencies() {
		parts = append(parts, f.String()+"="+ids[f])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Key is the normalized identifier tuple of a node: one identifier per
// hierarchy level contained in the node frequency, then the identifier(s) of the
// unaccounted remainder.
type Key []string

func (k Key) String() string {
	quoted := make([]string, len(k))
	for i, s := range k {
		quoted[i] = strconv.Quote(s)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// Remainder splits the key of a node into the part naming hierarchy levels and
// the part naming unaccounted dimensions.
type Remainder struct {
	Frequency freq.Frequency
	IDs       []string // one id for the whole remainder, or one per basis layer
}

// KeyOf derives the key of a node at f from ids under h.
func KeyOf(h freq.Hierarchy, f freq.Frequency, ids IDs) (Key, *Remainder, error) {
	if !h.Covers(f) || f.Space() != h.Space() {
		return nil, nil, &InvalidHierarchyError{Frequency: f, Hierarchy: h,
			Reason: "frequency is not addressable under the hierarchy leaf " + h.Leaf().String()}
	}
	levels, rem := h.Accounted(f)
	key := make(Key, 0, len(levels)+1)
	for _, l := range levels {
		id, ok := ids[l]
		if !ok {
			return nil, nil, &InvalidHierarchyError{Frequency: f, Hierarchy: h,
				Reason: "missing identifier for level " + l.String()}
		}
		key = append(key, id)
	}
	if rem.IsRoot() {
		return key, nil, nil
	}
	r := &Remainder{Frequency: rem}
	if id, ok := ids[rem]; ok {
		r.IDs = []string{id}
	} else {
		for _, l := range rem.Layers() {
			id, ok := ids[l]
			if !ok {
				return nil, nil, &InvalidHierarchyError{Frequency: f, Hierarchy: h,
					Reason: "missing identifier for " + rem.String() + " (or its basis " + l.String() + ")"}
			}
			r.IDs = append(r.IDs, id)
		}
	}
	return append(key, r.IDs...), r, nil
}

type nodeKey struct {
	bits uint64
	key  string
}

func makeNodeKey(f freq.Frequency, k Key) nodeKey {
	return nodeKey{bits: f.Bits(), key: strings.Join(escapeAll(k), "/")}
}

func escapeAll(k Key) []string {
	out := make([]string, len(k))
	for i, s := range k {
		out[i] = strings.NewReplacer(`\`, `\\`, "/", `\/`).Replace(s)
	}
	return out
}
