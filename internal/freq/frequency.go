package freq

import (
	"math/bits"
	"strings"
)

// Frequency is a composite addressing dimension: the OR of zero or more basis
// dimensions of its Space. The zero bit pattern is the dataset root.
//
// Frequencies are comparable with ==; values from different spaces never match.
type Frequency struct {
	bits  uint64
	space *Space
}

func (f Frequency) Bits() uint64  { return f.bits }
func (f Frequency) Space() *Space { return f.space }

// Valid reports whether f belongs to a space (the zero Frequency does not).
func (f Frequency) Valid() bool { return f.space != nil }

func (f Frequency) IsRoot() bool { return f.bits == 0 }

// IsBasis holds iff exactly one bit is set.
func (f Frequency) IsBasis() bool { return bits.OnesCount64(f.bits) == 1 }

// Or composes two frequencies of the same space.
func (f Frequency) Or(o Frequency) Frequency {
	return Frequency{bits: f.bits | o.bits, space: f.space}
}

// AndNot returns the dimensions of f that are not in o.
func (f Frequency) AndNot(o Frequency) Frequency {
	return Frequency{bits: f.bits &^ o.bits, space: f.space}
}

// Contains reports whether every dimension of o is also in f.
func (f Frequency) Contains(o Frequency) bool {
	return f.space == o.space && f.bits&o.bits == o.bits
}

// IsAncestorOf reports whether f sits above o in the tree: a strict subset.
func (f Frequency) IsAncestorOf(o Frequency) bool {
	return o.Contains(f) && f.bits != o.bits
}

// Less orders by bit pattern. It is a total order used only to pick the most
// specific frequency; ancestry must use Contains/IsAncestorOf.
func (f Frequency) Less(o Frequency) bool { return f.bits < o.bits }

// Layers decomposes f into its basis dimensions, ascending by bit value.
func (f Frequency) Layers() []Frequency {
	var out []Frequency
	for v := f.bits; v != 0; {
		low := v & -v
		out = append(out, Frequency{bits: low, space: f.space})
		v &^= low
	}
	return out
}

// NonzeroBasis returns the names of the basis dimensions of f, in Layers order.
func (f Frequency) NonzeroBasis() []string {
	layers := f.Layers()
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = l.String()
	}
	return out
}

// String is the member name, or the '+'-joined basis names for undeclared
// combinations.
func (f Frequency) String() string {
	if f.space == nil {
		return "<invalid>"
	}
	if n, ok := f.space.nameOf(f.bits); ok {
		return n
	}
	if f.bits == 0 {
		return "root"
	}
	return strings.Join(f.NonzeroBasis(), "+")
}
