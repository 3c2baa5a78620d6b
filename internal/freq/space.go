// Package freq implements the frequency algebra: bitmask values over a fixed set
// of basis dimensions, and the hierarchies that nest them into storage levels.
package freq

import (
	"fmt"
	"math/bits"
	"regexp"
	"sort"
	"strings"
)

var memberNameRE = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Member declares one named frequency of a Space.
type Member struct {
	Name string
	Bits uint64
}

// Space is a dimension-label table. Members with exactly one bit set are the
// basis dimensions; every bit used by any member must belong to a basis member.
type Space struct {
	name    string
	members []Member // sorted by Bits
	byName  map[string]uint64
	byBits  map[uint64]string
	mask    uint64
}

// NewSpace validates members and builds a Space.
func NewSpace(name string, members ...Member) (*Space, error) {
	s := &Space{
		name:   name,
		byName: make(map[string]uint64, len(members)),
		byBits: make(map[uint64]string, len(members)),
	}
	for _, m := range members {
		if !memberNameRE.MatchString(m.Name) {
			return nil, fmt.Errorf("space %s: invalid member name %q", name, m.Name)
		}
		if _, dup := s.byName[m.Name]; dup {
			return nil, fmt.Errorf("space %s: duplicate member %q", name, m.Name)
		}
		if other, dup := s.byBits[m.Bits]; dup {
			return nil, fmt.Errorf("space %s: members %q and %q share bits %b", name, other, m.Name, m.Bits)
		}
		s.byName[m.Name] = m.Bits
		s.byBits[m.Bits] = m.Name
		s.members = append(s.members, m)
		if bits.OnesCount64(m.Bits) == 1 {
			s.mask |= m.Bits
		}
	}
	for _, m := range s.members {
		if m.Bits&^s.mask != 0 {
			return nil, fmt.Errorf("space %s: member %q uses bits %b with no basis dimension",
				name, m.Name, m.Bits&^s.mask)
		}
	}
	if s.mask == 0 {
		return nil, fmt.Errorf("space %s: no basis dimensions", name)
	}
	sort.Slice(s.members, func(i, j int) bool { return s.members[i].Bits < s.members[j].Bits })
	return s, nil
}

// MustSpace is NewSpace for package-level tables.
func MustSpace(name string, members ...Member) *Space {
	s, err := NewSpace(name, members...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Space) Name() string { return s.name }

// Root is the all-zero frequency.
func (s *Space) Root() Frequency { return Frequency{space: s} }

// Default is the most specific frequency of the space.
func (s *Space) Default() Frequency { return Frequency{bits: s.mask, space: s} }

// Members returns the declared frequencies ordered by bit value.
func (s *Space) Members() []Frequency {
	out := make([]Frequency, len(s.members))
	for i, m := range s.members {
		out[i] = Frequency{bits: m.Bits, space: s}
	}
	return out
}

// Basis returns the basis dimensions ordered by bit value.
func (s *Space) Basis() []Frequency {
	return s.Default().Layers()
}

// FromBits returns the frequency for a bit pattern; any combination of basis
// bits is valid.
func (s *Space) FromBits(b uint64) (Frequency, error) {
	if b&^s.mask != 0 {
		return Frequency{}, fmt.Errorf("space %s: bits %b outside dimensions %b", s.name, b, s.mask)
	}
	return Frequency{bits: b, space: s}, nil
}

// Parse resolves a member name or a '+'-joined list of basis names.
func (s *Space) Parse(name string) (Frequency, error) {
	if b, ok := s.byName[name]; ok {
		return Frequency{bits: b, space: s}, nil
	}
	if !strings.Contains(name, "+") {
		return Frequency{}, fmt.Errorf("space %s: unknown frequency %q", s.name, name)
	}
	var b uint64
	for _, part := range strings.Split(name, "+") {
		pb, ok := s.byName[part]
		if !ok || bits.OnesCount64(pb) != 1 {
			return Frequency{}, fmt.Errorf("space %s: %q is not a basis dimension", s.name, part)
		}
		b |= pb
	}
	return Frequency{bits: b, space: s}, nil
}

// MustParse is Parse for constants.
func (s *Space) MustParse(name string) Frequency {
	f, err := s.Parse(name)
	if err != nil {
		panic(err)
	}
	return f
}

func (s *Space) nameOf(b uint64) (string, bool) {
	n, ok := s.byBits[b]
	return n, ok
}
