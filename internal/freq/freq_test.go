package freq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allClinical() []Frequency {
	var out []Frequency
	for b := uint64(0); b < 8; b++ {
		f, err := Clinical.FromBits(b)
		if err != nil {
			panic(err)
		}
		out = append(out, f)
	}
	return out
}

func TestLayers_ReconstructFrequency(t *testing.T) {
	for _, f := range allClinical() {
		var rebuilt uint64
		prev := uint64(0)
		for _, l := range f.Layers() {
			assert.True(t, l.IsBasis(), "%s layer %s", f, l)
			assert.Greater(t, l.Bits(), prev, "layers of %s must ascend", f)
			prev = l.Bits()
			rebuilt |= l.Bits()
		}
		assert.Equal(t, f.Bits(), rebuilt, "layers of %s", f)
	}
}

func TestLayers_Session(t *testing.T) {
	assert.Equal(t, []Frequency{Timepoint, MemberDim, Group}, Session.Layers())
	assert.Equal(t, []string{"timepoint", "member", "group"}, Session.NonzeroBasis())
	assert.Empty(t, Dataset.Layers())
}

func TestIsBasis(t *testing.T) {
	assert.True(t, Group.IsBasis())
	assert.True(t, MemberDim.IsBasis())
	assert.True(t, Timepoint.IsBasis())
	assert.False(t, Dataset.IsBasis())
	assert.False(t, Subject.IsBasis())
	assert.False(t, Session.IsBasis())
}

func TestAncestry_SubsetPairs(t *testing.T) {
	all := allClinical()
	for _, a := range all {
		for _, b := range all {
			subset := a.Bits()&b.Bits() == a.Bits()
			assert.Equal(t, subset, b.Contains(a), "%s contains %s", b, a)
			assert.Equal(t, subset && a != b, a.IsAncestorOf(b), "%s above %s", a, b)
			if subset && a != b {
				assert.False(t, b.IsAncestorOf(a), "reverse %s above %s", b, a)
			}
		}
	}
}

func TestAncestry_OrderIsNotAncestry(t *testing.T) {
	// timepoint < member by value, yet neither is an ancestor of the other
	assert.True(t, Timepoint.Less(MemberDim))
	assert.False(t, Timepoint.IsAncestorOf(MemberDim))
	assert.False(t, MemberDim.IsAncestorOf(Timepoint))
}

func TestOrAndNot(t *testing.T) {
	assert.Equal(t, Subject, Group.Or(MemberDim))
	assert.Equal(t, Session, Subject.Or(Timepoint))
	assert.Equal(t, Timepoint, Session.AndNot(Subject))
	assert.Equal(t, Dataset, Group.AndNot(Group))
}

func TestString(t *testing.T) {
	assert.Equal(t, "session", Session.String())
	space := MustSpace("lab",
		Member{Name: "site", Bits: 0b100},
		Member{Name: "rig", Bits: 0b010},
		Member{Name: "run", Bits: 0b001},
	)
	f, err := space.FromBits(0b101)
	require.NoError(t, err)
	assert.Equal(t, "run+site", f.String())
	assert.Equal(t, "root", space.Root().String())

	parsed, err := space.Parse("run+site")
	require.NoError(t, err)
	assert.Equal(t, f, parsed)
}

func TestSpace_Default(t *testing.T) {
	assert.Equal(t, Session, Clinical.Default())
	assert.Equal(t, Dataset, Clinical.Root())
	assert.Equal(t, []Frequency{Timepoint, MemberDim, Group}, Clinical.Basis())
}

func TestNewSpace_Validation(t *testing.T) {
	tests := []struct {
		name    string
		members []Member
	}{
		{"bad name", []Member{{Name: "Bad", Bits: 1}}},
		{"double underscore", []Member{{Name: "a__b", Bits: 1}}},
		{"duplicate name", []Member{{Name: "a", Bits: 1}, {Name: "a", Bits: 2}}},
		{"duplicate bits", []Member{{Name: "a", Bits: 1}, {Name: "b", Bits: 1}}},
		{"orphan bits", []Member{{Name: "a", Bits: 1}, {Name: "ab", Bits: 3}}},
		{"no basis", []Member{{Name: "root", Bits: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpace("x", tt.members...)
			assert.Error(t, err)
		})
	}
}

func TestSpace_FromBitsOutOfRange(t *testing.T) {
	_, err := Clinical.FromBits(0b1000)
	assert.Error(t, err)
}

func TestSpaces_AreDistinct(t *testing.T) {
	other := MustSpace("other", Member{Name: "group", Bits: 0b100}, Member{Name: "x", Bits: 0b011})
	assert.NotEqual(t, Group, other.MustParse("group"))
	assert.False(t, Session.Contains(other.MustParse("group")))
}

func TestHierarchy(t *testing.T) {
	h, err := NewHierarchy(Dataset, Subject, Session)
	require.NoError(t, err)
	assert.Equal(t, Hierarchy{Subject, Session}, h)
	assert.Equal(t, Session, h.Leaf())
	assert.Equal(t, Dataset, h.Level(0))
	assert.Equal(t, Subject, h.Level(1))

	_, err = NewHierarchy(Session, Subject)
	assert.Error(t, err, "levels must grow")
	_, err = NewHierarchy(Group, Timepoint.Or(Group), Timepoint.Or(Group))
	assert.Error(t, err, "levels must strictly grow")
	_, err = NewHierarchy(Dataset)
	assert.Error(t, err)
	_, err = NewHierarchy(Frequency{}, Session)
	assert.Error(t, err, "zero frequency has no space")
	_, err = NewHierarchy(Subject, Frequency{})
	assert.Error(t, err)
}

func TestHierarchy_Accounted(t *testing.T) {
	h, err := ParseHierarchy(Clinical, "subject", "session")
	require.NoError(t, err)

	levels, rem := h.Accounted(Session)
	assert.Equal(t, []Frequency{Subject, Session}, levels)
	assert.True(t, rem.IsRoot())

	levels, rem = h.Accounted(Group)
	assert.Empty(t, levels)
	assert.Equal(t, Group, rem)

	levels, rem = h.Accounted(SubjectTimepoint)
	assert.Empty(t, levels)
	assert.Equal(t, SubjectTimepoint, rem)

	h2, err := NewHierarchy(Group, Subject, Session)
	require.NoError(t, err)
	levels, rem = h2.Accounted(GroupTimepoint)
	assert.Equal(t, []Frequency{Group}, levels)
	assert.Equal(t, Timepoint, rem)
	assert.True(t, h2.Covers(GroupTimepoint))

	h3, err := NewHierarchy(Subject)
	require.NoError(t, err)
	assert.False(t, h3.Covers(Timepoint))
}
