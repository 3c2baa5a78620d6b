package fsrepo

import (
	"fmt"
	"testing"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape_RoundTrip(t *testing.T) {
	ids := []string{
		"s01", "a/b", `back\slash`, "50%", ".hidden", "_lead", "mid_dle", "nul\x00byte", "__node__", "x.lock", "ünï",
	}
	for _, id := range ids {
		plain := escapePlain(id)
		assert.NotContains(t, plain, "/")
		assert.NotRegexp(t, `^[._]`, plain)
		back, err := unescape(plain)
		require.NoError(t, err)
		assert.Equal(t, id, back)

		synth := escapeSynthID(id)
		assert.NotContains(t, synth, "_")
		back, err = unescape(synth)
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestUnescape_Malformed(t *testing.T) {
	for _, s := range []string{"abc%", "abc%4", "abc%zz"} {
		_, err := unescape(s)
		assert.Error(t, err, s)
	}
}

func TestSynthSegment_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rem  *tree.Remainder
		want string
	}{
		{"basis", &tree.Remainder{Frequency: freq.Group, IDs: []string{"patient"}}, "__group=patient__"},
		{"underscore id", &tree.Remainder{Frequency: freq.Group, IDs: []string{"a_b"}}, "__group=a%5Fb__"},
		{"composite single id", &tree.Remainder{Frequency: freq.GroupTimepoint, IDs: []string{"gt1"}}, "__group_timepoint=gt1__"},
		{"composite per layer", &tree.Remainder{Frequency: freq.GroupTimepoint, IDs: []string{"v1", "ctl"}}, "__group_timepoint=v1_ctl__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := synthSegment(tt.rem)
			assert.Equal(t, tt.want, seg)
			assert.True(t, isSynthSegment(seg))

			f, ids, err := parseSynthSegment(freq.Clinical, seg)
			require.NoError(t, err)
			assert.Equal(t, tt.rem.Frequency, f)
			if len(tt.rem.IDs) == 1 {
				assert.Equal(t, tree.IDs{f: tt.rem.IDs[0]}, ids)
			} else {
				for i, l := range f.Layers() {
					assert.Equal(t, tt.rem.IDs[i], ids[l])
				}
			}
		})
	}
}

func TestSynthSegment_PlusJoinedName(t *testing.T) {
	lab := freq.MustSpace("lab",
		freq.Member{Name: "site", Bits: 0b01},
		freq.Member{Name: "scanner", Bits: 0b10},
	)
	rem := &tree.Remainder{Frequency: lab.MustParse("site+scanner"), IDs: []string{"a", "b"}}
	seg := synthSegment(rem)
	assert.Equal(t, "__site+scanner=a_b__", seg)
	f, ids, err := parseSynthSegment(lab, seg)
	require.NoError(t, err)
	assert.Equal(t, rem.Frequency, f)
	assert.Equal(t, "a", ids[lab.MustParse("site")])
	assert.Equal(t, "b", ids[lab.MustParse("scanner")])
}

// Identifiers equal to member names must not shift the frequency boundary:
// subject(timepoint, x) and subject_timepoint(x) share every character but
// the separator.
func TestSynthSegment_DistinctForEveryMember(t *testing.T) {
	seen := map[string]string{}
	check := func(rem *tree.Remainder) {
		t.Helper()
		seg := synthSegment(rem)
		desc := fmt.Sprintf("%s%v", rem.Frequency, rem.IDs)
		if prev, dup := seen[seg]; dup {
			t.Fatalf("%s and %s both encode as %s", prev, desc, seg)
		}
		seen[seg] = desc

		f, ids, err := parseSynthSegment(freq.Clinical, seg)
		require.NoError(t, err, seg)
		assert.Equal(t, rem.Frequency, f, seg)
		if len(rem.IDs) == 1 {
			assert.Equal(t, tree.IDs{f: rem.IDs[0]}, ids, seg)
			return
		}
		for i, l := range f.Layers() {
			assert.Equal(t, rem.IDs[i], ids[l], seg)
		}
	}

	var names []string
	for _, m := range freq.Clinical.Members() {
		if !m.IsRoot() {
			names = append(names, m.String())
		}
	}
	for _, m := range freq.Clinical.Members() {
		if m.IsRoot() {
			continue
		}
		layers := m.Layers()
		for _, name := range names {
			check(&tree.Remainder{Frequency: m, IDs: []string{name}})
			if len(layers) > 1 {
				ids := make([]string, len(layers))
				for i := range ids {
					ids[i] = name
				}
				ids[len(ids)-1] = "x"
				check(&tree.Remainder{Frequency: m, IDs: ids})
			}
		}
	}

	a := synthSegment(&tree.Remainder{Frequency: freq.Subject, IDs: []string{"timepoint", "x"}})
	b := synthSegment(&tree.Remainder{Frequency: freq.SubjectTimepoint, IDs: []string{"x"}})
	assert.NotEqual(t, a, b)
}

func TestSynthSegment_Malformed(t *testing.T) {
	for _, seg := range []string{
		"__group_patient__",
		"__nope=p__",
		"__group=p_q__",
		"__session=a_b__",
		"__group=__",
		"__group=a%ZZ__",
		"__dataset=x__",
	} {
		_, _, err := parseSynthSegment(freq.Clinical, seg)
		var ap *tree.AmbiguousPathError
		assert.ErrorAs(t, err, &ap, seg)
	}
}

func TestIsSynthSegment(t *testing.T) {
	assert.False(t, isSynthSegment("__node__"))
	assert.False(t, isSynthSegment("____"))
	assert.False(t, isSynthSegment("s01"))
	assert.False(t, isSynthSegment("%5F_x__"))
	assert.True(t, isSynthSegment("__group=a__"))
}
