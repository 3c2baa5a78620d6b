package tree

import (
	"errors"
	"testing"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo keeps field values in memory.
type memRepo struct {
	values map[string]any
	puts   int
}

func (r *memRepo) PopulateTree(*Dataset) error { return nil }
func (r *memRepo) GetFileGroup(fg *FileGroup) (string, map[string]string, error) {
	return "", nil, &MissingDataError{Item: fg.String(), Reason: "not stored"}
}
func (r *memRepo) PutFileGroup(*FileGroup) error { return nil }
func (r *memRepo) GetFieldValue(f *Field) (any, error) {
	v, ok := r.values[f.String()]
	if !ok {
		return nil, &MissingDataError{Item: f.String(), Reason: "no value"}
	}
	return f.Coerce(v)
}
func (r *memRepo) PutField(f *Field) error {
	r.puts++
	r.values[f.String()] = f.Value
	return nil
}
func (r *memRepo) GetProvenance(Item) (*item.Provenance, error) { return nil, nil }
func (r *memRepo) Provenance() *item.Provenance                 { return item.BackendProvenance("memory", nil) }

func newDataset(t *testing.T, levels ...freq.Frequency) (*Dataset, *memRepo) {
	t.Helper()
	h, err := freq.NewHierarchy(levels...)
	require.NoError(t, err)
	repo := &memRepo{values: map[string]any{}}
	return NewDataset("study", h, repo), repo
}

func sessionIDs(subj, visit string) IDs {
	return IDs{freq.Subject: subj, freq.Session: subj + "_" + visit, freq.Timepoint: visit}
}

func TestAddNode_CreatesAncestors(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)

	n, err := ds.AddNode(freq.Session, sessionIDs("s01", "v1"))
	require.NoError(t, err)
	assert.Equal(t, Key{"s01", "s01_v1"}, n.Key())
	assert.Nil(t, n.Remainder())

	subj, err := ds.Node(freq.Subject, IDs{freq.Subject: "s01"})
	require.NoError(t, err)
	assert.Same(t, subj, n.Parent())
	assert.Same(t, ds.Root(), subj.Parent())
	assert.Equal(t, []*Node{n}, subj.Children())
	assert.Equal(t, 3, ds.Len())
}

func TestAddNode_ReturnsExisting(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)
	a, err := ds.AddNode(freq.Session, sessionIDs("s01", "v1"))
	require.NoError(t, err)
	b, err := ds.AddNode(freq.Session, sessionIDs("s01", "v1"))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 3, ds.Len())
}

func TestAddNode_ExtraIDsAreNotKey(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)
	ids := sessionIDs("s01", "v1")
	ids[freq.Group] = "control"
	n, err := ds.AddNode(freq.Session, ids)
	require.NoError(t, err)

	same, err := ds.Node(freq.Session, sessionIDs("s01", "v1"))
	require.NoError(t, err)
	assert.Same(t, n, same)
	id, ok := n.ID(freq.Group)
	require.True(t, ok)
	assert.Equal(t, "control", id)

	// The subject ancestor inherits the group id since group is within subject.
	subj := n.Parent()
	id, ok = subj.ID(freq.Group)
	require.True(t, ok)
	assert.Equal(t, "control", id)
}

func TestAddNode_Unaccounted(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)

	g, err := ds.AddNode(freq.Group, IDs{freq.Group: "patient"})
	require.NoError(t, err)
	require.NotNil(t, g.Remainder())
	assert.Equal(t, freq.Group, g.Remainder().Frequency)
	assert.Same(t, ds.Root(), g.Parent())

	tp, err := ds.AddNode(freq.GroupTimepoint, IDs{freq.Group: "patient", freq.Timepoint: "v1"})
	require.NoError(t, err)
	assert.Equal(t, Key{"v1", "patient"}, tp.Key(), "basis layers in ascending bit order")
}

func TestAddNode_InvalidHierarchy(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject)

	_, err := ds.AddNode(freq.Session, sessionIDs("s01", "v1"))
	var hErr *InvalidHierarchyError
	require.ErrorAs(t, err, &hErr)
	assert.Equal(t, freq.Session, hErr.Frequency)

	_, err = ds.AddNode(freq.Subject, IDs{freq.Group: "g"})
	require.ErrorAs(t, err, &hErr, "missing subject id")

	lab := freq.MustSpace("lab", freq.Member{Name: "site", Bits: 1})
	_, err = ds.AddNode(lab.MustParse("site"), IDs{})
	require.ErrorAs(t, err, &hErr, "foreign space")
}

func TestNode_NotFound(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)
	_, err := ds.Node(freq.Subject, IDs{freq.Subject: "s99"})
	var nf *NodeNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, Key{"s99"}, nf.Key)
	assert.Equal(t, 1, ds.Len(), "lookup never creates")

	root, err := ds.NodeByKey(freq.Dataset, nil)
	require.NoError(t, err)
	assert.Same(t, ds.Root(), root)
}

func TestNodesAndMatch(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)
	for _, s := range []string{"s01", "s02"} {
		for _, v := range []string{"v1", "v2"} {
			_, err := ds.AddNode(freq.Session, sessionIDs(s, v))
			require.NoError(t, err)
		}
	}

	sessions := ds.Nodes(freq.Session)
	require.Len(t, sessions, 4)
	assert.Equal(t, Key{"s01", "s01_v1"}, sessions[0].Key(), "insertion order")
	assert.Len(t, ds.Nodes(freq.Subject), 2)
	assert.Empty(t, ds.Nodes(freq.Group))

	v2 := ds.Match(freq.Session, IDs{freq.Timepoint: "v2"})
	require.Len(t, v2, 2)
	for _, n := range v2 {
		id, _ := n.ID(freq.Timepoint)
		assert.Equal(t, "v2", id)
	}
	one := ds.Match(freq.Session, IDs{freq.Timepoint: "v2", freq.Subject: "s02"})
	require.Len(t, one, 1)
	assert.Equal(t, Key{"s02", "s02_v2"}, one[0].Key())
	assert.Empty(t, ds.Match(freq.Session, IDs{freq.Timepoint: "v9"}))
}

func TestNode_IDFromLayers(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject, freq.Session)
	n, err := ds.AddNode(freq.Subject, IDs{freq.Group: "g", freq.MemberDim: "m", freq.Subject: "s"})
	require.NoError(t, err)
	id, ok := n.ID(freq.Subject)
	require.True(t, ok)
	assert.Equal(t, "s", id)

	g, err := ds.AddNode(freq.GroupTimepoint, IDs{freq.Group: "g", freq.Timepoint: "t"})
	require.NoError(t, err)
	id, ok = g.ID(freq.GroupTimepoint)
	require.True(t, ok)
	assert.Equal(t, "t_g", id)
}

func TestItems_UpsertAndRoute(t *testing.T) {
	ds, repo := newDataset(t, freq.Subject)
	n, err := ds.AddNode(freq.Subject, IDs{freq.Subject: "s01"})
	require.NoError(t, err)

	f := n.AddField("age", item.Int, false, nil)
	prov := item.NewProvenance(map[string]any{"source": "manual"})
	assert.Same(t, f, n.AddField("age", item.Int, false, prov))
	assert.True(t, prov.Equal(f.Provenance))

	require.NoError(t, f.Put(34.0))
	assert.Equal(t, int64(34), f.Value)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)
	assert.Equal(t, 1, repo.puts)

	require.Error(t, f.Put("not a number"))
	assert.Equal(t, 1, repo.puts)

	fg := n.AddFileGroup("/anat/T1w/", item.NiftiGzX, nil)
	assert.Equal(t, "anat/T1w", fg.Path)
	got, err := n.FileGroup("anat/T1w")
	require.NoError(t, err)
	assert.Same(t, fg, got)

	_, _, err = fg.Get()
	var md *MissingDataError
	assert.ErrorAs(t, err, &md)

	_, err = n.Field("weight")
	assert.True(t, errors.Is(err, ErrNoItem))
	assert.Len(t, n.Fields(), 1)
	assert.Len(t, n.FileGroups(), 1)
}

func TestFileGroup_PutRequiresSideCars(t *testing.T) {
	ds, _ := newDataset(t, freq.Subject)
	n, err := ds.AddNode(freq.Subject, IDs{freq.Subject: "s01"})
	require.NoError(t, err)
	fg := n.AddFileGroup("scan", item.NiftiGzX, nil)

	require.Error(t, fg.Put("/tmp/scan.nii.gz", map[string]string{}))
	require.NoError(t, fg.Put("/tmp/scan.nii.gz", nil))
	assert.Equal(t, map[string]string{"json": "/tmp/scan.json"}, fg.LocalSideCars)
}
