// Package repotest holds behaviour every tree.Repository must share. Backend
// packages call Run from their own tests.
package repotest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty repository. Every call must return a repository
// backed by fresh storage; calls to Reopen within one test must see the same
// storage.
type Factory func(t *testing.T) (repo tree.Repository, reopen func() tree.Repository)

// DatasetID is the dataset name the suite uses.
const DatasetID = "study"

// Hierarchy is the layout the suite uses: subject directories holding session
// directories.
func Hierarchy() freq.Hierarchy {
	h, err := freq.NewHierarchy(freq.Subject, freq.Session)
	if err != nil {
		panic(err)
	}
	return h
}

// SessionIDs selects one session node.
func SessionIDs(subject, visit string) tree.IDs {
	return tree.IDs{freq.Subject: subject, freq.Session: subject + "_" + visit}
}

// Run exercises the repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("FieldRoundTrip", func(t *testing.T) { testFieldRoundTrip(t, newRepo) })
	t.Run("FieldOverwrite", func(t *testing.T) { testFieldOverwrite(t, newRepo) })
	t.Run("FieldMissing", func(t *testing.T) { testFieldMissing(t, newRepo) })
	t.Run("FieldArray", func(t *testing.T) { testFieldArray(t, newRepo) })
	t.Run("FieldProvenance", func(t *testing.T) { testFieldProvenance(t, newRepo) })
	t.Run("FieldProvenanceAdded", func(t *testing.T) { testFieldProvenanceAdded(t, newRepo) })
	t.Run("ConcurrentPutField", func(t *testing.T) { testConcurrentPutField(t, newRepo) })
	t.Run("FileGroupRoundTrip", func(t *testing.T) { testFileGroupRoundTrip(t, newRepo) })
	t.Run("FileGroupMissing", func(t *testing.T) { testFileGroupMissing(t, newRepo) })
	t.Run("DirectoryReplace", func(t *testing.T) { testDirectoryReplace(t, newRepo) })
	t.Run("UnaccountedNode", func(t *testing.T) { testUnaccountedNode(t, newRepo) })
	t.Run("PopulateIdempotent", func(t *testing.T) { testPopulateIdempotent(t, newRepo) })
	t.Run("BackendProvenance", func(t *testing.T) { testBackendProvenance(t, newRepo) })
}

func session(t *testing.T, ds *tree.Dataset, subject, visit string) *tree.Node {
	t.Helper()
	n, err := ds.AddNode(freq.Session, SessionIDs(subject, visit))
	require.NoError(t, err)
	return n
}

// repopulate builds a fresh dataset over the same storage.
func repopulate(t *testing.T, reopen func() tree.Repository) *tree.Dataset {
	t.Helper()
	ds := tree.NewDataset(DatasetID, Hierarchy(), reopen())
	require.NoError(t, ds.Populate())
	return ds
}

// WriteFile creates a file with content below dir.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func testFieldRoundTrip(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	n := session(t, ds, "s01", "v1")
	require.NoError(t, n.AddField("age", item.Int, false, nil).Put(34))

	back := repopulate(t, reopen)
	n2, err := back.Node(freq.Session, SessionIDs("s01", "v1"))
	require.NoError(t, err)
	f, err := n2.Field("age")
	require.NoError(t, err)
	assert.Equal(t, item.Int, f.DataType)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)
}

func testFieldOverwrite(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	f := session(t, ds, "s01", "v1").AddField("weight", item.Float, false, nil)
	require.NoError(t, f.Put(70.5))
	require.NoError(t, f.Put(71))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 71.0, v)
}

func testFieldMissing(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	n := session(t, ds, "s01", "v1")

	_, err := n.AddField("age", item.Int, false, nil).Get()
	var md *tree.MissingDataError
	require.ErrorAs(t, err, &md, "no record at all")

	require.NoError(t, n.AddField("age", item.Int, false, nil).Put(1))
	_, err = n.AddField("height", item.Float, false, nil).Get()
	require.ErrorAs(t, err, &md, "record without the name")
}

func testFieldArray(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	require.NoError(t, session(t, ds, "s01", "v1").AddField("tags", item.Str, true, nil).Put([]string{"a", "b"}))

	back := repopulate(t, reopen)
	n, err := back.Node(freq.Session, SessionIDs("s01", "v1"))
	require.NoError(t, err)
	f, err := n.Field("tags")
	require.NoError(t, err)
	assert.True(t, f.Array)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v)
}

func testFieldProvenance(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	prov := item.NewProvenance(map[string]any{"source": "manual", "version": 2})
	n := session(t, ds, "s01", "v1")
	require.NoError(t, n.AddField("group", item.Str, false, prov).Put("control"))
	require.NoError(t, n.AddField("plain", item.Str, false, nil).Put("x"))

	back := repopulate(t, reopen)
	n2, err := back.Node(freq.Session, SessionIDs("s01", "v1"))
	require.NoError(t, err)
	f, err := n2.Field("group")
	require.NoError(t, err)
	assert.True(t, prov.Equal(f.Provenance))

	got, err := back.Repository().GetProvenance(f)
	require.NoError(t, err)
	assert.True(t, prov.Equal(got))

	plain, err := n2.Field("plain")
	require.NoError(t, err)
	got, err = back.Repository().GetProvenance(plain)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// An entry written without provenance gains it when the same field is
// written again with one.
func testFieldProvenanceAdded(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	n := session(t, ds, "s01", "v1")

	f := n.AddField("age", item.Int, false, nil)
	require.NoError(t, f.Put(34))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)
	got, err := repo.GetProvenance(f)
	require.NoError(t, err)
	assert.Nil(t, got)

	prov := item.NewProvenance(map[string]any{"source": "manual"})
	f = n.AddField("age", item.Int, false, prov)
	require.NoError(t, f.Put(34))

	back := repopulate(t, reopen)
	n2, err := back.Node(freq.Session, SessionIDs("s01", "v1"))
	require.NoError(t, err)
	f2, err := n2.Field("age")
	require.NoError(t, err)
	v, err = f2.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)
	got, err = back.Repository().GetProvenance(f2)
	require.NoError(t, err)
	assert.True(t, prov.Equal(got))
	assert.True(t, prov.Equal(f2.Provenance))
}

func testConcurrentPutField(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	n := session(t, ds, "s01", "v1")

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		f := n.AddField(fmt.Sprintf("f%02d", i), item.Int, false, nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, f.Put(i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		f, err := n.Field(fmt.Sprintf("f%02d", i))
		require.NoError(t, err)
		v, err := f.Get()
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
}

func testFileGroupRoundTrip(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	staging := t.TempDir()
	primary := WriteFile(t, staging, "T1w.nii.gz", "voxels")
	WriteFile(t, staging, "T1w.json", `{"EchoTime": 0.003}`)
	prov := item.NewProvenance(map[string]any{"pipeline": "bet"})

	fg := session(t, ds, "s01", "v1").AddFileGroup("T1w", item.NiftiGzX, prov)
	require.NoError(t, fg.Put(primary, nil))

	back := repopulate(t, reopen)
	n, err := back.Node(freq.Session, SessionIDs("s01", "v1"))
	require.NoError(t, err)
	got, err := n.FileGroup("T1w")
	require.NoError(t, err)
	assert.Equal(t, item.NiftiGzX.Name, got.Format.Name)
	assert.True(t, prov.Equal(got.Provenance))

	p, aux, err := got.Get()
	require.NoError(t, err)
	assert.Equal(t, "voxels", readFile(t, p))
	require.Contains(t, aux, "json")
	assert.JSONEq(t, `{"EchoTime": 0.003}`, readFile(t, aux["json"]))

	stored, err := back.Repository().GetProvenance(got)
	require.NoError(t, err)
	assert.True(t, prov.Equal(stored))
}

func testFileGroupMissing(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	fg := session(t, ds, "s01", "v1").AddFileGroup("T2w", item.NiftiGz, nil)
	_, _, err := fg.Get()
	var md *tree.MissingDataError
	require.ErrorAs(t, err, &md)

	prov, err := repo.GetProvenance(fg)
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func testDirectoryReplace(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	fg := session(t, ds, "s01", "v1").AddFileGroup("dicom", item.Directory, nil)

	first := t.TempDir()
	WriteFile(t, first, "a.dcm", "a")
	WriteFile(t, first, "nested/b.dcm", "b")
	require.NoError(t, fg.Put(first, nil))

	second := t.TempDir()
	WriteFile(t, second, "c.dcm", "c")
	require.NoError(t, fg.Put(second, nil))

	p, _, err := fg.Get()
	require.NoError(t, err)
	entries, err := os.ReadDir(p)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c.dcm", entries[0].Name())
}

func testUnaccountedNode(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	g, err := ds.AddNode(freq.Group, tree.IDs{freq.Group: "patient_a"})
	require.NoError(t, err)
	require.NoError(t, g.AddField("n_subjects", item.Int, false, nil).Put(12))
	session(t, ds, "s01", "v1").AddField("age", item.Int, false, nil)
	require.NoError(t, ds.Root().AddField("title", item.Str, false, nil).Put("Study"))

	back := repopulate(t, reopen)
	g2, err := back.Node(freq.Group, tree.IDs{freq.Group: "patient_a"})
	require.NoError(t, err)
	f, err := g2.Field("n_subjects")
	require.NoError(t, err)
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	title, err := back.Root().Field("title")
	require.NoError(t, err)
	v, err = title.Get()
	require.NoError(t, err)
	assert.Equal(t, "Study", v)
}

func testPopulateIdempotent(t *testing.T, newRepo Factory) {
	repo, reopen := newRepo(t)
	ds := tree.NewDataset(DatasetID, Hierarchy(), repo)
	for _, s := range []string{"s01", "s02"} {
		for _, v := range []string{"v1", "v2"} {
			require.NoError(t, session(t, ds, s, v).AddField("visit", item.Str, false, nil).Put(v))
		}
	}

	back := repopulate(t, reopen)
	count := back.Len()
	assert.Len(t, back.Nodes(freq.Session), 4)
	assert.Len(t, back.Nodes(freq.Subject), 2)
	require.NoError(t, back.Populate())
	assert.Equal(t, count, back.Len())
	n, err := back.Node(freq.Session, SessionIDs("s02", "v2"))
	require.NoError(t, err)
	assert.Len(t, n.Fields(), 1)
}

func testBackendProvenance(t *testing.T, newRepo Factory) {
	repo, _ := newRepo(t)
	p := repo.Provenance()
	require.NotNil(t, p)
	typ, ok := p.Get("type")
	require.True(t, ok)
	assert.NotEmpty(t, typ)
	host, _ := p.Get("host")
	assert.Equal(t, item.Hostname, host)
}
