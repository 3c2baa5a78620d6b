package sqliterepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/repotest"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path, cache string) *Store {
	t.Helper()
	s, err := Open(path, WithCacheDir(cache))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (tree.Repository, func() tree.Repository) {
		dir := t.TempDir()
		path := filepath.Join(dir, "arbor.db")
		cache := filepath.Join(dir, "cache")
		return openStore(t, path, cache), func() tree.Repository { return openStore(t, path, cache) }
	})
}

func TestPopulate_EmptyDatabase(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "arbor.db"), t.TempDir())
	ds := tree.NewDataset("study", repotest.Hierarchy(), s)
	require.NoError(t, ds.Populate())
	assert.Equal(t, 1, ds.Len())
}

func TestDatasetsAreIsolated(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "arbor.db"), t.TempDir())
	a := tree.NewDataset("a", repotest.Hierarchy(), s)
	n, err := a.AddNode(freq.Session, repotest.SessionIDs("s01", "v1"))
	require.NoError(t, err)
	require.NoError(t, n.AddField("age", item.Int, false, nil).Put(30))

	b := tree.NewDataset("b", repotest.Hierarchy(), s)
	require.NoError(t, b.Populate())
	assert.Empty(t, b.Nodes(freq.Session))
}

func TestGetFileGroup_Materializes(t *testing.T) {
	cache := t.TempDir()
	s := openStore(t, filepath.Join(t.TempDir(), "arbor.db"), cache)
	ds := tree.NewDataset("study", repotest.Hierarchy(), s)
	n, err := ds.AddNode(freq.Session, repotest.SessionIDs("s/01", "v1"))
	require.NoError(t, err)

	src := repotest.WriteFile(t, t.TempDir(), "notes.txt", "hello")
	fg := n.AddFileGroup("notes", item.Text, nil)
	require.NoError(t, fg.Put(src, nil))
	require.NoError(t, os.Remove(src))

	p, aux, err := fg.Get()
	require.NoError(t, err)
	assert.Empty(t, aux)
	rel, err := filepath.Rel(cache, p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("study", "session", "s%2F01", "s%2F01_v1", "notes.txt"), rel)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestFileGroup_AdHocFormatSurvives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.db")
	s := openStore(t, path, dir)
	ds := tree.NewDataset("study", repotest.Hierarchy(), s)
	n, err := ds.AddNode(freq.Session, repotest.SessionIDs("s01", "v1"))
	require.NoError(t, err)

	staging := t.TempDir()
	png := repotest.WriteFile(t, staging, "img.png", "png")
	repotest.WriteFile(t, staging, "img.json", "{}")
	format, err := item.InferFormat([]string{"img.png", "img.json"}, nil)
	require.NoError(t, err)
	require.NoError(t, n.AddFileGroup("img", format, nil).Put(png, nil))

	back := tree.NewDataset("study", repotest.Hierarchy(), openStore(t, path, dir))
	require.NoError(t, back.Populate())
	n2, err := back.Node(freq.Session, repotest.SessionIDs("s01", "v1"))
	require.NoError(t, err)
	fg, err := n2.FileGroup("img")
	require.NoError(t, err)
	assert.Equal(t, format, fg.Format)
}
