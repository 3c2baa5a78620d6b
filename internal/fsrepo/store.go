// Package fsrepo stores datasets as directory trees. Each hierarchy level is a
// directory named by the level's identifier; nodes whose frequency falls
// outside the hierarchy get a synthetic "__<freq>=<ids>__" directory under
// their deepest accounted ancestor. Fields live in a per-node
// "__fields__.json", file groups as plain files next to it.
package fsrepo

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/sirupsen/logrus"
)

// Type identifies the backend in provenance records and configuration.
const Type = "file_system"

// Store is a tree.Repository over a base directory holding one directory per
// dataset.
type Store struct {
	baseDir     string
	log         logrus.FieldLogger
	lockTimeout time.Duration

	// afterRead runs inside the field lock between read and write.
	afterRead func()
}

var _ tree.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger routes diagnostics to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithLockTimeout bounds how long PutField waits for the field lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New returns a Store rooted at baseDir.
func New(baseDir string, opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{baseDir: baseDir, log: discard}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) BaseDir() string { return s.baseDir }

func (s *Store) Provenance() *item.Provenance {
	return item.BackendProvenance(Type, map[string]any{"base_dir": s.baseDir})
}

// DatasetDir resolves the directory of ds: its ID joined to the base
// directory, or the ID itself when absolute.
func (s *Store) DatasetDir(ds *tree.Dataset) string {
	if filepath.IsAbs(ds.ID()) {
		return ds.ID()
	}
	return filepath.Join(s.baseDir, ds.ID())
}

// NodeDir returns the directory addressing n.
func (s *Store) NodeDir(n *tree.Node) (string, error) {
	ds := n.Dataset()
	dir := s.DatasetDir(ds)
	levels, _ := ds.Hierarchy().Accounted(n.Frequency())
	key := n.Key()
	for i := range levels {
		if key[i] == "" {
			return "", fmt.Errorf("node %s: empty identifier for %s", n, levels[i])
		}
		dir = filepath.Join(dir, escapePlain(key[i]))
	}
	if rem := n.Remainder(); rem != nil {
		for _, id := range rem.IDs {
			if id == "" {
				return "", fmt.Errorf("node %s: empty identifier for %s", n, rem.Frequency)
			}
		}
		dir = filepath.Join(dir, synthSegment(rem))
	}
	return dir, nil
}

// ItemsDir returns the directory holding the items of n. Leaf and synthetic
// nodes keep items in their own directory; every other node uses a reserved
// subdirectory so that items never collide with child nodes.
func (s *Store) ItemsDir(n *tree.Node) (string, error) {
	dir, err := s.NodeDir(n)
	if err != nil {
		return "", err
	}
	if n.Remainder() != nil {
		return dir, nil
	}
	levels, _ := n.Dataset().Hierarchy().Accounted(n.Frequency())
	if len(levels) == n.Dataset().Hierarchy().Depth() {
		return dir, nil
	}
	return filepath.Join(dir, nodeDirName), nil
}
