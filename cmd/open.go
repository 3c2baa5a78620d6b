package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/bidsrepo"
	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/fsrepo"
	"github.com/agentic-research/arbor/internal/sqliterepo"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/sirupsen/logrus"
)

// openDataset builds the repository named by c and populates the dataset.
// The returned close function releases backend resources.
func openDataset(c *api.Config, log logrus.FieldLogger) (*tree.Dataset, func() error, error) {
	noop := func() error { return nil }
	space, err := c.ResolveSpace()
	if err != nil {
		return nil, noop, err
	}
	h, err := c.ResolveHierarchy(space)
	if err != nil {
		return nil, noop, err
	}

	var repo tree.Repository
	closeFn := noop
	switch c.Backend {
	case api.BackendFileSystem:
		repo = fsrepo.New(c.BaseDir, fsrepo.WithLogger(log), fsrepo.WithLockTimeout(lockTimeout(c)))
	case api.BackendBIDS:
		s := bidsrepo.New(c.BaseDir, bidsrepo.WithLogger(log), bidsrepo.WithLockTimeout(lockTimeout(c)))
		if h == nil {
			root := c.Dataset
			if !filepath.IsAbs(root) {
				root = filepath.Join(c.BaseDir, root)
			}
			if h, err = bidsrepo.DetectHierarchy(root); err != nil {
				return nil, noop, err
			}
		}
		repo = s
	case api.BackendSQLite:
		opts := []sqliterepo.Option{sqliterepo.WithLogger(log)}
		if c.CacheDir != "" {
			opts = append(opts, sqliterepo.WithCacheDir(c.CacheDir))
		}
		s, err := sqliterepo.Open(c.DatabasePath(), opts...)
		if err != nil {
			return nil, noop, err
		}
		repo, closeFn = s, s.Close
	default:
		return nil, noop, fmt.Errorf("unknown backend %q", c.Backend)
	}

	ds := tree.NewDataset(c.Dataset, h, repo)
	if err := ds.Populate(); err != nil {
		_ = closeFn()
		return nil, noop, err
	}
	log.WithField("nodes", ds.Len()).Debug("dataset populated")
	return ds, closeFn, nil
}

// parseIDs reads repeated name=value flags into identifiers.
func parseIDs(space *freq.Space, pairs []string) (tree.IDs, error) {
	ids := tree.IDs{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("--id %q: expected <frequency>=<id>", p)
		}
		f, err := space.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("--id %q: %w", p, err)
		}
		ids[f] = value
	}
	return ids, nil
}

// lookupNode resolves the node of frequency name selected by ids. With
// create set, a node that was never stored is added.
func lookupNode(ds *tree.Dataset, name string, pairs []string, create bool) (*tree.Node, error) {
	f, err := ds.Space().Parse(name)
	if err != nil {
		return nil, err
	}
	ids, err := parseIDs(ds.Space(), pairs)
	if err != nil {
		return nil, err
	}
	if create {
		return ds.AddNode(f, ids)
	}
	return ds.Node(f, ids)
}
