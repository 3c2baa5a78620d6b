// Package bidsrepo reads and writes datasets laid out as BIDS: a
// dataset_description.json, a participants.tsv and one sub-<label> directory
// per participant, optionally split into ses-<label> directories. Outputs of
// processing pipelines live under derivatives/<pipeline>/ mirroring the same
// node directories.
package bidsrepo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/sirupsen/logrus"
)

// Type identifies the backend in provenance records and configuration.
const Type = "bids"

const (
	subjectPrefix  = "sub-"
	sessionPrefix  = "ses-"
	derivativesDir = "derivatives"
)

var (
	// SingleSession is the hierarchy of datasets without ses- directories.
	SingleSession = freq.Hierarchy{freq.Session}
	// MultiSession is the hierarchy of datasets with ses- directories.
	MultiSession = freq.Hierarchy{freq.Subject, freq.Session}
)

// Store is a tree.Repository over BIDS datasets below a base directory.
type Store struct {
	baseDir     string
	log         logrus.FieldLogger
	lockTimeout time.Duration
}

var _ tree.Repository = (*Store)(nil)

type Option func(*Store)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithLockTimeout bounds how long derivative field writes wait for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func New(baseDir string, opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{baseDir: baseDir, log: discard}
	for _, o := range opts {
		o(s)
	}
	return s
}

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

// DetectHierarchy picks MultiSession when any participant directory below
// root holds a ses- directory.
func DetectHierarchy(root string) (freq.Hierarchy, error) {
	subs, err := filepath.Glob(filepath.Join(root, subjectPrefix+"*", sessionPrefix+"*"))
	if err != nil {
		return nil, err
	}
	for _, p := range subs {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return MultiSession, nil
		}
	}
	return SingleSession, nil
}

func multiSession(h freq.Hierarchy) (bool, error) {
	switch {
	case len(h) == 1 && h[0] == freq.Session:
		return false, nil
	case len(h) == 2 && h[0] == freq.Subject && h[1] == freq.Session:
		return true, nil
	}
	return false, &tree.InvalidHierarchyError{Hierarchy: h, Reason: "BIDS datasets use [session] or [subject, session]"}
}

// nodePath returns the directory of n relative to a dataset (or pipeline)
// root and the prefix BIDS puts in front of every file name in it.
func nodePath(n *tree.Node) (dir, prefix string, err error) {
	if _, err := multiSession(n.Dataset().Hierarchy()); err != nil {
		return "", "", err
	}
	if n.Remainder() != nil {
		return "", "", fmt.Errorf("node %s: frequency %s has no BIDS directory", n, n.Frequency())
	}
	key := n.Key()
	for _, id := range key {
		if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
			return "", "", fmt.Errorf("node %s: %q is not a valid BIDS label", n, id)
		}
	}
	return filepath.Join(key...), strings.Join(key, "_"), nil
}

func prefixed(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// FileGroupStem maps fg to its path inside the dataset without the format
// extension. "<modality>/<suffix>" lands in the node directory as
// "<modality>/<prefix>_<suffix>"; "derivatives/<pipeline>/..." lands in the
// pipeline's copy of the node directory, and the two-part form
// "derivatives/<pipeline>" addresses that whole directory.
func (s *Store) FileGroupStem(fg *tree.FileGroup) (string, error) {
	dir, prefix, err := nodePath(fg.Node())
	if err != nil {
		return "", err
	}
	parts := strings.Split(fg.Path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("file group %s: invalid path", fg)
		}
	}
	root := s.DatasetDir(fg.Node().Dataset())
	if parts[0] == derivativesDir {
		switch len(parts) {
		case 1:
			return "", fmt.Errorf("file group %s: derivative paths need a pipeline name", fg)
		case 2:
			if !fg.Format.Directory {
				return "", fmt.Errorf("file group %s: a whole pipeline output must be a directory format, not %s", fg, fg.Format)
			}
			return filepath.Join(root, derivativesDir, parts[1], dir), nil
		}
		root = filepath.Join(root, derivativesDir, parts[1])
		parts = parts[2:]
	}
	last := len(parts) - 1
	elems := append([]string{root, dir}, parts[:last]...)
	return filepath.Join(append(elems, prefixed(prefix, parts[last]))...), nil
}

// derivativeField splits "derivatives/<pipeline>/<name>".
func derivativeField(name string) (pipeline, field string, ok bool) {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 3 || parts[0] != derivativesDir || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
