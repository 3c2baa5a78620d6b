package fsrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentic-research/arbor/internal/fieldfile"
	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
)

// PopulateTree walks the dataset directory and registers every node and item
// it finds. Re-running it updates items already registered.
func (s *Store) PopulateTree(ds *tree.Dataset) error {
	root := s.DatasetDir(ds)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", ds.ID(), err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dataset %s: %s is not a directory", ds.ID(), root)
	}
	s.log.WithField("dataset", ds.ID()).Debugf("populating from %s", root)
	return s.walkLevel(ds, ds.Root(), root, 0, tree.IDs{})
}

// walkLevel scans the directory of a node at hierarchy depth (0 = root).
func (s *Store) walkLevel(ds *tree.Dataset, n *tree.Node, dir string, depth int, ids tree.IDs) error {
	h := ds.Hierarchy()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if depth == h.Depth() {
		return s.addItems(n, dir, entries)
	}

	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(dir, name)
		switch {
		case strings.HasPrefix(name, "."):
			continue
		case !e.IsDir():
			// Items of non-leaf nodes live in __node__.
			s.log.WithField("path", p).Warn("skipping file outside an items directory")
		case name == nodeDirName:
			if err := s.addItemsDir(n, p); err != nil {
				return err
			}
		case isSynthSegment(name):
			if err := s.addSynthNode(ds, p, depth, ids); err != nil {
				return err
			}
		case strings.HasPrefix(name, "_"):
			s.log.WithField("path", p).Warn("skipping unrecognised reserved directory")
		default:
			id, err := unescape(name)
			if err != nil || id == "" {
				return &tree.AmbiguousPathError{Path: p, Reason: "bad identifier escape"}
			}
			level := h.Level(depth + 1)
			childIDs := ids.Clone()
			childIDs[level] = id
			child, err := ds.AddNode(level, childIDs)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			if err := s.walkLevel(ds, child, p, depth+1, childIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

// addSynthNode registers the node named by a synthetic segment below the
// node at depth.
func (s *Store) addSynthNode(ds *tree.Dataset, p string, depth int, ids tree.IDs) error {
	f, remIDs, err := resolveSynth(ds, p, depth)
	if err != nil {
		return err
	}
	all := ids.Clone()
	for k, v := range remIDs {
		all[k] = v
	}
	n, err := ds.AddNode(f, all)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return s.addItemsDir(n, p)
}

// resolveSynth decodes the synthetic segment ending p, found below a node at
// depth. The node frequency must extend the accounted level exactly by the
// decoded remainder.
func resolveSynth(ds *tree.Dataset, p string, depth int) (freq.Frequency, tree.IDs, error) {
	h := ds.Hierarchy()
	rem, ids, err := parseSynthSegment(ds.Space(), filepath.Base(p))
	if err != nil {
		var ap *tree.AmbiguousPathError
		if errors.As(err, &ap) {
			ap.Path = p
		}
		return freq.Frequency{}, nil, err
	}
	accounted := h.Level(depth)
	if accounted.Bits()&rem.Bits() != 0 {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: p, Reason: fmt.Sprintf("%s overlaps accounted %s", rem, accounted)}
	}
	f := accounted.Or(rem)
	if !h.Covers(f) {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: p, Reason: fmt.Sprintf("%s is outside hierarchy %s", f, h)}
	}
	if levels, r := h.Accounted(f); len(levels) != depth || r != rem {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: p, Reason: fmt.Sprintf("%s should be a plain hierarchy level", f)}
	}
	return f, ids, nil
}

func (s *Store) addItemsDir(n *tree.Node, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	return s.addItems(n, dir, entries)
}

// addItems registers fields from the metadata file in dir and groups the
// remaining entries into file groups by stem.
func (s *Store) addItems(n *tree.Node, dir string, entries []os.DirEntry) error {
	groups := map[string][]string{}
	isDir := map[string]bool{}
	hasFields := false
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "."):
			continue
		case name == fieldfile.Name:
			hasFields = !e.IsDir()
			continue
		case !e.IsDir() && (strings.HasSuffix(name, lockSuffix) || strings.HasSuffix(name, ProvSuffix)):
			continue
		}
		stem := item.StemOf(name)
		groups[stem] = append(groups[stem], name)
		isDir[name] = e.IsDir()
	}

	stems := make([]string, 0, len(groups))
	for stem := range groups {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	for _, stem := range stems {
		format, err := item.InferFormat(groups[stem], isDir)
		if err != nil {
			s.log.WithField("dir", dir).Warnf("skipping %q: %v", stem, err)
			continue
		}
		prov, err := ReadProvenance(filepath.Join(dir, stem+ProvSuffix))
		if err != nil {
			return err
		}
		n.AddFileGroup(stem, format, prov)
	}

	if !hasFields {
		return nil
	}
	rec, err := fieldfile.Read(filepath.Join(dir, fieldfile.Name))
	if err != nil {
		return err
	}
	for _, name := range rec.Names() {
		e := rec[name]
		dt, array := item.InferDataType(e.Value)
		n.AddField(name, dt, array, e.Provenance)
	}
	return nil
}

// NodeForPath decodes a directory below the dataset root back into the node
// it addresses. It is the inverse of NodeDir.
func (s *Store) NodeForPath(ds *tree.Dataset, dir string) (freq.Frequency, tree.IDs, error) {
	rel, err := filepath.Rel(s.DatasetDir(ds), dir)
	if err != nil {
		return freq.Frequency{}, nil, err
	}
	h := ds.Hierarchy()
	f := ds.Space().Root()
	ids := tree.IDs{}
	if rel == "." {
		return f, ids, nil
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		if isSynthSegment(part) {
			if i != len(parts)-1 {
				return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: dir, Reason: "synthetic segment must be last"}
			}
			full, remIDs, err := resolveSynth(ds, dir, i)
			if err != nil {
				return freq.Frequency{}, nil, err
			}
			for k, v := range remIDs {
				ids[k] = v
			}
			return full, ids, nil
		}
		if i >= h.Depth() {
			return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: dir, Reason: "deeper than the hierarchy"}
		}
		id, err := unescape(part)
		if err != nil || id == "" {
			return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: dir, Reason: "bad identifier escape"}
		}
		f = h[i]
		ids[f] = id
	}
	return f, ids, nil
}
