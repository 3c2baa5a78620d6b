package bidsrepo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentic-research/arbor/internal/fieldfile"
	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/fsrepo"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
)

// PopulateTree registers one node per participant (and per session
// directory), the files of every modality directory and the outputs of every
// pipeline under derivatives/. A directory without dataset_description.json
// is an empty dataset.
func (s *Store) PopulateTree(ds *tree.Dataset) error {
	multi, err := multiSession(ds.Hierarchy())
	if err != nil {
		return err
	}
	root := s.DatasetDir(ds)
	log := s.log.WithField("dataset", ds.ID())
	if _, err := ReadDescription(root); err != nil {
		if errors.Is(err, ErrEmptyDataset) {
			log.Debug("no dataset description, treating as empty")
			return nil
		}
		return fmt.Errorf("dataset %s: %w", ds.ID(), err)
	}
	participants, err := ReadParticipants(root)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", ds.ID(), err)
	}
	subjects, err := listSubjects(root, participants)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", ds.ID(), err)
	}
	pipelines, err := listDirs(filepath.Join(root, derivativesDir), "")
	if err != nil {
		return fmt.Errorf("dataset %s: %w", ds.ID(), err)
	}

	columns := participantColumns(participants)
	for _, sub := range subjects {
		ids := tree.IDs{freq.Subject: sub}
		row := participants.Row(sub)
		if g := strings.TrimSpace(row[groupCol]); g != "" && g != "n/a" {
			ids[freq.Group] = g
		}

		var leaves []*tree.Node
		if multi {
			subj, err := ds.AddNode(freq.Subject, ids)
			if err != nil {
				return err
			}
			addColumns(subj, columns, row)
			sessions, err := listDirs(filepath.Join(root, sub), sessionPrefix)
			if err != nil {
				return err
			}
			for _, ses := range sessions {
				sesIDs := ids.Clone()
				sesIDs[freq.Session] = ses
				sesIDs[freq.Timepoint] = ses
				n, err := ds.AddNode(freq.Session, sesIDs)
				if err != nil {
					return err
				}
				leaves = append(leaves, n)
			}
		} else {
			sesIDs := ids.Clone()
			sesIDs[freq.Session] = sub
			n, err := ds.AddNode(freq.Session, sesIDs)
			if err != nil {
				return err
			}
			leaves = append(leaves, n)
		}

		for _, n := range leaves {
			addColumns(n, columns, row)
			if err := s.addNodeItems(n, root, pipelines); err != nil {
				return err
			}
		}
	}
	return nil
}

// listSubjects returns the participants in participants.tsv order followed by
// any other sub- directories.
func listSubjects(root string, p *Participants) ([]string, error) {
	dirs, err := listDirs(root, subjectPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, id := range p.Order {
		if !strings.HasPrefix(id, subjectPrefix) {
			id = subjectPrefix + id
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// listDirs returns the sorted names of the non-hidden directories in dir that
// start with prefix. A missing dir has none.
func listDirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

type column struct {
	name string
	dt   item.DataType
}

func participantColumns(p *Participants) []column {
	cols := make([]column, 0, len(p.Columns))
	for _, c := range p.Columns {
		values := make([]string, 0, len(p.Rows))
		for _, row := range p.Rows {
			values = append(values, row[c])
		}
		cols = append(cols, column{name: c, dt: columnType(values)})
	}
	return cols
}

func addColumns(n *tree.Node, cols []column, row map[string]string) {
	if row == nil {
		return
	}
	for _, c := range cols {
		n.AddField(c.name, c.dt, false, nil)
	}
}

// addNodeItems registers the modality files of n and its outputs in every
// pipeline.
func (s *Store) addNodeItems(n *tree.Node, root string, pipelines []string) error {
	dir, prefix, err := nodePath(n)
	if err != nil {
		return err
	}
	nodeDir := filepath.Join(root, dir)
	modalities, err := listDirs(nodeDir, "")
	if err != nil {
		return err
	}
	for _, m := range modalities {
		if err := s.addGroups(n, filepath.Join(nodeDir, m), prefix, m+"/", false); err != nil {
			return err
		}
	}
	if err := s.addGroups(n, nodeDir, prefix, "", true); err != nil {
		return err
	}

	for _, p := range pipelines {
		pdir := filepath.Join(root, derivativesDir, p, dir)
		info, err := os.Stat(pdir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			continue
		}
		base := derivativesDir + "/" + p + "/"
		if err := s.addGroups(n, pdir, prefix, base, true); err != nil {
			return err
		}
		subdirs, err := listDirs(pdir, "")
		if err != nil {
			return err
		}
		for _, sd := range subdirs {
			if strings.HasPrefix(sd, prefix+"_") {
				continue
			}
			if err := s.addGroups(n, filepath.Join(pdir, sd), prefix, base+sd+"/", false); err != nil {
				return err
			}
		}
		if err := addDerivativeFields(n, filepath.Join(pdir, fieldfile.Name), base); err != nil {
			return err
		}
	}
	return nil
}

// addGroups registers the entries of dir whose names carry the node prefix
// as file groups named logical+<suffix>. In a top-level node directory the
// unprefixed subdirectories are expected and skipped quietly.
func (s *Store) addGroups(n *tree.Node, dir, prefix, logical string, topLevel bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	groups := map[string][]string{}
	isDir := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "."), name == fieldfile.Name:
			continue
		case !e.IsDir() && (strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, fsrepo.ProvSuffix)):
			continue
		}
		stem := item.StemOf(name)
		suffix, ok := stripPrefix(stem, prefix)
		if !ok {
			// Modality and session directories sit next to prefixed files.
			if !(topLevel && e.IsDir()) {
				s.log.WithField("dir", dir).Debugf("skipping %q: no %q prefix", name, prefix)
			}
			continue
		}
		groups[suffix] = append(groups[suffix], name)
		isDir[name] = e.IsDir()
	}

	suffixes := make([]string, 0, len(groups))
	for suffix := range groups {
		suffixes = append(suffixes, suffix)
	}
	sort.Strings(suffixes)
	for _, suffix := range suffixes {
		format, err := item.InferFormat(groups[suffix], isDir)
		if err != nil {
			s.log.WithField("dir", dir).Warnf("skipping %q: %v", suffix, err)
			continue
		}
		prov, err := fsrepo.ReadProvenance(filepath.Join(dir, prefixed(prefix, suffix)+fsrepo.ProvSuffix))
		if err != nil {
			return err
		}
		n.AddFileGroup(logical+suffix, format, prov)
	}
	return nil
}

func stripPrefix(stem, prefix string) (string, bool) {
	if prefix == "" {
		return stem, stem != ""
	}
	suffix, ok := strings.CutPrefix(stem, prefix+"_")
	return suffix, ok && suffix != ""
}

func addDerivativeFields(n *tree.Node, path, base string) error {
	rec, err := fieldfile.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, name := range rec.Names() {
		e := rec[name]
		dt, array := item.InferDataType(e.Value)
		n.AddField(base+name, dt, array, e.Provenance)
	}
	return nil
}
