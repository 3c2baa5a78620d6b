package fsrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/arbor/internal/fieldfile"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/google/renameio"
	"github.com/ohler55/ojg/oj"
)

// FileGroupStem returns the path of fg inside storage without the format
// extension.
func (s *Store) FileGroupStem(fg *tree.FileGroup) (string, error) {
	dir, err := s.ItemsDir(fg.Node())
	if err != nil {
		return "", err
	}
	for _, part := range strings.Split(fg.Path, "/") {
		if reason := reservedPart(part); reason != "" {
			return "", fmt.Errorf("file group %s: invalid path: %s", fg, reason)
		}
	}
	return filepath.Join(dir, filepath.FromSlash(fg.Path)), nil
}

// reservedPart reports why part cannot name a file group path component, or
// "" when it can. Storage keeps metadata and node directories under these
// names, and populate skips hidden entries.
func reservedPart(part string) string {
	switch {
	case part == "" || part == "." || part == "..":
		return fmt.Sprintf("empty or relative component %q", part)
	case strings.HasPrefix(part, "."):
		return fmt.Sprintf("hidden component %q", part)
	case strings.HasPrefix(part, "__"):
		return fmt.Sprintf("component %q uses the reserved \"__\" prefix", part)
	case strings.HasSuffix(part, ProvSuffix) || strings.HasSuffix(part, lockSuffix):
		return fmt.Sprintf("component %q has a reserved suffix", part)
	}
	return ""
}

func (s *Store) fieldsPath(f *tree.Field) (string, error) {
	dir, err := s.ItemsDir(f.Node())
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fieldfile.Name), nil
}

func (s *Store) GetFileGroup(fg *tree.FileGroup) (string, map[string]string, error) {
	stem, err := s.FileGroupStem(fg)
	if err != nil {
		return "", nil, err
	}
	return StatFileGroup(fg, stem)
}

func (s *Store) PutFileGroup(fg *tree.FileGroup) error {
	stem, err := s.FileGroupStem(fg)
	if err != nil {
		return err
	}
	dst, aux, err := StoreFileGroup(fg, stem)
	if err != nil {
		return err
	}
	s.log.WithField("file_group", fg.String()).Debugf("stored %s", dst)
	fg.Local, fg.LocalSideCars = dst, aux
	return nil
}

// StatFileGroup returns the primary and side-car paths of fg stored at stem,
// or a *tree.MissingDataError naming the first one absent.
func StatFileGroup(fg *tree.FileGroup, stem string) (string, map[string]string, error) {
	primary := fg.Format.PrimaryPath(stem)
	if _, err := os.Stat(primary); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, &tree.MissingDataError{Item: fg.String(), Reason: primary + " does not exist"}
		}
		return "", nil, err
	}
	aux := fg.Format.DefaultAuxPaths(primary)
	for name, p := range aux {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", nil, &tree.MissingDataError{Item: fg.String(), Reason: fmt.Sprintf("missing %q side-car %s", name, p)}
			}
			return "", nil, err
		}
	}
	return primary, aux, nil
}

// StoreFileGroup copies the staged paths of fg to stem. A directory
// destination is removed before the copy. Provenance goes to stem.prov.
func StoreFileGroup(fg *tree.FileGroup, stem string) (string, map[string]string, error) {
	if fg.Local == "" {
		return "", nil, fmt.Errorf("put %s: nothing staged", fg)
	}
	dst := fg.Format.PrimaryPath(stem)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", nil, fmt.Errorf("mkdir: %w", err)
	}
	info, err := os.Stat(fg.Local)
	if err != nil {
		return "", nil, fmt.Errorf("put %s: %w", fg, err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return "", nil, fmt.Errorf("put %s: clear %s: %w", fg, dst, err)
		}
		if err := copyDir(fg.Local, dst); err != nil {
			return "", nil, fmt.Errorf("put %s: %w", fg, err)
		}
	} else if err := copyFile(fg.Local, dst); err != nil {
		return "", nil, fmt.Errorf("put %s: %w", fg, err)
	}

	aux := fg.Format.DefaultAuxPaths(dst)
	for name, target := range aux {
		src, ok := fg.LocalSideCars[name]
		if !ok {
			return "", nil, fmt.Errorf("put %s: side-car %q not staged", fg, name)
		}
		if err := copyFile(src, target); err != nil {
			return "", nil, fmt.Errorf("put %s: side-car %q: %w", fg, name, err)
		}
	}
	if fg.Provenance != nil {
		b, err := json.MarshalIndent(fg.Provenance, "", "  ")
		if err != nil {
			return "", nil, err
		}
		if err := renameio.WriteFile(stem+ProvSuffix, b, 0o644); err != nil {
			return "", nil, fmt.Errorf("put %s: provenance: %w", fg, err)
		}
	}
	return dst, aux, nil
}

func (s *Store) GetFieldValue(f *tree.Field) (any, error) {
	path, err := s.fieldsPath(f)
	if err != nil {
		return nil, err
	}
	rec, err := fieldfile.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &tree.MissingDataError{Item: f.String(), Reason: "no " + fieldfile.Name + " in " + filepath.Dir(path)}
	}
	if err != nil {
		return nil, err
	}
	e, ok := rec[f.Name]
	if !ok {
		return nil, &tree.MissingDataError{Item: f.String(), Reason: "not recorded in " + path}
	}
	return f.Coerce(e.Value)
}

func (s *Store) PutField(f *tree.Field) error {
	path, err := s.fieldsPath(f)
	if err != nil {
		return err
	}
	opts := fieldfile.Options{LockTimeout: s.lockTimeout, AfterRead: s.afterRead}
	if err := fieldfile.Put(path, f.Name, f.Value, f.Provenance, opts); err != nil {
		return fmt.Errorf("put field %s: %w", f, err)
	}
	s.log.WithField("field", f.String()).Debugf("stored in %s", path)
	return nil
}

func (s *Store) GetProvenance(it tree.Item) (*item.Provenance, error) {
	switch it := it.(type) {
	case *tree.FileGroup:
		stem, err := s.FileGroupStem(it)
		if err != nil {
			return nil, err
		}
		return ReadProvenance(stem + ProvSuffix)
	case *tree.Field:
		path, err := s.fieldsPath(it)
		if err != nil {
			return nil, err
		}
		rec, err := fieldfile.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return rec[it.Name].Provenance, nil
	}
	return nil, fmt.Errorf("unsupported item %T", it)
}

// ReadProvenance loads a provenance side-car; a missing file means none.
func ReadProvenance(path string) (*item.Provenance, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := oj.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: provenance is not a JSON object", path)
	}
	return item.NewProvenance(rec), nil
}

// copyFile replaces dst with the content of src atomically.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	t, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if err := t.Chmod(0o644); err != nil {
		return err
	}
	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}
