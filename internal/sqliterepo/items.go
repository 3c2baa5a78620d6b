package sqliterepo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/google/renameio"
	"github.com/ohler55/ojg/oj"
)

func (s *Store) GetFieldValue(f *tree.Field) (any, error) {
	ref, err := refOf(f.Node())
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRow(`SELECT value FROM fields WHERE dataset = ? AND freq = ? AND key = ? AND name = ?`,
		ref.dataset, int64(ref.freq), ref.key, f.Name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &tree.MissingDataError{Item: f.String(), Reason: "no row in " + s.path}
	}
	if err != nil {
		return nil, fmt.Errorf("get field %s: %w", f, err)
	}
	v, err := oj.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("get field %s: %w", f, err)
	}
	return f.Coerce(v)
}

func (s *Store) PutField(f *tree.Field) error {
	ref, err := refOf(f.Node())
	if err != nil {
		return err
	}
	value, err := json.Marshal(f.Value)
	if err != nil {
		return fmt.Errorf("put field %s: %w", f, err)
	}
	prov, err := nullableJSON(f.Provenance)
	if err != nil {
		return err
	}
	err = s.inTx(func(tx *sql.Tx) error {
		if err := upsertNode(tx, ref, f.Node()); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO fields (dataset, freq, key, name, value, provenance) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (dataset, freq, key, name) DO UPDATE SET value = excluded.value, provenance = excluded.provenance`,
			ref.dataset, int64(ref.freq), ref.key, f.Name, string(value), prov)
		return err
	})
	if err != nil {
		return fmt.Errorf("put field %s: %w", f, err)
	}
	s.log.WithField("field", f.String()).Debug("stored")
	return nil
}

// storedFormat is the JSON form of item.Format in the file_groups table.
type storedFormat struct {
	Name      string            `json:"name"`
	Ext       string            `json:"ext,omitempty"`
	Directory bool              `json:"directory,omitempty"`
	SideCars  map[string]string `json:"side_cars,omitempty"`
}

func (s *Store) PutFileGroup(fg *tree.FileGroup) error {
	if fg.Local == "" {
		return fmt.Errorf("put %s: nothing staged", fg)
	}
	ref, err := refOf(fg.Node())
	if err != nil {
		return err
	}
	format, err := json.Marshal(storedFormat(fg.Format))
	if err != nil {
		return err
	}
	prov, err := nullableJSON(fg.Provenance)
	if err != nil {
		return err
	}
	info, err := os.Stat(fg.Local)
	if err != nil {
		return fmt.Errorf("put %s: %w", fg, err)
	}

	err = s.inTx(func(tx *sql.Tx) error {
		if err := upsertNode(tx, ref, fg.Node()); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE dataset = ? AND freq = ? AND key = ? AND path = ?`,
			ref.dataset, int64(ref.freq), ref.key, fg.Path); err != nil {
			return err
		}
		insert := func(role, rel string, data []byte) error {
			_, err := tx.Exec(`INSERT INTO files (dataset, freq, key, path, role, rel, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				ref.dataset, int64(ref.freq), ref.key, fg.Path, role, rel, data)
			return err
		}

		if info.IsDir() {
			if err := insert(rolePrimary, "", nil); err != nil {
				return err
			}
			err := filepath.WalkDir(fg.Local, func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				rel, err := filepath.Rel(fg.Local, p)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				return insert(roleMember, filepath.ToSlash(rel), data)
			})
			if err != nil {
				return err
			}
		} else {
			data, err := os.ReadFile(fg.Local)
			if err != nil {
				return err
			}
			if err := insert(rolePrimary, "", data); err != nil {
				return err
			}
		}
		for name := range fg.Format.SideCars {
			src, ok := fg.LocalSideCars[name]
			if !ok {
				return fmt.Errorf("side-car %q not staged", name)
			}
			data, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			if err := insert(roleSideCar, name, data); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`
			INSERT INTO file_groups (dataset, freq, key, path, format, provenance) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (dataset, freq, key, path) DO UPDATE SET format = excluded.format, provenance = excluded.provenance`,
			ref.dataset, int64(ref.freq), ref.key, fg.Path, string(format), prov)
		return err
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", fg, err)
	}
	s.log.WithField("file_group", fg.String()).Debug("stored")
	return nil
}

// cacheStem is where fg is materialized, without the format extension.
func (s *Store) cacheStem(fg *tree.FileGroup) string {
	n := fg.Node()
	parts := []string{s.cacheDir, url.PathEscape(n.Dataset().ID()), n.Frequency().String()}
	for _, id := range n.Key() {
		parts = append(parts, url.PathEscape(id))
	}
	parts = append(parts, filepath.FromSlash(fg.Path))
	return filepath.Join(parts...)
}

func (s *Store) GetFileGroup(fg *tree.FileGroup) (string, map[string]string, error) {
	ref, err := refOf(fg.Node())
	if err != nil {
		return "", nil, err
	}
	if strings.Contains("/"+fg.Path+"/", "/../") {
		return "", nil, fmt.Errorf("file group %s: invalid path", fg)
	}
	rows, err := s.db.Query(`SELECT role, rel, data FROM files WHERE dataset = ? AND freq = ? AND key = ? AND path = ?`,
		ref.dataset, int64(ref.freq), ref.key, fg.Path)
	if err != nil {
		return "", nil, fmt.Errorf("get %s: %w", fg, err)
	}
	type blob struct {
		role, rel string
		data      []byte
	}
	var blobs []blob
	for rows.Next() {
		var b blob
		if err := rows.Scan(&b.role, &b.rel, &b.data); err != nil {
			_ = rows.Close()
			return "", nil, err
		}
		blobs = append(blobs, b)
	}
	if err := rows.Close(); err != nil {
		return "", nil, err
	}
	if err := rows.Err(); err != nil {
		return "", nil, err
	}

	hasPrimary := false
	sideCars := map[string][]byte{}
	for _, b := range blobs {
		switch b.role {
		case rolePrimary:
			hasPrimary = true
		case roleSideCar:
			sideCars[b.rel] = b.data
		}
	}
	if !hasPrimary {
		return "", nil, &tree.MissingDataError{Item: fg.String(), Reason: "no stored primary in " + s.path}
	}
	for name := range fg.Format.SideCars {
		if _, ok := sideCars[name]; !ok {
			return "", nil, &tree.MissingDataError{Item: fg.String(), Reason: fmt.Sprintf("no stored %q side-car", name)}
		}
	}

	s.materialize.Lock()
	defer s.materialize.Unlock()
	primary := fg.Format.PrimaryPath(s.cacheStem(fg))
	if err := os.RemoveAll(primary); err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err != nil {
		return "", nil, err
	}
	for _, b := range blobs {
		switch {
		case b.role == rolePrimary && fg.Format.Directory:
			err = os.MkdirAll(primary, 0o755)
		case b.role == rolePrimary:
			err = renameio.WriteFile(primary, b.data, 0o644)
		case b.role == roleMember:
			target := filepath.Join(primary, filepath.FromSlash(b.rel))
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
				err = renameio.WriteFile(target, b.data, 0o644)
			}
		}
		if err != nil {
			return "", nil, fmt.Errorf("materialize %s: %w", fg, err)
		}
	}
	aux := fg.Format.DefaultAuxPaths(primary)
	for name, p := range aux {
		if err := renameio.WriteFile(p, sideCars[name], 0o644); err != nil {
			return "", nil, fmt.Errorf("materialize %s: %w", fg, err)
		}
	}
	s.log.WithField("file_group", fg.String()).Debugf("materialized at %s", primary)
	return primary, aux, nil
}

func (s *Store) GetProvenance(it tree.Item) (*item.Provenance, error) {
	var (
		ref nodeRef
		err error
		row *sql.Row
	)
	switch it := it.(type) {
	case *tree.FileGroup:
		if ref, err = refOf(it.Node()); err != nil {
			return nil, err
		}
		row = s.db.QueryRow(`SELECT provenance FROM file_groups WHERE dataset = ? AND freq = ? AND key = ? AND path = ?`,
			ref.dataset, int64(ref.freq), ref.key, it.Path)
	case *tree.Field:
		if ref, err = refOf(it.Node()); err != nil {
			return nil, err
		}
		row = s.db.QueryRow(`SELECT provenance FROM fields WHERE dataset = ? AND freq = ? AND key = ? AND name = ?`,
			ref.dataset, int64(ref.freq), ref.key, it.Name)
	default:
		return nil, fmt.Errorf("unsupported item %T", it)
	}
	var raw sql.NullString
	if err := row.Scan(&raw); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return parseProvenance(raw)
}

func parseProvenance(raw sql.NullString) (*item.Provenance, error) {
	if !raw.Valid {
		return nil, nil
	}
	v, err := oj.ParseString(raw.String)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("provenance is not a JSON object")
	}
	return item.NewProvenance(m), nil
}
