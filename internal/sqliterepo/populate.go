package sqliterepo

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/ohler55/ojg/oj"
)

// PopulateTree recreates every node, field and file group recorded for ds.
func (s *Store) PopulateTree(ds *tree.Dataset) error {
	space := ds.Space()

	rows, err := s.db.Query(`SELECT freq, ids FROM nodes WHERE dataset = ? ORDER BY rowid`, ds.ID())
	if err != nil {
		return fmt.Errorf("populate %s: %w", ds.ID(), err)
	}
	type nodeRow struct {
		bits uint64
		ids  string
	}
	var nodes []nodeRow
	for rows.Next() {
		var (
			bits int64
			ids  string
		)
		if err := rows.Scan(&bits, &ids); err != nil {
			_ = rows.Close()
			return err
		}
		nodes = append(nodes, nodeRow{uint64(bits), ids})
	}
	if err := closeRows(rows); err != nil {
		return err
	}
	for _, r := range nodes {
		f, err := space.FromBits(r.bits)
		if err != nil {
			return err
		}
		ids, err := decodeIDs(space, r.ids)
		if err != nil {
			return fmt.Errorf("node %s %s: %w", f, r.ids, err)
		}
		if _, err := ds.AddNode(f, ids); err != nil {
			return err
		}
	}

	if err := s.populateFields(ds); err != nil {
		return err
	}
	if err := s.populateFileGroups(ds); err != nil {
		return err
	}
	s.log.WithField("dataset", ds.ID()).Debugf("populated %d nodes", ds.Len())
	return nil
}

func (s *Store) populateFields(ds *tree.Dataset) error {
	rows, err := s.db.Query(`SELECT freq, key, name, value, provenance FROM fields WHERE dataset = ?`, ds.ID())
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bits       int64
			key, name  string
			value      string
			provenance sql.NullString
		)
		if err := rows.Scan(&bits, &key, &name, &value, &provenance); err != nil {
			return err
		}
		n, err := lookup(ds, uint64(bits), key)
		if err != nil {
			return err
		}
		v, err := oj.ParseString(value)
		if err != nil {
			return fmt.Errorf("field %s of %s: %w", name, n, err)
		}
		prov, err := parseProvenance(provenance)
		if err != nil {
			return err
		}
		dt, array := item.InferDataType(v)
		n.AddField(name, dt, array, prov)
	}
	return rows.Err()
}

func (s *Store) populateFileGroups(ds *tree.Dataset) error {
	rows, err := s.db.Query(`SELECT freq, key, path, format, provenance FROM file_groups WHERE dataset = ?`, ds.ID())
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bits       int64
			key, path  string
			format     string
			provenance sql.NullString
		)
		if err := rows.Scan(&bits, &key, &path, &format, &provenance); err != nil {
			return err
		}
		n, err := lookup(ds, uint64(bits), key)
		if err != nil {
			return err
		}
		var sf storedFormat
		if err := json.Unmarshal([]byte(format), &sf); err != nil {
			return fmt.Errorf("file group %s of %s: %w", path, n, err)
		}
		prov, err := parseProvenance(provenance)
		if err != nil {
			return err
		}
		n.AddFileGroup(path, item.Format(sf), prov)
	}
	return rows.Err()
}

func lookup(ds *tree.Dataset, bits uint64, key string) (*tree.Node, error) {
	f, err := ds.Space().FromBits(bits)
	if err != nil {
		return nil, err
	}
	var k []string
	if err := json.Unmarshal([]byte(key), &k); err != nil {
		return nil, fmt.Errorf("key %s: %w", key, err)
	}
	return ds.NodeByKey(f, tree.Key(k))
}

func decodeIDs(space *freq.Space, raw string) (tree.IDs, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	ids := make(tree.IDs, len(m))
	for name, id := range m {
		f, err := space.Parse(name)
		if err != nil {
			return nil, err
		}
		ids[f] = id
	}
	return ids, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}
