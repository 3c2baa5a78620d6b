// Package sqliterepo keeps datasets in a single SQLite database. Nodes,
// fields, provenance and the bytes of every file group live in tables keyed by
// (dataset, frequency, node key); file groups are written out to a cache
// directory when read.
package sqliterepo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/tree"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Type identifies the backend in provenance records and configuration.
const Type = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	dataset TEXT NOT NULL,
	freq INTEGER NOT NULL,
	key TEXT NOT NULL,
	ids JSON NOT NULL,
	PRIMARY KEY (dataset, freq, key)
);
CREATE TABLE IF NOT EXISTS fields (
	dataset TEXT NOT NULL,
	freq INTEGER NOT NULL,
	key TEXT NOT NULL,
	name TEXT NOT NULL,
	value JSON NOT NULL,
	provenance JSON,
	PRIMARY KEY (dataset, freq, key, name)
);
CREATE TABLE IF NOT EXISTS file_groups (
	dataset TEXT NOT NULL,
	freq INTEGER NOT NULL,
	key TEXT NOT NULL,
	path TEXT NOT NULL,
	format JSON NOT NULL,
	provenance JSON,
	PRIMARY KEY (dataset, freq, key, path)
);
CREATE TABLE IF NOT EXISTS files (
	dataset TEXT NOT NULL,
	freq INTEGER NOT NULL,
	key TEXT NOT NULL,
	path TEXT NOT NULL,
	role TEXT NOT NULL,
	rel TEXT NOT NULL,
	data BLOB,
	PRIMARY KEY (dataset, freq, key, path, role, rel)
) WITHOUT ROWID;
`

// File roles inside the files table.
const (
	rolePrimary = "primary"
	roleSideCar = "side_car"
	roleMember  = "member"
)

// Store is a tree.Repository backed by one SQLite database file.
type Store struct {
	db       *sql.DB
	path     string
	cacheDir string
	log      logrus.FieldLogger

	// materialize serializes cache writes.
	materialize sync.Mutex
}

var _ tree.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger routes diagnostics to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithCacheDir sets where file groups are materialized. The default is a
// directory next to the database file.
func WithCacheDir(dir string) Option {
	return func(s *Store) { s.cacheDir = dir }
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{path: path, cacheDir: path + ".cache", log: discard}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps writers in this process queued instead of busy.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Provenance() *item.Provenance {
	return item.BackendProvenance(Type, map[string]any{"path": s.path})
}

// nodeRef is the primary-key prefix shared by every table.
type nodeRef struct {
	dataset string
	freq    uint64
	key     string
}

func refOf(n *tree.Node) (nodeRef, error) {
	key := []string(n.Key())
	if key == nil {
		key = []string{}
	}
	k, err := json.Marshal(key)
	if err != nil {
		return nodeRef{}, err
	}
	return nodeRef{dataset: n.Dataset().ID(), freq: n.Frequency().Bits(), key: string(k)}, nil
}

func encodeIDs(ids tree.IDs) (string, error) {
	m := make(map[string]string, len(ids))
	for f, id := range ids {
		m[f.String()] = id
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// upsertNode records n so that PopulateTree can recreate it.
func upsertNode(tx *sql.Tx, ref nodeRef, n *tree.Node) error {
	ids, err := encodeIDs(n.IDs())
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO nodes (dataset, freq, key, ids) VALUES (?, ?, ?, ?)
		ON CONFLICT (dataset, freq, key) DO UPDATE SET ids = excluded.ids`,
		ref.dataset, int64(ref.freq), ref.key, ids)
	return err
}

func nullableJSON(p *item.Provenance) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
