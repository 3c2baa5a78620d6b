// Package fieldfile reads and writes the per-node field metadata file. Each
// file is a JSON object mapping a field name either to its raw value or to an
// envelope carrying the value and its provenance:
//
//	{"age": 34, "group": {"__value__": "control", "__provenance__": {...}}}
//
// Updates are read-modify-write under an exclusive lock and replace the file
// atomically, so lock-free readers never see a partial write.
package fieldfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentic-research/arbor/internal/item"
	"github.com/agentic-research/arbor/internal/lockfile"
	"github.com/google/renameio"
	"github.com/ohler55/ojg/oj"
)

// Name is the file name of the metadata file inside an items directory.
const Name = "__fields__.json"

const (
	valueKey      = "__value__"
	provenanceKey = "__provenance__"
)

// Entry is one stored field.
type Entry struct {
	Value      any
	Provenance *item.Provenance
}

// Record is the decoded content of one metadata file.
type Record map[string]Entry

// Names lists the field names in order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Decode parses a metadata file. Integral JSON numbers decode as int64.
func Decode(b []byte) (Record, error) {
	v, err := oj.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	rec := make(Record, len(obj))
	for name, raw := range obj {
		e := Entry{Value: raw}
		if env, ok := raw.(map[string]any); ok {
			if val, ok := env[valueKey]; ok {
				e.Value = val
				if p, ok := env[provenanceKey].(map[string]any); ok {
					e.Provenance = item.NewProvenance(p)
				}
			}
		}
		rec[name] = e
	}
	return rec, nil
}

// Encode renders r with sorted keys. Entries with provenance use the envelope
// form.
func (r Record) Encode() ([]byte, error) {
	obj := make(map[string]any, len(r))
	for name, e := range r {
		if e.Provenance == nil {
			obj[name] = e.Value
			continue
		}
		obj[name] = map[string]any{valueKey: e.Value, provenanceKey: e.Provenance}
	}
	b, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Read loads the metadata file at path without locking. A missing file yields
// an error matching os.ErrNotExist.
func Read(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Options tune Update.
type Options struct {
	// LockTimeout bounds the wait for the lock; zero blocks.
	LockTimeout time.Duration
	// AfterRead, when set, runs while the lock is held between reading and
	// writing the file.
	AfterRead func()
}

// Update applies fn to the record at path while holding the exclusive lock
// next to it, then atomically replaces the file. A missing file starts as an
// empty record.
func Update(path string, opts Options, fn func(Record) error) error {
	return lockfile.With(lockfile.PathFor(path), opts.LockTimeout, func() error {
		rec, err := Read(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			rec = Record{}
		case err != nil:
			return err
		}
		if opts.AfterRead != nil {
			opts.AfterRead()
		}
		if err := fn(rec); err != nil {
			return err
		}
		b, err := rec.Encode()
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		return renameio.WriteFile(path, b, 0o644)
	})
}

// Put upserts one entry.
func Put(path, name string, value any, prov *item.Provenance, opts Options) error {
	return Update(path, opts, func(rec Record) error {
		rec[name] = Entry{Value: value, Provenance: prov}
		return nil
	})
}
