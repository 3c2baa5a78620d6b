// Package item holds the value types attached to data-tree items: provenance
// records, file formats and field data types.
package item

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
)

// Hostname is recorded in provenance produced on this machine.
var Hostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}()

// Provenance is an immutable record of how an item was produced. The record is
// copied on construction and on every read.
type Provenance struct {
	record map[string]any
}

// NewProvenance copies record into a Provenance. A nil record yields nil.
func NewProvenance(record map[string]any) *Provenance {
	if record == nil {
		return nil
	}
	return &Provenance{record: deepCopy(record).(map[string]any)}
}

// BackendProvenance describes a backend: its type, this host and free-form
// parameters.
func BackendProvenance(backendType string, params map[string]any) *Provenance {
	rec := map[string]any{
		"type": backendType,
		"host": Hostname,
	}
	if len(params) > 0 {
		rec["params"] = params
	}
	return NewProvenance(rec)
}

// Record returns a copy of the record.
func (p *Provenance) Record() map[string]any {
	if p == nil {
		return nil
	}
	return deepCopy(p.record).(map[string]any)
}

// Get returns one top-level key.
func (p *Provenance) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.record[key]
	return deepCopy(v), ok
}

// Equal compares records after normalizing numbers through JSON.
func (p *Provenance) Equal(o *Provenance) bool {
	if p == nil || o == nil {
		return p == o
	}
	a, errA := normalize(p.record)
	b, errB := normalize(o.record)
	return errA == nil && errB == nil && reflect.DeepEqual(a, b)
}

func (p *Provenance) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.record)
}

func (p *Provenance) UnmarshalJSON(b []byte) error {
	var rec map[string]any
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("decode provenance: %w", err)
	}
	p.record = rec
	return nil
}

func (p *Provenance) String() string {
	b, err := json.Marshal(p.record)
	if err != nil {
		return fmt.Sprintf("%v", p.record)
	}
	return string(b)
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}
