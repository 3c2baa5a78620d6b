package bidsrepo

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/ohler55/ojg/oj"
)

const (
	descriptionFile  = "dataset_description.json"
	participantsFile = "participants.tsv"
	participantIDCol = "participant_id"
	groupCol         = "group"
)

// ErrEmptyDataset is returned when a directory has no dataset_description.json.
var ErrEmptyDataset = errors.New("no " + descriptionFile)

// Description is the subset of dataset_description.json the store reads and
// writes.
type Description struct {
	Name        string         `json:"Name"`
	BIDSVersion string         `json:"BIDSVersion"`
	DatasetType string         `json:"DatasetType,omitempty"`
	License     string         `json:"License,omitempty"`
	Authors     []string       `json:"Authors,omitempty"`
	GeneratedBy []GeneratedBy  `json:"GeneratedBy,omitempty"`
	Extra       map[string]any `json:"-"`
}

// GeneratedBy names a pipeline that produced a derivative dataset.
type GeneratedBy struct {
	Name    string `json:"Name"`
	Version string `json:"Version,omitempty"`
}

// ReadDescription loads dataset_description.json from root.
func ReadDescription(root string) (*Description, error) {
	b, err := os.ReadFile(filepath.Join(root, descriptionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", root, ErrEmptyDataset)
	}
	if err != nil {
		return nil, err
	}
	v, err := oj.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", descriptionFile, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a JSON object", descriptionFile)
	}
	d := &Description{Extra: map[string]any{}}
	for k, val := range obj {
		switch k {
		case "Name":
			d.Name, _ = val.(string)
		case "BIDSVersion":
			d.BIDSVersion, _ = val.(string)
		case "DatasetType":
			d.DatasetType, _ = val.(string)
		case "License":
			d.License, _ = val.(string)
		case "Authors":
			for _, a := range asList(val) {
				if s, ok := a.(string); ok {
					d.Authors = append(d.Authors, s)
				}
			}
		case "GeneratedBy":
			for _, g := range asList(val) {
				m, _ := g.(map[string]any)
				name, _ := m["Name"].(string)
				version, _ := m["Version"].(string)
				d.GeneratedBy = append(d.GeneratedBy, GeneratedBy{Name: name, Version: version})
			}
		default:
			d.Extra[k] = val
		}
	}
	if d.DatasetType == "derivative" && len(d.GeneratedBy) == 0 {
		return nil, fmt.Errorf("%s: GeneratedBy is required for derivative datasets", descriptionFile)
	}
	return d, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// WriteDescription replaces dataset_description.json in root.
func WriteDescription(root string, d *Description) error {
	obj := map[string]any{}
	for k, v := range d.Extra {
		obj[k] = v
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var known map[string]any
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	for k, v := range known {
		obj[k] = v
	}
	out, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(root, descriptionFile), append(out, '\n'), 0o644)
}

// Participants is the parsed participants.tsv: column names (without
// participant_id) and one row per participant.
type Participants struct {
	Columns []string
	Rows    map[string]map[string]string
	Order   []string
}

// Has reports whether col is a participant column.
func (p *Participants) Has(col string) bool {
	for _, c := range p.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Row returns the row of a participant, accepting the label with or without
// the "sub-" prefix.
func (p *Participants) Row(id string) map[string]string {
	if row, ok := p.Rows[id]; ok {
		return row
	}
	if bare, ok := strings.CutPrefix(id, subjectPrefix); ok {
		return p.Rows[bare]
	}
	return p.Rows[subjectPrefix+id]
}

// ReadParticipants parses participants.tsv in root. A missing file yields
// no participants.
func ReadParticipants(root string) (*Participants, error) {
	p := &Participants{Rows: map[string]map[string]string{}}
	f, err := os.Open(filepath.Join(root, participantsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", participantsFile, err)
	}
	idCol := -1
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == participantIDCol {
			idCol = i
			continue
		}
		p.Columns = append(p.Columns, h)
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%s: no %s column", participantsFile, participantIDCol)
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", participantsFile, err)
		}
		if len(rec) <= idCol || strings.TrimSpace(rec[idCol]) == "" {
			continue
		}
		id := strings.TrimSpace(rec[idCol])
		row := map[string]string{}
		for i, h := range header {
			if i == idCol || i >= len(rec) {
				continue
			}
			row[strings.TrimSpace(h)] = rec[i]
		}
		if _, dup := p.Rows[id]; !dup {
			p.Order = append(p.Order, id)
		}
		p.Rows[id] = row
	}
	return p, nil
}

// WriteParticipants replaces participants.tsv in root.
func WriteParticipants(root string, p *Participants) error {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = '\t'
	if err := w.Write(append([]string{participantIDCol}, p.Columns...)); err != nil {
		return err
	}
	for _, id := range p.Order {
		rec := []string{id}
		for _, c := range p.Columns {
			rec = append(rec, p.Rows[id][c])
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(root, participantsFile), []byte(b.String()), 0o644)
}

// Create lays out a new dataset at root with one directory per subject (and
// per session when sessions are given). Identifiers get the "sub-"/"ses-"
// prefix when missing.
func Create(root string, d *Description, p *Participants, sessions []string) error {
	if len(p.Order) == 0 {
		return fmt.Errorf("create %s: at least one participant is required", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	normalized := &Participants{Columns: p.Columns, Rows: map[string]map[string]string{}}
	for _, id := range p.Order {
		sub := withPrefix(id, subjectPrefix)
		normalized.Order = append(normalized.Order, sub)
		normalized.Rows[sub] = p.Rows[id]
		dirs := []string{filepath.Join(root, sub)}
		if len(sessions) > 0 {
			dirs = dirs[:0]
			for _, s := range sessions {
				dirs = append(dirs, filepath.Join(root, sub, withPrefix(s, sessionPrefix)))
			}
		}
		for _, dir := range dirs {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	if err := WriteDescription(root, d); err != nil {
		return err
	}
	return WriteParticipants(root, normalized)
}

func withPrefix(id, prefix string) string {
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}
