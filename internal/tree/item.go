package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/arbor/internal/item"
)

// ErrNoItem is returned when a node has no item registered under a name.
var ErrNoItem = errors.New("item not registered")

// Item is a FileGroup or a Field attached to a node.
type Item interface {
	Node() *Node
	String() string
}

// FileGroup is a named artifact on a node: a primary file or directory plus
// optional side-car files sharing its stem.
type FileGroup struct {
	node *Node

	Path       string // logical, slash separated
	Format     item.Format
	Provenance *item.Provenance

	// Local and LocalSideCars hold the staged source paths before Put and the
	// materialized paths after Get.
	Local         string
	LocalSideCars map[string]string
}

func (fg *FileGroup) Node() *Node { return fg.node }

func (fg *FileGroup) String() string {
	return fmt.Sprintf("%s:%s", fg.node, fg.Path)
}

// Get materializes the group through the dataset's repository.
func (fg *FileGroup) Get() (string, map[string]string, error) {
	primary, aux, err := fg.node.dataset.repo.GetFileGroup(fg)
	if err != nil {
		return "", nil, err
	}
	fg.Local, fg.LocalSideCars = primary, aux
	return primary, aux, nil
}

// Put stages primary and sideCars and stores them through the dataset's
// repository. Side-cars not given are derived from the format.
func (fg *FileGroup) Put(primary string, sideCars map[string]string) error {
	if sideCars == nil {
		sideCars = fg.Format.DefaultAuxPaths(primary)
	}
	for name := range fg.Format.SideCars {
		if _, ok := sideCars[name]; !ok {
			return fmt.Errorf("put %s: side-car %q not provided", fg, name)
		}
	}
	fg.Local, fg.LocalSideCars = primary, sideCars
	return fg.node.dataset.repo.PutFileGroup(fg)
}

// Field is a named scalar or array value on a node.
type Field struct {
	node *Node

	Name       string
	DataType   item.DataType
	Array      bool
	Provenance *item.Provenance

	// Value holds the last value read or written.
	Value any
}

func (f *Field) Node() *Node { return f.node }

func (f *Field) String() string {
	return fmt.Sprintf("%s:%s", f.node, f.Name)
}

// Coerce converts raw to the field's declared type.
func (f *Field) Coerce(raw any) (any, error) {
	v, err := f.DataType.Coerce(raw, f.Array)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f, err)
	}
	return v, nil
}

// Get reads the value through the dataset's repository.
func (f *Field) Get() (any, error) {
	v, err := f.node.dataset.repo.GetFieldValue(f)
	if err != nil {
		return nil, err
	}
	f.Value = v
	return v, nil
}

// Put coerces v and stores it through the dataset's repository.
func (f *Field) Put(v any) error {
	cv, err := f.Coerce(v)
	if err != nil {
		return err
	}
	f.Value = cv
	return f.node.dataset.repo.PutField(f)
}

// AddFileGroup registers a file group, updating format and provenance when
// one with the same path already exists.
func (n *Node) AddFileGroup(path string, format item.Format, prov *item.Provenance) *FileGroup {
	path = strings.Trim(path, "/")
	n.mu.Lock()
	defer n.mu.Unlock()
	if fg, ok := n.fileGroups[path]; ok {
		fg.Format = format
		if prov != nil {
			fg.Provenance = prov
		}
		return fg
	}
	fg := &FileGroup{node: n, Path: path, Format: format, Provenance: prov}
	n.fileGroups[path] = fg
	return fg
}

// AddField registers a field, updating its type and provenance when one with
// the same name already exists.
func (n *Node) AddField(name string, dt item.DataType, array bool, prov *item.Provenance) *Field {
	n.mu.Lock()
	defer n.mu.Unlock()
	if f, ok := n.fields[name]; ok {
		f.DataType, f.Array = dt, array
		if prov != nil {
			f.Provenance = prov
		}
		return f
	}
	f := &Field{node: n, Name: name, DataType: dt, Array: array, Provenance: prov}
	n.fields[name] = f
	return f
}

// FileGroup returns the file group registered under path.
func (n *Node) FileGroup(path string) (*FileGroup, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fg, ok := n.fileGroups[strings.Trim(path, "/")]
	if !ok {
		return nil, fmt.Errorf("file group %q on %s: %w", path, n, ErrNoItem)
	}
	return fg, nil
}

// Field returns the field registered under name.
func (n *Node) Field(name string) (*Field, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	f, ok := n.fields[name]
	if !ok {
		return nil, fmt.Errorf("field %q on %s: %w", name, n, ErrNoItem)
	}
	return f, nil
}

// FileGroups lists the node's file groups sorted by path.
func (n *Node) FileGroups() []*FileGroup {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*FileGroup, 0, len(n.fileGroups))
	for _, fg := range n.fileGroups {
		out = append(out, fg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Fields lists the node's fields sorted by name.
func (n *Node) Fields() []*Field {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Field, 0, len(n.fields))
	for _, f := range n.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
