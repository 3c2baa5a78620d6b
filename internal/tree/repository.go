package tree

import "github.com/agentic-research/arbor/internal/item"

// Repository is the storage contract every backend implements. A Dataset holds
// one Repository and routes item access through it.
type Repository interface {
	// PopulateTree walks storage and registers every node and item it finds
	// with ds. Calling it again updates existing entries.
	PopulateTree(ds *Dataset) error

	// GetFileGroup returns local paths of the primary file and its side-cars,
	// or a *MissingDataError when any of them is absent.
	GetFileGroup(fg *FileGroup) (primary string, sideCars map[string]string, err error)

	// PutFileGroup copies the staged local paths of fg into storage, replacing
	// previous contents, and persists fg.Provenance alongside.
	PutFileGroup(fg *FileGroup) error

	// GetFieldValue reads the stored value coerced to the field's data type.
	GetFieldValue(f *Field) (any, error)

	// PutField stores f.Value and f.Provenance, replacing a previous value.
	PutField(f *Field) error

	// GetProvenance returns the recorded provenance of it, or nil.
	GetProvenance(it Item) (*item.Provenance, error)

	// Provenance describes the backend itself.
	Provenance() *item.Provenance
}
