package tree

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/freq"
)

// InvalidHierarchyError reports a frequency that the dataset's hierarchy cannot
// address, or identifiers that do not cover the requested frequency.
type InvalidHierarchyError struct {
	Frequency freq.Frequency
	Hierarchy freq.Hierarchy
	Reason    string
}

func (e *InvalidHierarchyError) Error() string {
	return fmt.Sprintf("invalid node %s for hierarchy %s: %s", e.Frequency, e.Hierarchy, e.Reason)
}

// NodeNotFoundError reports a lookup of a node that was never added.
type NodeNotFoundError struct {
	Frequency freq.Frequency
	Key       Key
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("no %s node %s", e.Frequency, e.Key)
}

// MissingDataError reports a registered item without backing storage.
type MissingDataError struct {
	Item   string
	Reason string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data for %s: %s", e.Item, e.Reason)
}

// AmbiguousPathError reports a storage path that cannot be decoded back to a
// single frequency and identifier set. It indicates a corrupt repository.
type AmbiguousPathError struct {
	Path   string
	Reason string
}

func (e *AmbiguousPathError) Error() string {
	return fmt.Sprintf("ambiguous path %q: %s", e.Path, e.Reason)
}
