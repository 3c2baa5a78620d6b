package tree

import (
	"strings"
	"sync"

	"github.com/agentic-research/arbor/internal/freq"
)

// Node is one addressable point of a dataset: a frequency plus the
// identifiers that select it. Nodes are created by Dataset.AddNode and never
// change identity; only items are attached later.
type Node struct {
	dataset *Dataset
	freq    freq.Frequency
	ids     IDs // guarded by dataset.mu
	key     Key
	rem     *Remainder
	intID   uint32
	parent  *Node

	mu         sync.RWMutex
	fileGroups map[string]*FileGroup
	fields     map[string]*Field
}

func (n *Node) Dataset() *Dataset         { return n.dataset }
func (n *Node) Frequency() freq.Frequency { return n.freq }

// Key returns the normalized identifier tuple.
func (n *Node) Key() Key { return append(Key(nil), n.key...) }

// Remainder describes the bits of the node frequency that no hierarchy level
// accounts for, or nil.
func (n *Node) Remainder() *Remainder { return n.rem }

// IDs returns a copy of every identifier known for the node, including ones
// that are not part of its key.
func (n *Node) IDs() IDs {
	n.dataset.mu.RLock()
	defer n.dataset.mu.RUnlock()
	return n.ids.Clone()
}

// ID returns the identifier for f, falling back to the concatenation of the
// identifiers of its basis layers.
func (n *Node) ID(f freq.Frequency) (string, bool) {
	n.dataset.mu.RLock()
	defer n.dataset.mu.RUnlock()
	if id, ok := n.ids[f]; ok {
		return id, true
	}
	if f.IsRoot() || f.IsBasis() {
		return "", false
	}
	parts := make([]string, 0, 2)
	for _, l := range f.Layers() {
		id, ok := n.ids[l]
		if !ok {
			return "", false
		}
		parts = append(parts, id)
	}
	return strings.Join(parts, "_"), true
}

// Parent returns the enclosing node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children lists the nodes whose parent is n, in insertion order.
func (n *Node) Children() []*Node {
	d := n.dataset
	d.mu.RLock()
	defer d.mu.RUnlock()
	bm, ok := d.children[n.intID]
	if !ok {
		return nil
	}
	return d.collect(bm)
}

func (n *Node) String() string {
	if n.freq.IsRoot() {
		return n.dataset.id
	}
	return n.freq.String() + n.key.String()
}
