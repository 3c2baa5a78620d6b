package tree

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/arbor/internal/freq"
)

// Dataset owns the node tree of one data set. Nodes are stored once per
// (frequency, key) and indexed with roaring bitmaps by frequency, by
// (frequency, identifier) pair and by parent.
type Dataset struct {
	id        string
	hierarchy freq.Hierarchy
	repo      Repository
	root      *Node

	mu       sync.RWMutex
	nodes    []*Node // internal ID -> node
	byKey    map[nodeKey]*Node
	byFreq   map[uint64]*roaring.Bitmap
	byID     map[idKey]*roaring.Bitmap
	children map[uint32]*roaring.Bitmap
}

type idKey struct {
	bits uint64
	id   string
}

// NewDataset creates an empty dataset holding only its root node.
func NewDataset(id string, h freq.Hierarchy, repo Repository) *Dataset {
	d := &Dataset{
		id:        id,
		hierarchy: h,
		repo:      repo,
		byKey:     make(map[nodeKey]*Node),
		byFreq:    make(map[uint64]*roaring.Bitmap),
		byID:      make(map[idKey]*roaring.Bitmap),
		children:  make(map[uint32]*roaring.Bitmap),
	}
	d.root = d.insert(h.Space().Root(), IDs{}, Key{}, nil, nil)
	return d
}

func (d *Dataset) ID() string                { return d.id }
func (d *Dataset) Hierarchy() freq.Hierarchy { return d.hierarchy }
func (d *Dataset) Space() *freq.Space        { return d.hierarchy.Space() }
func (d *Dataset) Repository() Repository    { return d.repo }
func (d *Dataset) Root() *Node               { return d.root }

// Populate asks the repository to register every stored node and item.
func (d *Dataset) Populate() error {
	return d.repo.PopulateTree(d)
}

// AddNode returns the node of f selected by ids, creating it and any missing
// ancestors along the hierarchy. Identifiers beyond the key are recorded on
// the node, including on an existing one.
func (d *Dataset) AddNode(f freq.Frequency, ids IDs) (*Node, error) {
	key, rem, err := KeyOf(d.hierarchy, f, ids)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(f, ids, key, rem), nil
}

func (d *Dataset) addLocked(f freq.Frequency, ids IDs, key Key, rem *Remainder) *Node {
	if f.IsRoot() {
		return d.root
	}
	if n, ok := d.byKey[makeNodeKey(f, key)]; ok {
		d.mergeIDs(n, ids)
		return n
	}

	levels, _ := d.hierarchy.Accounted(f)
	parentFreq := d.hierarchy.Space().Root()
	switch {
	case rem != nil && len(levels) > 0:
		parentFreq = levels[len(levels)-1]
	case rem == nil && len(levels) > 1:
		parentFreq = levels[len(levels)-2]
	}
	parentKey, parentRem, _ := KeyOf(d.hierarchy, parentFreq, ids)
	parent := d.addLocked(parentFreq, restrict(ids, parentFreq), parentKey, parentRem)

	return d.insert(f, restrict(ids, f), key, rem, parent)
}

// insert must be called with d.mu held, or before d is shared.
func (d *Dataset) insert(f freq.Frequency, ids IDs, key Key, rem *Remainder, parent *Node) *Node {
	n := &Node{
		dataset:    d,
		freq:       f,
		ids:        ids,
		key:        key,
		rem:        rem,
		intID:      uint32(len(d.nodes)),
		parent:     parent,
		fileGroups: make(map[string]*FileGroup),
		fields:     make(map[string]*Field),
	}
	d.nodes = append(d.nodes, n)
	d.byKey[makeNodeKey(f, key)] = n
	bitmapFor(d.byFreq, f.Bits()).Add(n.intID)
	for g, id := range ids {
		bitmapFor(d.byID, idKey{g.Bits(), id}).Add(n.intID)
	}
	if parent != nil {
		bitmapFor(d.children, parent.intID).Add(n.intID)
	}
	return n
}

func (d *Dataset) mergeIDs(n *Node, ids IDs) {
	for g, id := range ids {
		if _, ok := n.ids[g]; ok || !n.freq.Contains(g) {
			continue
		}
		n.ids[g] = id
		bitmapFor(d.byID, idKey{g.Bits(), id}).Add(n.intID)
	}
}

// restrict keeps the identifiers of frequencies contained in f.
func restrict(ids IDs, f freq.Frequency) IDs {
	out := make(IDs, len(ids))
	for g, id := range ids {
		if f.Contains(g) && !g.IsRoot() {
			out[g] = id
		}
	}
	return out
}

func bitmapFor[K comparable](m map[K]*roaring.Bitmap, k K) *roaring.Bitmap {
	bm, ok := m[k]
	if !ok {
		bm = roaring.New()
		m[k] = bm
	}
	return bm
}

// Node looks up the node of f selected by ids without creating it.
func (d *Dataset) Node(f freq.Frequency, ids IDs) (*Node, error) {
	key, _, err := KeyOf(d.hierarchy, f, ids)
	if err != nil {
		return nil, err
	}
	return d.NodeByKey(f, key)
}

// NodeByKey looks up a node by its normalized key.
func (d *Dataset) NodeByKey(f freq.Frequency, key Key) (*Node, error) {
	if f.IsRoot() && len(key) == 0 {
		return d.root, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.byKey[makeNodeKey(f, key)]
	if !ok {
		return nil, &NodeNotFoundError{Frequency: f, Key: key}
	}
	return n, nil
}

// Nodes lists every node of f in insertion order.
func (d *Dataset) Nodes(f freq.Frequency) []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bm, ok := d.byFreq[f.Bits()]
	if !ok || f.Space() != d.Space() {
		return nil
	}
	return d.collect(bm)
}

// Match lists nodes of f whose identifiers include every pair in ids.
func (d *Dataset) Match(f freq.Frequency, ids IDs) []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bm, ok := d.byFreq[f.Bits()]
	if !ok || f.Space() != d.Space() {
		return nil
	}
	result := bm.Clone()
	for g, id := range ids {
		sel, ok := d.byID[idKey{g.Bits(), id}]
		if !ok {
			return nil
		}
		result.And(sel)
	}
	return d.collect(result)
}

// Len returns the number of nodes including the root.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// collect must be called with d.mu held.
func (d *Dataset) collect(bm *roaring.Bitmap) []*Node {
	out := make([]*Node, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, d.nodes[it.Next()])
	}
	return out
}
