package cluster

import (
	"github.com/TobiSchelling/hiercluster/internal/table"
)

// NodeID addresses a node inside a Dendrogram.
type NodeID int

// NoNode marks an absent child or root.
const NoNode NodeID = -1

// node is either a leaf (rowIndex >= 0, no children) or an internal node
// joining left and right at distance.
type node struct {
	left, right NodeID
	distance    float64
	rowIndex    int
	slot        int
	leafCount   int
	step        int
}

// Dendrogram is an arena of cluster nodes. Leaves wrap one input row each;
// internal nodes join two existing nodes. Nodes are never modified after
// creation, so any node id stays valid for the life of the dendrogram.
type Dendrogram struct {
	nodes  []node
	rows   []table.Row
	root   NodeID
	merges int
}

// NewDendrogram creates an empty dendrogram with room for n leaves.
func NewDendrogram(n int) *Dendrogram {
	capacity := 0
	if n > 0 {
		capacity = 2*n - 1
	}
	return &Dendrogram{
		nodes: make([]node, 0, capacity),
		rows:  make([]table.Row, 0, n),
		root:  NoNode,
	}
}

// NewLeaf adds a leaf for row, which sits at rowIndex in the original input.
func (d *Dendrogram) NewLeaf(row table.Row, rowIndex int) NodeID {
	d.nodes = append(d.nodes, node{
		left:      NoNode,
		right:     NoNode,
		rowIndex:  rowIndex,
		slot:      len(d.rows),
		leafCount: 1,
		step:      -1,
	})
	d.rows = append(d.rows, row)
	return NodeID(len(d.nodes) - 1)
}

// Merge adds an internal node joining left and right at distance. Its merge
// step is the number of merges made before it.
func (d *Dendrogram) Merge(left, right NodeID, distance float64) NodeID {
	return d.mergeAt(left, right, distance, d.merges)
}

func (d *Dendrogram) mergeAt(left, right NodeID, distance float64, step int) NodeID {
	d.merges++
	d.nodes = append(d.nodes, node{
		left:      left,
		right:     right,
		distance:  distance,
		rowIndex:  -1,
		slot:      -1,
		leafCount: d.nodes[left].leafCount + d.nodes[right].leafCount,
		step:      step,
	})
	return NodeID(len(d.nodes) - 1)
}

// SetRoot marks id as the root of the finished tree.
func (d *Dendrogram) SetRoot(id NodeID) { d.root = id }

// Root returns the root node, if the tree has one.
func (d *Dendrogram) Root() (NodeID, bool) {
	return d.root, d.root != NoNode
}

// Len returns the number of nodes in the arena.
func (d *Dendrogram) Len() int { return len(d.nodes) }

func (d *Dendrogram) IsLeaf(id NodeID) bool { return d.nodes[id].rowIndex >= 0 }

// Left returns the left child, or NoNode for leaves.
func (d *Dendrogram) Left(id NodeID) NodeID { return d.nodes[id].left }

// Right returns the right child, or NoNode for leaves.
func (d *Dendrogram) Right(id NodeID) NodeID { return d.nodes[id].right }

// Distance returns the merge distance of an internal node; 0 for leaves.
func (d *Dendrogram) Distance(id NodeID) float64 { return d.nodes[id].distance }

// RowIndex returns the input position of a leaf; -1 for internal nodes.
func (d *Dendrogram) RowIndex(id NodeID) int { return d.nodes[id].rowIndex }

// MergeStep returns the zero-based position of an internal node in the merge
// sequence; -1 for leaves.
func (d *Dendrogram) MergeStep(id NodeID) int { return d.nodes[id].step }

// LeafCount returns the number of leaves below id (1 for a leaf).
func (d *Dendrogram) LeafCount(id NodeID) int { return d.nodes[id].leafCount }

// Row returns the row wrapped by a leaf.
func (d *Dendrogram) Row(id NodeID) (table.Row, bool) {
	n := d.nodes[id]
	if n.rowIndex < 0 {
		return table.Row{}, false
	}
	return d.rows[n.slot], true
}

// Leaves returns the leaf ids below id from left to right. The traversal
// uses an explicit stack so degenerate, chain-shaped trees do not recurse
// to depth n.
func (d *Dendrogram) Leaves(id NodeID) []NodeID {
	out := make([]NodeID, 0, d.nodes[id].leafCount)
	stack := []NodeID{id}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := d.nodes[top]
		if n.rowIndex >= 0 {
			out = append(out, top)
			continue
		}
		stack = append(stack, n.right, n.left)
	}
	return out
}

// LeafRowIndices returns the input positions of the leaves below id, left to right.
func (d *Dendrogram) LeafRowIndices(id NodeID) []int {
	leaves := d.Leaves(id)
	idx := make([]int, len(leaves))
	for i, l := range leaves {
		idx[i] = d.nodes[l].rowIndex
	}
	return idx
}

// Rows returns the rows of all leaves below id, left to right.
func (d *Dendrogram) Rows(id NodeID) []table.Row {
	leaves := d.Leaves(id)
	rows := make([]table.Row, len(leaves))
	for i, l := range leaves {
		rows[i] = d.rows[d.nodes[l].slot]
	}
	return rows
}
