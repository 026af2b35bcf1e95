package cluster

import (
	"sort"
)

// Cut assigns every leaf below root to one of k clusters by replaying the
// tree's merges from the lowest height up and stopping k clusters short of
// the root. The result is indexed by row index; cluster ids are numbered by
// first appearance in row order. Ties in height are replayed in merge step
// order, which SaveDendrogram keeps, so a loaded tree cuts like the original.
//
// If k exceeds the number of leaves the cut falls back to the final state,
// one cluster, as Cluster does; k <= 1 also puts every leaf in one cluster.
func Cut(d *Dendrogram, root NodeID, k int) []int {
	if root == NoNode {
		return nil
	}

	merges := internalNodes(d, root)
	heights := make(map[NodeID]float64, len(merges))
	sort.Slice(merges, func(a, b int) bool { return merges[a] < merges[b] })
	for _, id := range merges {
		h := d.Distance(id)
		for _, c := range []NodeID{d.Left(id), d.Right(id)} {
			if ch, ok := heights[c]; ok && ch > h {
				h = ch
			}
		}
		heights[id] = h
	}
	sort.SliceStable(merges, func(a, b int) bool {
		ha, hb := heights[merges[a]], heights[merges[b]]
		if ha != hb {
			return ha < hb
		}
		return d.MergeStep(merges[a]) < d.MergeStep(merges[b])
	})

	leaves := d.Leaves(root)
	steps := len(leaves) - k
	if k <= 1 || k > len(leaves) {
		steps = len(merges)
	}

	labels := make([]int, d.Len())
	for i := range labels {
		labels[i] = i
	}
	for _, id := range merges[:steps] {
		labelA := find(labels, int(d.Left(id)))
		labels[id] = labelA
		setLabel(labels, int(d.Right(id)), labelA)
	}

	maxRow := -1
	for _, l := range leaves {
		if r := d.RowIndex(l); r > maxRow {
			maxRow = r
		}
	}
	byRow := make([]NodeID, maxRow+1)
	for i := range byRow {
		byRow[i] = NoNode
	}
	for _, l := range leaves {
		byRow[d.RowIndex(l)] = l
	}

	assignments := make([]int, len(byRow))
	labelMap := make(map[int]int)
	nextID := 0
	for row, l := range byRow {
		if l == NoNode {
			assignments[row] = -1
			continue
		}
		top := find(labels, int(l))
		if _, ok := labelMap[top]; !ok {
			labelMap[top] = nextID
			nextID++
		}
		assignments[row] = labelMap[top]
	}
	return assignments
}

// internalNodes lists the internal nodes below root.
func internalNodes(d *Dendrogram, root NodeID) []NodeID {
	var out []NodeID
	stack := []NodeID{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if d.IsLeaf(top) {
			continue
		}
		out = append(out, top)
		stack = append(stack, d.Left(top), d.Right(top))
	}
	return out
}

// find resolves the root label for a node.
func find(labels []int, i int) int {
	for labels[i] != i {
		labels[i] = labels[labels[i]] // path compression
		i = labels[i]
	}
	return i
}

// setLabel sets all nodes on the label chain of b to label.
func setLabel(labels []int, b, label int) {
	for labels[b] != b {
		next := labels[b]
		labels[b] = label
		b = next
	}
	labels[b] = label
}
