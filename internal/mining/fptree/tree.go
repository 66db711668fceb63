// Package fptree implements the prefix tree used by Parallel FP-Growth.
//
// Nodes live in an arena and refer to each other by index: a node's parent,
// its children (keyed by rank) and the per-rank header table are all int32
// indices into Tree.nodes. Node 0 is the root; it carries no rank and its
// count is the total weight inserted into the tree.
package fptree

import (
	"slices"
)

// Rank is the dense position of a frequent item in the global ranking,
// 0 being the most frequent item.
type Rank int32

const (
	rootIndex int32 = 0
	noParent  int32 = -1
	noRank    Rank  = -1
)

type node struct {
	rank     Rank
	count    int64
	parent   int32
	children map[Rank]int32
}

// Tree is an FP-tree. The zero value is not usable; call New.
//
// A Tree is not safe for concurrent mutation. Trees built by different
// workers are combined with Merge, which never aliases its operands.
type Tree struct {
	nodes  []node
	header map[Rank][]int32
	counts map[Rank]int64
	used   bool
}

// New returns an empty tree holding only the root.
func New() *Tree {
	return &Tree{
		nodes:  []node{{rank: noRank, parent: noParent}},
		header: make(map[Rank][]int32),
		counts: make(map[Rank]int64),
	}
}

// Add inserts a transaction with the given weight. The path is walked in the
// order given: every visited node's count grows by weight and missing nodes
// are created with count = weight.
func (t *Tree) Add(tx []Rank, weight int64) *Tree {
	cur := rootIndex
	t.nodes[cur].count += weight
	for _, r := range tx {
		cur = t.child(cur, r)
		t.nodes[cur].count += weight
		t.counts[r] += weight
	}
	return t
}

// child returns the index of parent's child labelled r, creating it (with a
// zero count) and registering it in the header table when absent.
func (t *Tree) child(parent int32, r Rank) int32 {
	if idx, ok := t.nodes[parent].children[r]; ok {
		return idx
	}
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{rank: r, parent: parent})
	if t.nodes[parent].children == nil {
		t.nodes[parent].children = make(map[Rank]int32, 2)
	}
	t.nodes[parent].children[r] = idx
	t.header[r] = append(t.header[r], idx)
	return idx
}

// Count is the total weight inserted into the tree.
func (t *Tree) Count() int64 {
	return t.nodes[rootIndex].count
}

// Size is the number of non-root nodes.
func (t *Tree) Size() int {
	return len(t.nodes) - 1
}

// RankCount is the summed count of every node labelled r.
func (t *Tree) RankCount(r Rank) int64 {
	return t.counts[r]
}

// Ranks returns the ranks present in the tree, least frequent first.
func (t *Tree) Ranks() []Rank {
	ranks := make([]Rank, 0, len(t.header))
	for r := range t.header {
		ranks = append(ranks, r)
	}
	slices.Sort(ranks)
	slices.Reverse(ranks)
	return ranks
}

// Clone returns a deep copy that shares no memory with t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:  make([]node, len(t.nodes)),
		header: make(map[Rank][]int32, len(t.header)),
		counts: make(map[Rank]int64, len(t.counts)),
		used:   t.used,
	}
	for i, n := range t.nodes {
		c.nodes[i] = node{rank: n.rank, count: n.count, parent: n.parent}
		if len(n.children) > 0 {
			c.nodes[i].children = make(map[Rank]int32, len(n.children))
			for r, idx := range n.children {
				c.nodes[i].children[r] = idx
			}
		}
	}
	for r, idxs := range t.header {
		c.header[r] = slices.Clone(idxs)
	}
	for r, n := range t.counts {
		c.counts[r] = n
	}
	return c
}

// Merge returns a new tree holding the union of a and b: children are matched
// by rank and counts of matching nodes are summed. Neither operand is
// modified. Merge is associative and commutative up to node numbering.
func Merge(a, b *Tree) *Tree {
	if a.Size() < b.Size() {
		a, b = b, a
	}
	return a.Clone().MergeFrom(b)
}

// MergeFrom folds other into t in place and returns t. other is only read.
func (t *Tree) MergeFrom(other *Tree) *Tree {
	if other == t {
		other = other.Clone()
	}
	type frame struct{ dst, src int32 }
	t.nodes[rootIndex].count += other.nodes[rootIndex].count
	stack := []frame{{rootIndex, rootIndex}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for r, srcChild := range other.nodes[f.src].children {
			dstChild := t.child(f.dst, r)
			c := other.nodes[srcChild].count
			t.nodes[dstChild].count += c
			t.counts[r] += c
			stack = append(stack, frame{dstChild, srcChild})
		}
	}
	return t
}

// path returns the ranks on the path from the root down to idx's parent,
// in root-to-leaf order.
func (t *Tree) path(idx int32) []Rank {
	var p []Rank
	for cur := t.nodes[idx].parent; cur != rootIndex && cur != noParent; cur = t.nodes[cur].parent {
		p = append(p, t.nodes[cur].rank)
	}
	slices.Reverse(p)
	return p
}

// Transactions returns every root-to-leaf weighted path stored in the tree.
// A node whose count exceeds the sum of its children's counts also ends a
// path, with the difference as weight.
func (t *Tree) Transactions() []Weighted {
	var out []Weighted
	for idx := int32(1); idx < int32(len(t.nodes)); idx++ {
		n := t.nodes[idx]
		rest := n.count
		for _, c := range n.children {
			rest -= t.nodes[c].count
		}
		if rest > 0 {
			p := append(t.path(idx), n.rank)
			out = append(out, Weighted{Ranks: p, Weight: rest})
		}
	}
	return out
}

// Weighted is a rank sequence carrying a multiplicity.
type Weighted struct {
	Ranks  []Rank
	Weight int64
}
