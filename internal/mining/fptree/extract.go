package fptree

import (
	"iter"
	"slices"
)

// Pattern is a frequent rank sequence in leaf-to-root order together with
// the number of transactions that contain it.
type Pattern struct {
	Ranks []Rank
	Count int64
}

// Extract lazily yields every pattern of the tree whose count is at least
// minCount. At the top level only ranks for which owns returns true are
// expanded; a nil owns accepts every rank. Below the top level every rank of
// a conditional tree is expanded.
//
// Ranks are visited least frequent first and the search is depth first,
// driven by an explicit stack so pattern length is not bounded by the
// goroutine stack. Extract consumes the tree: ranging over a second returned
// sequence, or over the same sequence again, yields nothing.
//
// Each yielded Pattern.Ranks is a fresh slice owned by the caller, which may
// modify or retain it.
func (t *Tree) Extract(minCount int64, owns func(Rank) bool) iter.Seq[Pattern] {
	return func(yield func(Pattern) bool) {
		if t.used {
			return
		}
		t.used = true

		type frame struct {
			tree   *Tree
			suffix []Rank
			ranks  []Rank
			next   int
		}
		stack := []*frame{{tree: t, ranks: t.Ranks()}}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			if f.next >= len(f.ranks) {
				stack = stack[:len(stack)-1]
				continue
			}
			r := f.ranks[f.next]
			f.next++

			top := len(stack) == 1
			if top && owns != nil && !owns(r) {
				continue
			}
			count := f.tree.RankCount(r)
			if count < minCount {
				continue
			}
			suffix := append(slices.Clone(f.suffix), r)
			if !yield(Pattern{Ranks: slices.Clone(suffix), Count: count}) {
				return
			}
			cond := f.tree.conditional(r, minCount)
			if cond.Size() > 0 {
				stack = append(stack, &frame{tree: cond, suffix: suffix, ranks: cond.Ranks()})
			}
		}
	}
}

// conditional builds the conditional FP-tree of r: every root-to-node path
// ending at a node labelled r, without r itself, weighted by that node's
// count. Ranks whose total weight in the pattern base is below minCount
// cannot extend a frequent pattern and are left out.
func (t *Tree) conditional(r Rank, minCount int64) *Tree {
	idxs := t.header[r]
	base := make([]Weighted, 0, len(idxs))
	support := make(map[Rank]int64)
	for _, idx := range idxs {
		p := t.path(idx)
		if len(p) == 0 {
			continue
		}
		w := t.nodes[idx].count
		base = append(base, Weighted{Ranks: p, Weight: w})
		for _, q := range p {
			support[q] += w
		}
	}

	cond := New()
	for _, b := range base {
		kept := b.Ranks[:0]
		for _, q := range b.Ranks {
			if support[q] >= minCount {
				kept = append(kept, q)
			}
		}
		if len(kept) > 0 {
			cond.Add(kept, b.Weight)
		}
	}
	return cond
}
