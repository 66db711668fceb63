// Package projector turns a raw transaction into the conditional
// transactions that route mining work to partitions.
package projector

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/fptree"
)

// Project drops the items that have no rank, replaces the survivors with
// their ranks and assigns at most one conditional transaction to each
// partition: the longest prefix of the filtered transaction whose last rank
// routes to that partition.
//
// In unordered mode the filtered ranks are sorted ascending so the most
// frequent item comes first. In ordered mode the original relative order is
// kept, which turns itemset mining into sequence mining.
//
// The returned prefixes share one backing array and must be treated as
// read-only.
func Project[T comparable](
	tx []T,
	itemToRank map[T]fptree.Rank,
	ordered bool,
	partition func(fptree.Rank) int,
) map[int][]fptree.Rank {
	filtered := make([]fptree.Rank, 0, len(tx))
	for _, item := range tx {
		if r, ok := itemToRank[item]; ok {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if !ordered {
		slices.Sort(filtered)
	}

	out := make(map[int][]fptree.Rank)
	for i := len(filtered) - 1; i >= 0; i-- {
		target := partition(filtered[i])
		if _, seen := out[target]; !seen {
			out[target] = filtered[: i+1 : i+1]
		}
	}
	return out
}
