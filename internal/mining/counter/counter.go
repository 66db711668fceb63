// Package counter computes global item supports and the frequency ranking
// that the rest of the mining pipeline is keyed on.
package counter

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
)

// ErrDuplicateItem is the sentinel wrapped by DuplicateItemError.
var ErrDuplicateItem = errors.New("duplicate item in transaction")

// DuplicateItemError reports a transaction that lists the same item twice.
type DuplicateItemError struct {
	Transaction any
	Item        any
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("%s: item %v repeats in %v", ErrDuplicateItem, e.Item, e.Transaction)
}

func (e *DuplicateItemError) Unwrap() error { return ErrDuplicateItem }

// ItemCount is an item with its global occurrence count.
type ItemCount[T comparable] struct {
	Item  T
	Count int64
}

// Count returns every item occurring in at least minCount transactions,
// sorted by count descending; equal counts are ordered by compare ascending
// so the ranking is reproducible. The position of an item in the result is
// its rank.
//
// partition only spreads the grouped sum over numParts reducers and has no
// effect on the result. A transaction that repeats an item aborts the count
// with a *DuplicateItemError.
func Count[T comparable](
	ctx context.Context,
	transactions dataset.Dataset[[]T],
	minCount int64,
	numParts int,
	partition dataset.Partitioner[T],
	compare func(a, b T) int,
) ([]ItemCount[T], error) {
	ones, err := dataset.FlatMap(ctx, transactions, func(tx []T) ([]dataset.Pair[T, int64], error) {
		if err := Validate(tx); err != nil {
			return nil, err
		}
		out := make([]dataset.Pair[T, int64], len(tx))
		for i, item := range tx {
			out[i] = dataset.Pair[T, int64]{Key: item, Value: 1}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("emitting item occurrences: %w", err)
	}

	sums, err := dataset.ReduceByKey(ctx, ones, numParts, partition, func(a, b int64) int64 { return a + b })
	if err != nil {
		return nil, fmt.Errorf("summing item occurrences: %w", err)
	}

	frequent, err := dataset.Filter(ctx, sums, func(kv dataset.Pair[T, int64]) bool {
		return kv.Value >= minCount
	})
	if err != nil {
		return nil, fmt.Errorf("filtering infrequent items: %w", err)
	}

	gathered := dataset.Collect(frequent)
	ranked := make([]ItemCount[T], len(gathered))
	for i, kv := range gathered {
		ranked[i] = ItemCount[T]{Item: kv.Key, Count: kv.Value}
	}
	slices.SortFunc(ranked, func(a, b ItemCount[T]) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return compare(a.Item, b.Item)
	})
	return ranked, nil
}

// Validate returns a *DuplicateItemError when tx lists an item more than once.
func Validate[T comparable](tx []T) error {
	seen := make(map[T]struct{}, len(tx))
	for _, item := range tx {
		if _, dup := seen[item]; dup {
			return &DuplicateItemError{Transaction: slices.Clone(tx), Item: item}
		}
		seen[item] = struct{}{}
	}
	return nil
}
