package dataset

import (
	"context"
	"fmt"
	"hash/maphash"
)

// Partitioner routes a key to a partition in [0, numParts).
type Partitioner[K comparable] func(key K) int

// HashPartitioner balances arbitrary comparable keys across numParts
// partitions. The seed is per process, so routing is stable within a run
// but not across runs; use it only where placement does not affect results.
func HashPartitioner[K comparable](numParts int) Partitioner[K] {
	seed := maphash.MakeSeed()
	return func(key K) int {
		return int(maphash.Comparable(seed, key) % uint64(numParts))
	}
}

// ReduceByKey groups pairs by key and folds the values of each key with
// reduce, which must be associative and commutative. Values are combined
// locally inside each input partition before the shuffle.
func ReduceByKey[K comparable, V any](
	ctx context.Context,
	d Dataset[Pair[K, V]],
	numParts int,
	partition Partitioner[K],
	reduce func(V, V) V,
) (Dataset[Pair[K, V]], error) {
	return CombineByKey(ctx, d, numParts, partition,
		func(v V) V { return v },
		reduce,
		reduce,
	)
}

// AggregateByKey groups pairs by key and folds each group into an
// accumulator: zero creates a fresh accumulator, seq folds one value into a
// locally owned accumulator, and comb merges two accumulators built by
// different tasks. comb must be associative and commutative.
func AggregateByKey[K comparable, V, A any](
	ctx context.Context,
	d Dataset[Pair[K, V]],
	numParts int,
	partition Partitioner[K],
	zero func() A,
	seq func(A, V) A,
	comb func(A, A) A,
) (Dataset[Pair[K, A]], error) {
	return CombineByKey(ctx, d, numParts, partition,
		func(v V) A { return seq(zero(), v) },
		seq,
		comb,
	)
}

// CombineByKey is the general keyed grouping primitive. create turns the
// first value seen for a key inside a task into an accumulator, mergeValue
// folds further values into it, and mergeCombiners joins accumulators from
// different tasks after the shuffle barrier.
//
// An accumulator is owned by exactly one task until it crosses the barrier;
// from then on it is only passed to mergeCombiners.
func CombineByKey[K comparable, V, A any](
	ctx context.Context,
	d Dataset[Pair[K, V]],
	numParts int,
	partition Partitioner[K],
	create func(V) A,
	mergeValue func(A, V) A,
	mergeCombiners func(A, A) A,
) (Dataset[Pair[K, A]], error) {
	if numParts <= 0 {
		return Dataset[Pair[K, A]]{}, fmt.Errorf("combine by key: invalid partition count %d", numParts)
	}

	// buckets[input][target] holds the map-side partial aggregates.
	buckets := make([][]map[K]A, len(d.parts))
	err := forEachPartition(ctx, d.parallelism, len(d.parts), func(ctx context.Context, i int) error {
		local := make([]map[K]A, numParts)
		for _, kv := range d.parts[i] {
			target := partition(kv.Key)
			if target < 0 || target >= numParts {
				return fmt.Errorf("partitioner routed key to %d, want [0,%d)", target, numParts)
			}
			if local[target] == nil {
				local[target] = make(map[K]A)
			}
			if acc, ok := local[target][kv.Key]; ok {
				local[target][kv.Key] = mergeValue(acc, kv.Value)
			} else {
				local[target][kv.Key] = create(kv.Value)
			}
		}
		buckets[i] = local
		return nil
	})
	if err != nil {
		return Dataset[Pair[K, A]]{}, fmt.Errorf("map-side combine: %w", err)
	}

	out := make([][]Pair[K, A], numParts)
	err = forEachPartition(ctx, d.parallelism, numParts, func(ctx context.Context, j int) error {
		merged := make(map[K]A)
		for i := range buckets {
			for k, acc := range buckets[i][j] {
				if prev, ok := merged[k]; ok {
					merged[k] = mergeCombiners(prev, acc)
				} else {
					merged[k] = acc
				}
			}
		}
		res := make([]Pair[K, A], 0, len(merged))
		for k, acc := range merged {
			res = append(res, Pair[K, A]{Key: k, Value: acc})
		}
		out[j] = res
		return nil
	})
	if err != nil {
		return Dataset[Pair[K, A]]{}, fmt.Errorf("reduce-side combine: %w", err)
	}
	return Dataset[Pair[K, A]]{parts: out, parallelism: d.parallelism}, nil
}
