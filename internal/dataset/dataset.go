// Package dataset provides an in-process, partitioned collection with the
// data-parallel primitives the mining engine relies on: element-wise
// transforms, filtering, keyed grouped reduction and keyed grouped folds,
// and gathering to a single place. Every operation runs one task per
// partition on a bounded errgroup and fails fast on the first error.
package dataset

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Dataset is an immutable list of partitions. Operations never mutate the
// receiver's partitions; they return a new Dataset.
type Dataset[T any] struct {
	parts       [][]T
	parallelism int
}

// Pair is a keyed record used by the grouped operations.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// FromSlice splits items into numParts contiguous partitions of near-equal
// size. numParts <= 0 selects runtime.GOMAXPROCS(0).
func FromSlice[T any](items []T, numParts int) Dataset[T] {
	if numParts <= 0 {
		numParts = runtime.GOMAXPROCS(0)
	}
	if numParts > len(items) && len(items) > 0 {
		numParts = len(items)
	}
	if len(items) == 0 {
		numParts = 1
	}
	parts := make([][]T, numParts)
	size := len(items) / numParts
	rem := len(items) % numParts
	start := 0
	for i := 0; i < numParts; i++ {
		end := start + size
		if i < rem {
			end++
		}
		parts[i] = items[start:end:end]
		start = end
	}
	return Dataset[T]{parts: parts}
}

// FromPartitions wraps pre-partitioned data. The slices are not copied.
func FromPartitions[T any](parts [][]T) Dataset[T] {
	if len(parts) == 0 {
		parts = [][]T{nil}
	}
	return Dataset[T]{parts: parts}
}

// WithParallelism bounds how many partition tasks run at once. n <= 0
// removes the bound.
func (d Dataset[T]) WithParallelism(n int) Dataset[T] {
	d.parallelism = n
	return d
}

// NumPartitions returns the natural partition count of the dataset.
func (d Dataset[T]) NumPartitions() int {
	return len(d.parts)
}

// Partitions returns the underlying partitions.
func (d Dataset[T]) Partitions() [][]T {
	return d.parts
}

// Count returns the number of elements across all partitions.
func (d Dataset[T]) Count() int64 {
	var n int64
	for _, p := range d.parts {
		n += int64(len(p))
	}
	return n
}

// Collect gathers every element to the caller, partition by partition.
func Collect[T any](d Dataset[T]) []T {
	out := make([]T, 0, d.Count())
	for _, p := range d.parts {
		out = append(out, p...)
	}
	return out
}

// Map applies fn to every element.
func Map[T, U any](ctx context.Context, d Dataset[T], fn func(T) (U, error)) (Dataset[U], error) {
	out := make([][]U, len(d.parts))
	err := forEachPartition(ctx, d.parallelism, len(d.parts), func(ctx context.Context, i int) error {
		res := make([]U, 0, len(d.parts[i]))
		for _, v := range d.parts[i] {
			u, err := fn(v)
			if err != nil {
				return err
			}
			res = append(res, u)
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return Dataset[U]{}, err
	}
	return Dataset[U]{parts: out, parallelism: d.parallelism}, nil
}

// FlatMap applies fn to every element and concatenates the results.
func FlatMap[T, U any](ctx context.Context, d Dataset[T], fn func(T) ([]U, error)) (Dataset[U], error) {
	out := make([][]U, len(d.parts))
	err := forEachPartition(ctx, d.parallelism, len(d.parts), func(ctx context.Context, i int) error {
		var res []U
		for _, v := range d.parts[i] {
			us, err := fn(v)
			if err != nil {
				return err
			}
			res = append(res, us...)
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return Dataset[U]{}, err
	}
	return Dataset[U]{parts: out, parallelism: d.parallelism}, nil
}

// Filter keeps the elements for which keep returns true.
func Filter[T any](ctx context.Context, d Dataset[T], keep func(T) bool) (Dataset[T], error) {
	out := make([][]T, len(d.parts))
	err := forEachPartition(ctx, d.parallelism, len(d.parts), func(ctx context.Context, i int) error {
		res := make([]T, 0, len(d.parts[i]))
		for _, v := range d.parts[i] {
			if keep(v) {
				res = append(res, v)
			}
		}
		out[i] = res
		return nil
	})
	if err != nil {
		return Dataset[T]{}, err
	}
	return Dataset[T]{parts: out, parallelism: d.parallelism}, nil
}

// forEachPartition runs task once per partition index on a bounded errgroup.
// The first error cancels the group's context and is returned.
func forEachPartition(ctx context.Context, limit, n int, task func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			return task(gctx, i)
		})
	}
	return g.Wait()
}
