// Package benchmark measures the mining pipeline on synthetic baskets.
//
// Run with:
//
//	go test -bench=. -benchmem ./test/benchmark/...
package benchmark

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/fptree"
)

// baskets generates n market-basket transactions over a Zipf-distributed
// catalogue, so a handful of items are frequent and the tail is sparse.
func baskets(n, catalogue, maxLen int) [][]string {
	r := rand.New(rand.NewPCG(42, 1))
	zipf := rand.NewZipf(r, 1.2, 1, uint64(catalogue-1))
	txs := make([][]string, n)
	for i := range txs {
		seen := make(map[uint64]bool)
		size := 1 + r.IntN(maxLen)
		tx := make([]string, 0, size)
		for len(tx) < size {
			id := zipf.Uint64()
			if seen[id] {
				if len(seen) >= catalogue {
					break
				}
				continue
			}
			seen[id] = true
			tx = append(tx, fmt.Sprintf("item-%04d", id))
		}
		txs[i] = tx
	}
	return txs
}

// BenchmarkMine measures an end-to-end run for different partition counts.
func BenchmarkMine(b *testing.B) {
	txs := baskets(20_000, 500, 12)
	for _, parts := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("partitions_%d", parts), func(b *testing.B) {
			data := dataset.FromSlice(txs, parts)
			opts := mining.Options{MinSupport: 0.02, NumPartitions: parts}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := mining.Run(context.Background(), data, opts); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMineSupport measures how the support threshold drives the size
// of the search space.
func BenchmarkMineSupport(b *testing.B) {
	txs := baskets(10_000, 300, 10)
	data := dataset.FromSlice(txs, 8)
	for _, support := range []float64{0.2, 0.05, 0.01} {
		for _, ordered := range []bool{false, true} {
			b.Run(fmt.Sprintf("support_%g/ordered_%t", support, ordered), func(b *testing.B) {
				opts := mining.Options{MinSupport: support, Ordered: ordered}
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := mining.Run(context.Background(), data, opts); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkTreeBuild measures inserting rank prefixes into an FP-tree.
func BenchmarkTreeBuild(b *testing.B) {
	r := rand.New(rand.NewPCG(7, 7))
	prefixes := make([][]fptree.Rank, 5000)
	for i := range prefixes {
		p := make([]fptree.Rank, 1+r.IntN(8))
		for j := range p {
			p[j] = fptree.Rank(r.IntN(64))
		}
		prefixes[i] = p
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		t := fptree.New()
		for _, p := range prefixes {
			t.Add(p, 1)
		}
	}
}
