// Package mining runs Parallel FP-Growth over a partitioned dataset of
// transactions.
//
// A run has two passes. The first counts every item and ranks the frequent
// ones by descending support. The second projects each transaction into at
// most one conditional transaction per partition, folds those into one
// FP-tree per partition and extracts every partition independently. A
// pattern is only ever emitted by the partition that owns its least frequent
// item, so each frequent pattern surfaces exactly once without any
// communication between partitions during extraction.
package mining

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/counter"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/fptree"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/projector"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/tracing"
)

// Engine carries the runtime collaborators of a run. A nil *Engine is valid
// and runs without metrics.
type Engine struct {
	metrics *metrics.Metrics
}

// NewEngine returns an Engine reporting to m, which may be nil.
func NewEngine(m *metrics.Metrics) *Engine {
	return &Engine{metrics: m}
}

func (e *Engine) metricsOrNil() *metrics.Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Result is the outcome of a successful run.
type Result[T comparable] struct {
	Patterns        []FrequentPattern[T]
	FrequentItems   []ItemCount[T]
	NumTransactions int64
	MinCount        int64
	NumPartitions   int
	Duration        time.Duration
}

// Run mines transactions whose items have a natural order, which breaks ties
// between equally frequent items.
func Run[T cmp.Ordered](ctx context.Context, transactions dataset.Dataset[[]T], opts Options) ([]FrequentPattern[T], error) {
	return RunFunc(ctx, transactions, opts, cmp.Compare[T])
}

// RunFunc mines transactions of any comparable item type; compare provides
// the total order used to break ties between equally frequent items.
func RunFunc[T comparable](ctx context.Context, transactions dataset.Dataset[[]T], opts Options, compare func(a, b T) int) ([]FrequentPattern[T], error) {
	res, err := Mine(ctx, nil, transactions, opts, compare)
	if err != nil {
		return nil, err
	}
	return res.Patterns, nil
}

// rankedPattern is a pattern still expressed in ranks, root to leaf.
type rankedPattern struct {
	ranks []fptree.Rank
	count int64
}

// Mine runs the full pipeline and reports run statistics next to the
// patterns. On any error the result is nil: there is no partial output.
func Mine[T comparable](
	ctx context.Context,
	e *Engine,
	transactions dataset.Dataset[[]T],
	opts Options,
	compare func(a, b T) int,
) (*Result[T], error) {
	start := time.Now()
	m := e.metricsOrNil()
	log := logger.FromContext(ctx).With("component", "miner")

	if err := opts.Validate(); err != nil {
		m.ObserveRun(runStatus(err), 0, 0, time.Since(start))
		return nil, err
	}

	res, err := mine(ctx, m, log, transactions, opts, compare)
	if err != nil {
		m.ObserveRun(runStatus(err), transactions.Count(), 0, time.Since(start))
		log.Error("mining run failed", "error", err)
		return nil, err
	}
	res.Duration = time.Since(start)
	m.ObserveRun(runStatus(nil), res.NumTransactions, len(res.FrequentItems), res.Duration)
	log.Info("mining run completed",
		"transactions", res.NumTransactions,
		"min_count", res.MinCount,
		"frequent_items", len(res.FrequentItems),
		"partitions", res.NumPartitions,
		"patterns", len(res.Patterns),
		"ordered", opts.Ordered,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func mine[T comparable](
	ctx context.Context,
	m *metrics.Metrics,
	log *slog.Logger,
	transactions dataset.Dataset[[]T],
	opts Options,
	compare func(a, b T) int,
) (*Result[T], error) {
	n := transactions.Count()
	minCount := MinCount(opts.MinSupport, n)
	numParts := opts.NumPartitions
	if numParts == 0 {
		// The zero Dataset has no partitions.
		numParts = max(1, transactions.NumPartitions())
	}
	partition := RankPartitioner(numParts)
	log.Debug("mining run starting",
		"transactions", n,
		"min_support", opts.MinSupport,
		"min_count", minCount,
		"partitions", numParts,
	)

	// Pass one: global item ranking.
	phaseCtx, span := tracing.StartChildSpan(ctx, "mining.count")
	counted, err := counter.Count(phaseCtx, transactions, minCount, numParts, dataset.HashPartitioner[T](numParts), compare)
	m.ObservePhase("count", span.End())
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	span.SetAttr("frequent_items", len(counted))

	items := make([]ItemCount[T], len(counted))
	itemToRank := make(map[T]fptree.Rank, len(counted))
	for i, ic := range counted {
		items[i] = ItemCount[T]{Item: ic.Item, Count: ic.Count}
		itemToRank[ic.Item] = fptree.Rank(i)
	}
	res := &Result[T]{
		FrequentItems:   items,
		NumTransactions: n,
		MinCount:        minCount,
		NumPartitions:   numParts,
	}
	if len(items) == 0 {
		res.Patterns = []FrequentPattern[T]{}
		return res, nil
	}

	// Pass two: route conditional transactions to their partitions.
	phaseCtx, span = tracing.StartChildSpan(ctx, "mining.project")
	conditional, err := dataset.FlatMap(phaseCtx, transactions, func(tx []T) ([]dataset.Pair[int, []fptree.Rank], error) {
		projected := projector.Project(tx, itemToRank, opts.Ordered, partition)
		out := make([]dataset.Pair[int, []fptree.Rank], 0, len(projected))
		for part, ranks := range projected {
			out = append(out, dataset.Pair[int, []fptree.Rank]{Key: part, Value: ranks})
		}
		return out, nil
	})
	m.ObservePhase("project", span.End())
	if err != nil {
		return nil, fmt.Errorf("projecting transactions: %w", err)
	}

	phaseCtx, span = tracing.StartChildSpan(ctx, "mining.build")
	trees, err := dataset.AggregateByKey(phaseCtx, conditional, numParts,
		func(part int) int { return part },
		fptree.New,
		func(t *fptree.Tree, ranks []fptree.Rank) *fptree.Tree { return t.Add(ranks, 1) },
		fptree.Merge,
	)
	m.ObservePhase("build", span.End())
	if err != nil {
		return nil, fmt.Errorf("building partition trees: %w", err)
	}

	phaseCtx, span = tracing.StartChildSpan(ctx, "mining.extract")
	extracted, err := dataset.FlatMap(phaseCtx, trees, func(kv dataset.Pair[int, *fptree.Tree]) ([]rankedPattern, error) {
		part, tree := kv.Key, kv.Value
		nodes := tree.Size()
		var out []rankedPattern
		for p := range tree.Extract(minCount, func(r fptree.Rank) bool { return partition(r) == part }) {
			ranks := p.Ranks
			slices.Reverse(ranks)
			out = append(out, rankedPattern{ranks: ranks, count: p.Count})
		}
		m.ObservePartition(part, nodes, len(out))
		log.Debug("partition extracted", "partition", part, "tree_nodes", nodes, "patterns", len(out))
		return out, nil
	})
	m.ObservePhase("extract", span.End())
	if err != nil {
		return nil, fmt.Errorf("extracting patterns: %w", err)
	}

	ranked := dataset.Collect(extracted)
	slices.SortFunc(ranked, func(a, b rankedPattern) int {
		if c := cmp.Compare(len(a.ranks), len(b.ranks)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return slices.Compare(a.ranks, b.ranks)
	})

	res.Patterns = make([]FrequentPattern[T], len(ranked))
	for i, rp := range ranked {
		patternItems := make([]T, len(rp.ranks))
		for j, r := range rp.ranks {
			patternItems[j] = items[r].Item
		}
		res.Patterns[i] = FrequentPattern[T]{Items: patternItems, Frequency: rp.count, Ordered: opts.Ordered}
	}
	return res, nil
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrDuplicateItem):
		return "duplicate_item"
	default:
		return "error"
	}
}
