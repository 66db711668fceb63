package mining

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/fptree"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
)

var scenario = [][]string{
	{"a", "b", "c"},
	{"a", "b"},
	{"a", "c", "d"},
	{"a", "b", "c", "d"},
	{"a"},
}

func TestRunScenario(t *testing.T) {
	for parts := 1; parts <= 5; parts++ {
		t.Run(fmt.Sprintf("partitions_%d", parts), func(t *testing.T) {
			got, err := Run(context.Background(), dataset.FromSlice(scenario, 2), Options{MinSupport: 0.6, NumPartitions: parts})
			require.NoError(t, err)
			assert.Equal(t, []FrequentPattern[string]{
				{Items: []string{"a"}, Frequency: 5},
				{Items: []string{"b"}, Frequency: 3},
				{Items: []string{"c"}, Frequency: 3},
				{Items: []string{"a", "b"}, Frequency: 3},
				{Items: []string{"a", "c"}, Frequency: 3},
			}, got)
		})
	}
}

func TestMineReportsStatistics(t *testing.T) {
	res, err := Mine(context.Background(), nil, dataset.FromSlice(scenario, 3), Options{MinSupport: 0.6}, strings.Compare)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.NumTransactions)
	assert.Equal(t, int64(3), res.MinCount)
	assert.Equal(t, 3, res.NumPartitions, "defaults to the natural partition count")
	assert.Equal(t, []ItemCount[string]{{"a", 5}, {"b", 3}, {"c", 3}}, res.FrequentItems)
	assert.Len(t, res.Patterns, 5)
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	data := dataset.FromSlice(scenario, 1)
	for _, opts := range []Options{
		{MinSupport: 0},
		{MinSupport: -0.5},
		{MinSupport: 1.01},
		{MinSupport: 0.5, NumPartitions: -1},
	} {
		got, err := Run(context.Background(), data, opts)
		require.ErrorIs(t, err, ErrInvalidConfig, "%+v", opts)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Nil(t, got)
	}
}

func TestRunRejectsDuplicateItems(t *testing.T) {
	data := dataset.FromSlice([][]string{{"a", "b"}, {"b", "a", "b"}}, 2)
	for _, ordered := range []bool{false, true} {
		got, err := Run(context.Background(), data, Options{MinSupport: 0.5, Ordered: ordered})
		require.ErrorIs(t, err, ErrDuplicateItem)
		var dup *DuplicateItemError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "b", dup.Item)
		assert.Nil(t, got)
	}
}

func TestRunEmptyInput(t *testing.T) {
	got, err := Run(context.Background(), dataset.FromSlice([][]string{}, 4), Options{MinSupport: 0.5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunSupportOfOne(t *testing.T) {
	got, err := Run(context.Background(), dataset.FromSlice(scenario, 2), Options{MinSupport: 1})
	require.NoError(t, err)
	assert.Equal(t, []FrequentPattern[string]{{Items: []string{"a"}, Frequency: 5}}, got)
}

func TestRunSequences(t *testing.T) {
	data := dataset.FromSlice([][]string{
		{"a", "b", "c"},
		{"b", "a", "c"},
		{"a", "c", "b"},
	}, 2)
	got, err := Run(context.Background(), data, Options{MinSupport: 0.6, NumPartitions: 3, Ordered: true})
	require.NoError(t, err)

	keys := make(map[string]int64)
	for _, p := range got {
		assert.True(t, p.Ordered)
		keys[strings.Join(p.Items, "")] = p.Frequency
	}
	assert.Equal(t, map[string]int64{
		"a": 3, "b": 3, "c": 3,
		"ab": 2, "ac": 3, "bc": 2,
	}, keys)
}

func TestRunLongSequencesKeepTransactionOrder(t *testing.T) {
	tests := []struct {
		name string
		txs  [][]string
		want map[string]int64
	}{
		{
			name: "single reversed transaction",
			txs:  [][]string{{"c", "b", "a"}},
			want: map[string]int64{
				"a": 1, "b": 1, "c": 1,
				"ba": 1, "ca": 1, "cb": 1,
				"cba": 1,
			},
		},
		{
			name: "opposing orders",
			txs:  [][]string{{"a", "b", "c"}, {"c", "b"}},
			want: map[string]int64{
				"a": 1, "b": 2, "c": 2,
				"ab": 1, "ac": 1, "bc": 1, "cb": 1,
				"abc": 1,
			},
		},
	}
	for _, tt := range tests {
		for parts := 1; parts <= 3; parts++ {
			t.Run(fmt.Sprintf("%s/partitions_%d", tt.name, parts), func(t *testing.T) {
				support := 1 / float64(len(tt.txs))
				got, err := Run(context.Background(), dataset.FromSlice(tt.txs, 1), Options{
					MinSupport:    support,
					NumPartitions: parts,
					Ordered:       true,
				})
				require.NoError(t, err)
				assert.Equal(t, tt.want, patternKeys(t, got))
			})
		}
	}
}

func TestRunItemsetsListMostFrequentFirst(t *testing.T) {
	txs := [][]string{{"d", "c", "b", "a"}, {"c", "a", "b"}, {"b", "a"}, {"a"}}
	for parts := 1; parts <= 3; parts++ {
		got, err := Run(context.Background(), dataset.FromSlice(txs, 2), Options{MinSupport: 0.25, NumPartitions: parts})
		require.NoError(t, err)
		require.Len(t, got, 15)

		// a, b, c and d are ranked by descending count, which here is
		// alphabetical order.
		for _, p := range got {
			assert.True(t, slices.IsSorted(p.Items), "partitions=%d pattern %s", parts, p)
		}
		assert.Contains(t, got, FrequentPattern[string]{Items: []string{"a", "b", "c"}, Frequency: 2})
		assert.Equal(t, FrequentPattern[string]{Items: []string{"a", "b", "c", "d"}, Frequency: 1}, got[len(got)-1])
	}
}

func TestRunZeroDataset(t *testing.T) {
	res, err := Mine(context.Background(), nil, dataset.Dataset[[]string]{}, Options{MinSupport: 0.5}, strings.Compare)
	require.NoError(t, err)
	assert.Empty(t, res.Patterns)
	assert.Equal(t, int64(0), res.NumTransactions)
	assert.Equal(t, 1, res.NumPartitions)
}

func TestNegativePartitionsMessage(t *testing.T) {
	err := Options{MinSupport: 0.5, NumPartitions: -2}.Validate()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "NumPartitions", cfgErr.Field)
	assert.Equal(t, "must not be negative", cfgErr.Reason)
	assert.NoError(t, Options{MinSupport: 0.5}.Validate())
}

func TestMinCount(t *testing.T) {
	assert.Equal(t, int64(3), MinCount(0.6, 5))
	assert.Equal(t, int64(7), MinCount(0.7, 10))
	assert.Equal(t, int64(1), MinCount(0.01, 5))
	assert.Equal(t, int64(34), MinCount(1.0/3, 100))
	assert.Equal(t, int64(0), MinCount(0.5, 0))
}

func TestRankPartitionerIsStable(t *testing.T) {
	p := RankPartitioner(7)
	for r := range 100 {
		got := p(fptree.Rank(r))
		assert.Equal(t, got, RankPartitioner(7)(fptree.Rank(r)))
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, 7)
	}
}

func TestMineRecordsMetrics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	_, err := Mine(context.Background(), NewEngine(m), dataset.FromSlice(scenario, 2), Options{MinSupport: 0.6}, strings.Compare)
	require.NoError(t, err)
	_, err = Mine(context.Background(), NewEngine(m), dataset.FromSlice(scenario, 2), Options{MinSupport: 2}, strings.Compare)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MiningRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MiningRunsTotal.WithLabelValues("invalid_config")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FrequentItems))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TransactionsProcessed))
}

// ---------------------------------------------------------------------------
// Properties checked against a brute-force oracle
// ---------------------------------------------------------------------------

const universe = "abcdefg"

func randomTransactions(rng *rand.Rand, n int) [][]string {
	txs := make([][]string, n)
	for i := range txs {
		var tx []string
		for _, c := range universe {
			// Skew towards the front of the alphabet so supports differ.
			if rng.Float64() < 0.75-float64(c-'a')*0.08 {
				tx = append(tx, string(c))
			}
		}
		rng.Shuffle(len(tx), func(a, b int) { tx[a], tx[b] = tx[b], tx[a] })
		txs[i] = tx
	}
	return txs
}

func containsAll(tx, items []string) bool {
	for _, it := range items {
		if !slices.Contains(tx, it) {
			return false
		}
	}
	return true
}

func isSubsequence(tx, seq []string) bool {
	i := 0
	for _, it := range tx {
		if i < len(seq) && it == seq[i] {
			i++
		}
	}
	return i == len(seq)
}

func bruteForceItemsets(txs [][]string, minCount int64) map[string]int64 {
	out := make(map[string]int64)
	for mask := 1; mask < 1<<len(universe); mask++ {
		var items []string
		for i, c := range universe {
			if mask&(1<<i) != 0 {
				items = append(items, string(c))
			}
		}
		var n int64
		for _, tx := range txs {
			if containsAll(tx, items) {
				n++
			}
		}
		if n >= minCount {
			out[strings.Join(items, "")] = n
		}
	}
	return out
}

func bruteForceSequences(txs [][]string, minCount int64) map[string]int64 {
	out := make(map[string]int64)
	var grow func(seq []string)
	grow = func(seq []string) {
		for _, c := range universe {
			if slices.Contains(seq, string(c)) {
				continue
			}
			next := append(slices.Clone(seq), string(c))
			var n int64
			for _, tx := range txs {
				if isSubsequence(tx, next) {
					n++
				}
			}
			if n >= minCount {
				out[strings.Join(next, "")] = n
				grow(next)
			}
		}
	}
	grow(nil)
	return out
}

func patternKeys(t *testing.T, patterns []FrequentPattern[string]) map[string]int64 {
	t.Helper()
	out := make(map[string]int64, len(patterns))
	for _, p := range patterns {
		items := slices.Clone(p.Items)
		if !p.Ordered {
			slices.Sort(items)
		}
		key := strings.Join(items, "")
		_, dup := out[key]
		require.False(t, dup, "pattern %s emitted more than once", p)
		out[key] = p.Frequency
	}
	return out
}

func TestRunMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 6 {
		txs := randomTransactions(rng, 20+round*7)
		for _, ordered := range []bool{false, true} {
			for _, support := range []float64{0.05, 0.2, 0.35, 0.5} {
				parts := 1 + round%4
				name := fmt.Sprintf("round%d/ordered=%v/support=%.2f/parts=%d", round, ordered, support, parts)
				t.Run(name, func(t *testing.T) {
					got, err := Run(context.Background(), dataset.FromSlice(txs, 3), Options{
						MinSupport:    support,
						NumPartitions: parts,
						Ordered:       ordered,
					})
					require.NoError(t, err)

					minCount := MinCount(support, int64(len(txs)))
					want := bruteForceItemsets(txs, minCount)
					if ordered {
						want = bruteForceSequences(txs, minCount)
					}
					assert.Equal(t, want, patternKeys(t, got))
				})
			}
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	txs := randomTransactions(rand.New(rand.NewPCG(1, 2)), 40)
	first, err := Run(context.Background(), dataset.FromSlice(txs, 4), Options{MinSupport: 0.25, NumPartitions: 3})
	require.NoError(t, err)
	for range 5 {
		again, err := Run(context.Background(), dataset.FromSlice(txs, 4), Options{MinSupport: 0.25, NumPartitions: 3})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRunIsMonotoneInSupport(t *testing.T) {
	txs := randomTransactions(rand.New(rand.NewPCG(3, 4)), 50)
	low, err := Run(context.Background(), dataset.FromSlice(txs, 2), Options{MinSupport: 0.2, NumPartitions: 4})
	require.NoError(t, err)
	high, err := Run(context.Background(), dataset.FromSlice(txs, 2), Options{MinSupport: 0.4, NumPartitions: 4})
	require.NoError(t, err)

	lowKeys := patternKeys(t, low)
	for key, freq := range patternKeys(t, high) {
		assert.Equal(t, freq, lowKeys[key], "pattern %s", key)
	}
	assert.Greater(t, len(lowKeys), len(high))
}

func TestRunSingleItemsMatchRawCounts(t *testing.T) {
	txs := randomTransactions(rand.New(rand.NewPCG(5, 6)), 30)
	got, err := Run(context.Background(), dataset.FromSlice(txs, 3), Options{MinSupport: 0.3, NumPartitions: 2})
	require.NoError(t, err)

	minCount := MinCount(0.3, int64(len(txs)))
	raw := make(map[string]int64)
	for _, tx := range txs {
		for _, it := range tx {
			raw[it]++
		}
	}
	want := make(map[string]int64)
	for it, n := range raw {
		if n >= minCount {
			want[it] = n
		}
	}
	singles := make(map[string]int64)
	for _, p := range got {
		if len(p.Items) == 1 {
			singles[p.Items[0]] = p.Frequency
		}
	}
	assert.Equal(t, want, singles)
}
