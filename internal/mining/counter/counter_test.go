package counter

import (
	"cmp"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/dataset"
)

func sample() dataset.Dataset[[]string] {
	return dataset.FromSlice([][]string{
		{"a", "b", "c"},
		{"a", "b"},
		{"a", "c", "d"},
		{"a", "b", "c", "d"},
		{"a"},
	}, 2)
}

func TestCountRanksByFrequency(t *testing.T) {
	got, err := Count(context.Background(), sample(), 3, 2, dataset.HashPartitioner[string](2), cmp.Compare[string])
	require.NoError(t, err)
	assert.Equal(t, []ItemCount[string]{
		{Item: "a", Count: 5},
		{Item: "b", Count: 3},
		{Item: "c", Count: 3},
	}, got)
}

func TestCountTieBreakIsDeterministic(t *testing.T) {
	data := dataset.FromSlice([][]string{{"z", "y", "x"}, {"x", "y", "z"}}, 2)
	for range 10 {
		got, err := Count(context.Background(), data, 1, 3, dataset.HashPartitioner[string](3), cmp.Compare[string])
		require.NoError(t, err)
		assert.Equal(t, []ItemCount[string]{{"x", 2}, {"y", 2}, {"z", 2}}, got)
	}
}

func TestCountPartitionerDoesNotAffectResult(t *testing.T) {
	one, err := Count(context.Background(), sample(), 1, 1, func(string) int { return 0 }, cmp.Compare[string])
	require.NoError(t, err)
	many, err := Count(context.Background(), sample(), 1, 7, dataset.HashPartitioner[string](7), cmp.Compare[string])
	require.NoError(t, err)
	assert.Equal(t, one, many)
	assert.Len(t, one, 4)
}

func TestCountRejectsDuplicates(t *testing.T) {
	data := dataset.FromSlice([][]string{{"a", "b"}, {"c", "a", "c"}}, 2)
	got, err := Count(context.Background(), data, 1, 2, dataset.HashPartitioner[string](2), cmp.Compare[string])
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrDuplicateItem))

	var dup *DuplicateItemError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "c", dup.Item)
	assert.Equal(t, []string{"c", "a", "c"}, dup.Transaction)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]int{1, 2, 3}))
	assert.NoError(t, Validate([]int{}))
	assert.ErrorIs(t, Validate([]int{1, 2, 1}), ErrDuplicateItem)
}
