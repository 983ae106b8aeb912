package dataset

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/defiintel/internal/features"
)

func intPtr(v int) *int { return &v }

func TestAggregator_UnlabeledOnly(t *testing.T) {
	agg := NewAggregator()
	agg.AddSample(features.Vector{"a": 1}, features.Vector{"b": 2}, nil, nil)
	agg.AddSample(features.Vector{"a": 3}, nil, features.Vector{"c": 4}, nil)

	table, labels := agg.TrainingData()
	assert.Nil(t, labels)
	require.Equal(t, []string{"a", "b", "c"}, table.Columns)
	require.Equal(t, 2, table.Len())

	assert.Equal(t, 1.0, table.Rows[0][0])
	assert.Equal(t, 2.0, table.Rows[0][1])
	assert.True(t, math.IsNaN(table.Rows[0][2]))
	assert.True(t, math.IsNaN(table.Rows[1][1]))
}

func TestAggregator_MixedLabels(t *testing.T) {
	agg := NewAggregator()
	agg.AddSample(features.Vector{"a": 1}, nil, nil, intPtr(1))
	agg.AddSample(features.Vector{"a": 2}, nil, nil, nil)
	agg.AddSample(features.Vector{"a": 3}, nil, nil, intPtr(7)) // not validated

	_, labels := agg.TrainingData()
	assert.Equal(t, []int{1, Unlabeled, 7}, labels)
	assert.Equal(t, 2, agg.Labeled())
}

func TestAggregator_LaterSourceOverwrites(t *testing.T) {
	agg := NewAggregator()
	agg.AddSample(
		features.Vector{features.NameUniqueDays: 3},
		features.Vector{features.NameUniqueDays: 9},
		nil, nil,
	)

	table, _ := agg.TrainingData()
	require.Equal(t, []string{features.NameUniqueDays}, table.Columns)
	assert.Equal(t, 9.0, table.Rows[0][0])
}

func TestAggregator_ClearAndEmpty(t *testing.T) {
	agg := NewAggregator()
	agg.AddSample(features.Vector{"a": 1}, nil, nil, intPtr(0))
	assert.Equal(t, 1, agg.Len())

	agg.Clear()
	assert.Equal(t, 0, agg.Len())

	table, labels := agg.TrainingData()
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Columns)
	assert.Nil(t, labels)
}

func TestAggregator_LabelIsCopied(t *testing.T) {
	agg := NewAggregator()
	label := 1
	agg.AddSample(features.Vector{"a": 1}, nil, nil, &label)
	label = 0

	_, labels := agg.TrainingData()
	assert.Equal(t, []int{1}, labels)
}

func TestAggregator_ConcurrentAdds(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.AddSample(features.Vector{"a": float64(i)}, nil, nil, nil)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, agg.Len())
}

func TestTable_Matrix(t *testing.T) {
	table := &Table{
		Columns: []string{"b", "a"},
		Rows: [][]float64{
			{1, math.NaN()},
			{2, 3},
		},
	}

	m := table.Matrix([]string{"a", "b", "missing"})
	assert.Equal(t, [][]float64{{0, 1, 0}, {3, 2, 0}}, m)
	assert.Nil(t, (*Table)(nil).Matrix([]string{"a"}))
}
