package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/defiintel/internal/features"
)

func TestReadJSONL(t *testing.T) {
	input := strings.Join([]string{
		`# exported 2026-01-01`,
		`{"wallet": {"rapid_transactions_ratio": 0.9}, "label": 1}`,
		``,
		`{"token": {"total_transfers": "12"}, "social": {"tweet_volume": 50}, "label": 0}`,
		`{"transactions": [{"timestamp": 1704110400, "type": "TRANSFER", "fee": 0.001}, {"timestamp": 1704110405, "type": "SWAP"}]}`,
		`{"label": null}`,
	}, "\n")

	agg := NewAggregator()
	stats, err := ReadJSONL(strings.NewReader(input), agg)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Lines: 6, Samples: 3, Labeled: 2, Skipped: 3}, stats)
	assert.Equal(t, 3, agg.Len())
	assert.Equal(t, 2, agg.Labeled())

	table, labels := agg.TrainingData()
	require.Equal(t, []int{1, 0, Unlabeled}, labels)

	col := table.ColumnIndex(features.NameTotalTransactions)
	require.GreaterOrEqual(t, col, 0)
	assert.Equal(t, 2.0, table.Rows[2][col])

	col = table.ColumnIndex(features.NameTotalTransfers)
	require.GreaterOrEqual(t, col, 0)
	assert.Equal(t, 12.0, table.Rows[1][col])
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "malformed json", input: "{\"wallet\": {}}\n{oops", wantErr: "line 2"},
		{name: "bad label", input: `{"wallet": {"a": 1}, "label": 2}`, wantErr: "label must be 0, 1 or null"},
		{name: "wallet twice", input: `{"wallet": {"a": 1}, "transactions": []}`, wantErr: "both wallet and transactions"},
		{name: "transfers not array", input: `{"transfers": {"from": "x"}}`, wantErr: "transfers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input), NewAggregator())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadJSONL_NullHistoryIgnored(t *testing.T) {
	agg := NewAggregator()
	stats, err := ReadJSONL(strings.NewReader(`{"wallet": {"a": 1}, "transactions": null}`), agg)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)
}
