package feed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
)

func minuteBar(symbol string, ts int64, close string) market.Candle {
	px := decimal.RequireFromString(close)
	return market.Candle{
		Symbol:   symbol,
		Period:   market.Period1m,
		OpenTime: ts,
		Open:     px,
		High:     px,
		Low:      px,
		Close:    px,
		Volume:   decimal.NewFromInt(100),
	}
}

func TestDatasetTimelineIsUnionOfSymbols(t *testing.T) {
	ds, err := NewDataset(map[string][]market.Candle{
		"BBB": {minuteBar("BBB", tsMin(1), "20"), minuteBar("BBB", tsMin(2), "21")},
		"AAA": {minuteBar("AAA", tsMin(0), "10"), minuteBar("AAA", tsMin(1), "11")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA", "BBB"}, ds.Symbols())
	assert.Equal(t, []int64{tsMin(0), tsMin(1), tsMin(2)}, ds.Timeline())
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, tsMin(0), ds.From())
	assert.Equal(t, tsMin(2), ds.To())

	only := ds.At(tsMin(0))
	require.Len(t, only, 1)
	assert.Contains(t, only, "AAA")

	both := ds.At(tsMin(1))
	require.Len(t, both, 2)
	assert.True(t, both["AAA"].Close.Equal(decimal.RequireFromString("11")))
	assert.True(t, both["BBB"].Close.Equal(decimal.RequireFromString("20")))

	assert.Nil(t, ds.At(tsMin(9)))
}

func TestDatasetRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		bySymbol map[string][]market.Candle
		wantErr  string
	}{
		{
			name:     "no symbols",
			bySymbol: map[string][]market.Candle{},
			wantErr:  "no symbols",
		},
		{
			name:     "empty series",
			bySymbol: map[string][]market.Candle{"AAA": {}},
			wantErr:  "empty series",
		},
		{
			name: "out of order",
			bySymbol: map[string][]market.Candle{
				"AAA": {minuteBar("AAA", tsMin(1), "10"), minuteBar("AAA", tsMin(0), "11")},
			},
			wantErr: "out of order",
		},
		{
			name: "duplicate timestamp",
			bySymbol: map[string][]market.Candle{
				"AAA": {minuteBar("AAA", tsMin(0), "10"), minuteBar("AAA", tsMin(0), "11")},
			},
			wantErr: "out of order",
		},
		{
			name: "wrong period",
			bySymbol: map[string][]market.Candle{
				"AAA": {{Symbol: "AAA", Period: market.Period5m, OpenTime: tsMin(0)}},
			},
			wantErr: "want 1m",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDataset(tt.bySymbol)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatasetChecksum(t *testing.T) {
	build := func(close string) *Dataset {
		ds, err := NewDataset(map[string][]market.Candle{
			"AAA": {minuteBar("AAA", tsMin(0), "10"), minuteBar("AAA", tsMin(1), close)},
			"BBB": {minuteBar("BBB", tsMin(0), "20")},
		})
		require.NoError(t, err)
		return ds
	}

	a := build("11")
	b := build("11")
	c := build("11.5")

	assert.Equal(t, a.Checksum(), b.Checksum())
	assert.NotEqual(t, a.Checksum(), c.Checksum())
	assert.Len(t, a.Checksum(), 64)
}
