package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCandleDerived(t *testing.T) {
	c := Candle{
		Symbol:   "SPY",
		Period:   Period1m,
		OpenTime: 1_700_000_040_000,
		Open:     d("100"),
		High:     d("110"),
		Low:      d("95"),
		Close:    d("104"),
		Volume:   d("5000"),
	}

	assert.True(t, c.IsBullish())
	assert.True(t, c.Body().Equal(d("4")))
	assert.True(t, c.Range().Equal(d("15")))
	assert.True(t, c.UpperWick().Equal(d("6")))
	assert.True(t, c.LowerWick().Equal(d("5")))
	assert.Equal(t, c.OpenTime+60_000, c.CloseTime())

	// body is 4 of a 15 range
	bp, _ := c.BodyPct().Float64()
	assert.InDelta(t, 26.666, bp, 0.01)
}

func TestCandleZeroRange(t *testing.T) {
	c := Candle{Open: d("50"), High: d("50"), Low: d("50"), Close: d("50")}
	assert.True(t, c.BodyPct().IsZero())
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"1m", Period1m, false},
		{"5m", Period5m, false},
		{"1h", Period1h, false},
		{"1d", Period1d, false},
		{"3m", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloseFlags(t *testing.T) {
	f := CloseFlags{Period5m: 1_700_000_000_000}
	assert.True(t, f.Closed(Period5m))
	assert.False(t, f.Closed(Period1h))
	assert.True(t, f.Any())
	assert.False(t, CloseFlags{}.Any())
}
