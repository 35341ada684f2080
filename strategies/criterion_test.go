package strategies

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
)

// 2024-01-08 00:00 UTC
const stratBase int64 = 1_704_672_000_000

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func minAt(i int) int64 { return stratBase + int64(i)*60_000 }

func bar1m(i int, o, h, l, c, v string) market.Candle {
	return market.Candle{
		Symbol:   "AAPL",
		Period:   market.Period1m,
		OpenTime: minAt(i),
		Open:     d(o),
		High:     d(h),
		Low:      d(l),
		Close:    d(c),
		Volume:   d(v),
	}
}

// histStub serves fixed per-period history regardless of symbol.
type histStub map[market.Period][]market.Candle

func (h histStub) History(_ string, p market.Period) []market.Candle { return h[p] }

// flat1m returns n quiet bars with lows at exactly "low".
func flat1m(n int, low string) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, bar1m(i, "100.4", "100.5", low, "100.3", "1000"))
	}
	return out
}

func TestBuildCriteriaRejectsUnknownName(t *testing.T) {
	_, err := buildCriteria([]string{SignalLiquiditySweep, "fibonacci-cluster"}, DefaultTuning())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCriterion)

	crit, err := buildCriteria(allCriteria, DefaultTuning())
	require.NoError(t, err)
	assert.Len(t, crit, len(allCriteria))
}

func TestSweepCriterion(t *testing.T) {
	c := sweepCriterion{lookback: 20}

	hammer := bar1m(20, "100.20", "100.30", "99.00", "100.25", "2000")
	tests := []struct {
		name string
		side market.Side
		bar  market.Candle
		lows string
		want bool
	}{
		{"long sweep and reclaim", market.SideLong, hammer, "100.00", true},
		{"no undercut", market.SideLong, hammer, "98.00", false},
		{"undercut without reclaim", market.SideLong,
			bar1m(20, "100.20", "100.30", "99.00", "99.50", "2000"), "100.00", false},
		{"short sweep and reject", market.SideShort,
			bar1m(20, "100.30", "101.50", "100.20", "100.25", "2000"), "100.00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minutes := flat1m(20, tt.lows)
			minutes = append(minutes, tt.bar)
			in := checkInput{side: tt.side, bar: tt.bar, history: histStub{market.Period1m: minutes}}
			assert.Equal(t, tt.want, c.met(in))
		})
	}
}

func TestSweepCriterionNeedsPriorBars(t *testing.T) {
	c := sweepCriterion{lookback: 20}
	bar := bar1m(0, "100.20", "100.30", "99.00", "100.25", "2000")
	in := checkInput{
		side:    market.SideLong,
		bar:     bar,
		history: histStub{market.Period1m: []market.Candle{bar}},
	}
	assert.False(t, c.met(in))
}

func TestVolumeCriterion(t *testing.T) {
	c := volumeCriterion{multiple: 1.2}
	bar := bar1m(0, "100", "101", "99", "100.5", "1500")

	met := c.met(checkInput{bar: bar, mctx: market.Context{AvgVolume: d("1000")}})
	assert.True(t, met)

	met = c.met(checkInput{bar: bar, mctx: market.Context{AvgVolume: d("1300")}})
	assert.False(t, met)

	met = c.met(checkInput{bar: bar, mctx: market.Context{}})
	assert.False(t, met, "no volume baseline, no surge")
}

func TestTrendCriterion(t *testing.T) {
	c := trendCriterion{}
	tests := []struct {
		name   string
		side   market.Side
		daily  market.TrendBias
		hourly market.TrendBias
		want   bool
	}{
		{"long with bullish daily", market.SideLong, market.BiasBullish, market.BiasBearish, true},
		{"long with neutral daily bullish hourly", market.SideLong, market.BiasNeutral, market.BiasBullish, true},
		{"long against bearish daily", market.SideLong, market.BiasBearish, market.BiasBullish, false},
		{"long all neutral", market.SideLong, market.BiasNeutral, market.BiasNeutral, false},
		{"short with bearish daily", market.SideShort, market.BiasBearish, market.BiasNeutral, true},
		{"short against bullish daily", market.SideShort, market.BiasBullish, market.BiasBearish, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := checkInput{side: tt.side, mctx: market.Context{DailyBias: tt.daily, HourlyBias: tt.hourly}}
			assert.Equal(t, tt.want, c.met(in))
		})
	}
}

func TestLevelCriterion(t *testing.T) {
	c := levelCriterion{}
	bar := bar1m(0, "100.20", "100.30", "99.00", "100.25", "2000")

	mctx := market.Context{ATR: d("0.8"), PriorDayLow: d("99.20")}
	assert.True(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: mctx}),
		"low within half an ATR of the prior-day low")

	mctx.PriorDayLow = d("97.00")
	assert.False(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: mctx}),
		"level too far away")

	mctx.PriorDayLow = d("99.20")
	mctx.ATR = decimal.Zero
	assert.False(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: mctx}),
		"no ATR, no tolerance")

	short := bar1m(0, "100.30", "101.50", "100.20", "100.25", "2000")
	mctx = market.Context{ATR: d("0.8"), PriorDayHigh: d("101.40")}
	assert.True(t, c.met(checkInput{side: market.SideShort, bar: short, mctx: mctx}))
}

func TestSessionBiasCriterion(t *testing.T) {
	c := sessionBiasCriterion{}
	bar := bar1m(0, "100.20", "100.30", "99.00", "100.25", "2000")

	assert.True(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: market.Context{SessionOpenRef: d("100.10")}}))
	assert.False(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: market.Context{SessionOpenRef: d("100.40")}}))
	assert.False(t, c.met(checkInput{side: market.SideLong, bar: bar, mctx: market.Context{}}),
		"no session reference yet")
	assert.True(t, c.met(checkInput{side: market.SideShort, bar: bar, mctx: market.Context{SessionOpenRef: d("100.40")}}))
}
