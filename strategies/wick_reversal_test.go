package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// hammer is the canonical long trigger: tiny bullish body on a deep lower
// wick that undercuts the flat 100.00 lows of the prior window.
func hammerBar() market.Candle {
	return bar1m(20, "100.20", "100.30", "99.00", "100.25", "2000")
}

// fullContext meets every confluence criterion for a hammerBar long.
func fullContext() market.Context {
	return market.Context{
		Symbol:         "AAPL",
		Session:        market.SessionRegular,
		DailyBias:      market.BiasBullish,
		HourlyBias:     market.BiasBullish,
		ATR:            d("0.8"),
		AvgVolume:      d("1000"),
		PriorDayHigh:   d("103.00"),
		PriorDayLow:    d("99.20"),
		PriorDayClose:  d("101.00"),
		SessionOpenRef: d("100.10"),
	}
}

func wickRequest(t *testing.T, bar market.Candle, lows string, mctx market.Context) replay.EvalRequest {
	t.Helper()
	minutes := append(flat1m(20, lows), bar)
	cache := aggregate.NewStateCache()
	key := aggregate.Key{Symbol: "AAPL", Session: market.SessionRegular}
	cache.Put(key, mctx)
	return replay.EvalRequest{
		Symbol:  "AAPL",
		Ts:      bar.OpenTime,
		Bar:     bar,
		History: histStub{market.Period1m: minutes},
		Cache:   cache,
		Key:     key,
		Mode:    market.ModeStrict,
	}
}

func TestTrigger(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		bar      market.Candle
		wantSide market.Side
		want     bool
	}{
		{"hammer long", hammerBar(), market.SideLong, true},
		{"inverted hammer short",
			bar1m(20, "100.30", "101.50", "100.20", "100.26", "2000"), market.SideShort, true},
		{"body-dominant bar", bar1m(20, "100.00", "101.10", "99.95", "101.00", "2000"),
			market.SideLong, false},
		{"wick too small for ratio", bar1m(20, "100.00", "100.60", "99.80", "100.50", "2000"),
			market.SideLong, false},
		{"flat bar", bar1m(20, "100", "100", "100", "100", "0"), market.SideLong, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			side, share, ok := s.trigger(tt.bar)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.wantSide, side)
				assert.Greater(t, share, minWickShare)
			}
		})
	}
}

func TestEvaluateFullConfluenceLong(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	req := wickRequest(t, hammerBar(), "100.00", fullContext())
	setup, err := s.Evaluate(req)
	require.NoError(t, err)
	require.NotNil(t, setup)

	assert.Equal(t, "AAPL", setup.Symbol)
	assert.Equal(t, StrategyWickReversal, setup.Strategy)
	assert.Equal(t, market.SideLong, setup.Side)
	assert.Equal(t, market.GradeAPlus, setup.Grade)
	assert.Equal(t, market.TradeTypeSwing, setup.TradeType)
	assert.Equal(t, allCriteria, setup.Signals, "all five met, registration order")
	assert.Equal(t, 5, setup.ConfluenceCount())

	// Stop one buffer under the wick low, targets at 2R and 3.5R.
	assert.True(t, setup.Entry.Equal(d("100.25")), "entry %s", setup.Entry)
	assert.True(t, setup.Stop.Equal(d("98.87")), "stop %s", setup.Stop)
	assert.True(t, setup.PrimaryTarget.Equal(d("103.01")), "primary %s", setup.PrimaryTarget)
	assert.True(t, setup.SecondaryTarget.Equal(d("105.08")), "secondary %s", setup.SecondaryTarget)
	assert.InDelta(t, 2.0, setup.RiskReward, 1e-9)
	assert.Greater(t, setup.Score, 0.85)
}

func TestEvaluateRequiresSweepInStrictMode(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	// Prior lows at 98: the hammer's 99 low never undercuts them.
	req := wickRequest(t, hammerBar(), "98.00", fullContext())
	setup, err := s.Evaluate(req)
	require.NoError(t, err)
	assert.Nil(t, setup)
}

func TestEvaluateEnforcesMinConfluence(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	// Sweep passes on the bare context but nothing else does.
	req := wickRequest(t, hammerBar(), "100.00", market.Context{})
	setup, err := s.Evaluate(req)
	require.NoError(t, err)
	assert.Nil(t, setup)
}

func TestEvaluateNoTriggerNoSetup(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	quiet := bar1m(20, "100.00", "101.10", "99.95", "101.00", "2000")
	req := wickRequest(t, quiet, "100.00", fullContext())
	setup, err := s.Evaluate(req)
	require.NoError(t, err)
	assert.Nil(t, setup)
}

func TestEvaluateExploratoryWaivesChecks(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeExploratory, nil)
	require.NoError(t, err)

	// No sweep (lows at 98), no level, no volume baseline; only the session
	// bias agrees. Strict would reject this outright.
	mctx := market.Context{SessionOpenRef: d("100.10")}
	req := wickRequest(t, hammerBar(), "98.00", mctx)
	req.Mode = market.ModeExploratory

	setup, err := s.Evaluate(req)
	require.NoError(t, err)
	require.NotNil(t, setup)

	assert.Equal(t, market.GradeC, setup.Grade)
	assert.Equal(t, market.TradeTypeScalp, setup.TradeType)
	assert.True(t, setup.SecondaryTarget.IsZero(), "scalps carry no runner")
	assert.Equal(t, []string{SignalSessionBias}, setup.Signals)
}

func TestEvaluateUsesCacheUntilPeriodClose(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)

	req := wickRequest(t, hammerBar(), "100.00", fullContext())
	_, err = s.Evaluate(req)
	require.NoError(t, err)

	hits, misses := req.Cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(0), misses)

	// An hourly close forces a recompute even though the key still matches.
	req.Closes = market.CloseFlags{market.Period1h: req.Ts - 60_000}
	_, err = s.Evaluate(req)
	require.NoError(t, err)

	got, ok := req.Cache.Get(req.Key)
	require.True(t, ok)
	assert.Equal(t, req.Ts, got.ComputedAt, "cache now holds the recomputed context")
}

func TestWarmupBars(t *testing.T) {
	s, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)
	assert.Equal(t, minWarmupBars, s.WarmupBars())

	s, err = NewWickReversal(Tuning{SweepLookback: 40}, market.ModeStrict, nil)
	require.NoError(t, err)
	assert.Equal(t, 41, s.WarmupBars())
}

func TestTuningDefaults(t *testing.T) {
	tun := Tuning{MinScore: 0.7}.withDefaults()
	assert.Equal(t, 0.7, tun.MinScore)
	assert.Equal(t, DefaultTuning().SweepLookback, tun.SweepLookback)
	assert.Equal(t, DefaultTuning().WickBodyRatio, tun.WickBodyRatio)
}

func TestGradeOf(t *testing.T) {
	assert.Equal(t, market.GradeAPlus, gradeOf(0.9, 5))
	assert.Equal(t, market.GradeA, gradeOf(0.9, 3), "broad score without broad confluence caps at A")
	assert.Equal(t, market.GradeA, gradeOf(0.75, 3))
	assert.Equal(t, market.GradeB, gradeOf(0.65, 2))
	assert.Equal(t, market.GradeC, gradeOf(0.58, 1))
}

func TestScoreNormalizesByPolicyCeiling(t *testing.T) {
	strict, err := NewWickReversal(Tuning{}, market.ModeStrict, nil)
	require.NoError(t, err)
	expl, err := NewWickReversal(Tuning{}, market.ModeExploratory, nil)
	require.NoError(t, err)

	// Same wick, same met count: the exploratory ceiling is lower, so its
	// normalized score is higher.
	assert.Greater(t, expl.score(0.8, 2), strict.score(0.8, 2))
	assert.InDelta(t, 1.0, strict.score(1.0, 5), 1e-9)
}
