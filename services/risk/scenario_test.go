package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
)

// Walks the canonical two-trade sequence: a tier-2 stop-out worth -2R drops
// the tier, the following tier-1 winner worth +1.5R restores it.
func TestTwoTierSizingSequence(t *testing.T) {
	m := newManager(t, baseConfig())
	instr := market.DefaultInstrument("SPY")
	ts := msAt("2024-03-08", 10, 0)

	require.True(t, m.BaseRUnit().Equal(d("1000")), "50k at 2%% risk is a $1,000 base unit")

	// trade A: tier 2, $10 stop distance sizes to 200 shares risking $2,000
	a := candidate("s", "SPY")
	a.Entry = d("450")
	a.Stop = d("440")
	dec := m.CheckEntry(a, instr, ts)
	require.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Tier)
	assert.True(t, dec.Size.Equal(d("200")), "got %s", dec.Size)
	assert.True(t, dec.RiskDollars.Equal(d("2000")))

	stopped := &market.Trade{
		Strategy: "s", Symbol: "SPY", State: market.StateClosed,
		EntryTime: ts, ExitTime: ts + 40*60_000,
		PnL: d("-2000"), RMultiple: d("-2"), Outcome: market.OutcomeLoss,
	}
	m.NotifyClose(stopped)
	assert.Equal(t, 1, m.Tier(), "tier-2 loss drops to tier 1")
	assert.True(t, m.Capital().Equal(d("48000")))

	// trade B: tier 1, $2 stop distance sizes to 500 shares risking $1,000
	b := candidate("s", "SPY")
	b.Entry = d("451")
	b.Stop = d("449")
	dec = m.CheckEntry(b, instr, ts+60*60_000)
	require.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Tier)
	assert.True(t, dec.Size.Equal(d("500")), "got %s", dec.Size)
	assert.True(t, dec.RiskDollars.Equal(d("1000")))

	won := &market.Trade{
		Strategy: "s", Symbol: "SPY", State: market.StateClosed,
		EntryTime: ts + 60*60_000, ExitTime: ts + 90*60_000,
		PnL: d("1500"), RMultiple: d("1.5"), Outcome: market.OutcomeWin,
	}
	m.NotifyClose(won)
	assert.Equal(t, 2, m.Tier(), "tier-1 win restores tier 2")
	assert.True(t, m.CumulativeR().Equal(d("-0.5")))
}

// An equity path that peaks at +5R and sinks to -16R crosses a 20R drawdown
// limit exactly once; everything after is refused as run-stopped, even when
// equity recovers.
func TestDrawdownHaltsRun(t *testing.T) {
	cfg := baseConfig()
	cfg.StopRunDrawdownR = d("20")
	m := newManager(t, cfg)
	instr := market.DefaultInstrument("SPY")
	ts := msAt("2024-03-08", 10, 0)

	m.NotifyClose(closedTrade("s", "SPY", ts, "5", market.OutcomeWin))
	m.NotifyClose(closedTrade("s", "SPY", ts+60_000, "-8", market.OutcomeLoss))
	assert.False(t, m.RunStopped(), "13R drawdown is inside the limit")

	m.NotifyClose(closedTrade("s", "SPY", ts+120_000, "-13", market.OutcomeLoss))
	require.True(t, m.RunStopped())
	assert.True(t, m.CumulativeR().Equal(d("-16")))
	assert.True(t, m.DrawdownR().Equal(d("21")))

	events := m.DrainEvents()
	require.Len(t, events, 1, "exactly one stop-run event")
	assert.Equal(t, GuardrailStopRun, events[0].Kind)
	assert.True(t, events[0].DrawdownR.Equal(d("21")))

	dec := m.CheckEntry(candidate("s", "SPY"), instr, ts+180_000)
	assert.Equal(t, ReasonRunStopped, dec.Reason)

	// recovery never re-arms the run
	m.NotifyClose(closedTrade("s", "SPY", ts+240_000, "25", market.OutcomeWin))
	dec = m.CheckEntry(candidate("s", "SPY"), instr, ts+300_000)
	assert.Equal(t, ReasonRunStopped, dec.Reason)
	assert.Empty(t, m.DrainEvents(), "no second stop-run event")

	counts := m.RejectionCounts()
	assert.Equal(t, int64(2), counts[ReasonRunStopped])
}
