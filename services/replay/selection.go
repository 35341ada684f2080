package replay

import (
	"sort"

	"replay-backtest/services/market"
)

// Better reports whether a outranks b when several symbols fire on the same
// tick. Order of comparison: grade, score, confluence count, risk:reward,
// swing over scalp, then symbol for a total order.
func Better(a, b market.Setup) bool {
	if a.Grade != b.Grade {
		return a.Grade > b.Grade
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ca, cb := a.ConfluenceCount(), b.ConfluenceCount(); ca != cb {
		return ca > cb
	}
	if a.RiskReward != b.RiskReward {
		return a.RiskReward > b.RiskReward
	}
	if a.TradeType != b.TradeType {
		return a.TradeType == market.TradeTypeSwing
	}
	return a.Symbol < b.Symbol
}

// Rank sorts a copy of the candidates best first.
func Rank(setups []market.Setup) []market.Setup {
	out := make([]market.Setup, len(setups))
	copy(out, setups)
	sort.SliceStable(out, func(i, j int) bool { return Better(out[i], out[j]) })
	return out
}

// SelectBest returns the single winning candidate for the tick.
func SelectBest(setups []market.Setup) (market.Setup, bool) {
	if len(setups) == 0 {
		return market.Setup{}, false
	}
	best := setups[0]
	for _, s := range setups[1:] {
		if Better(s, best) {
			best = s
		}
	}
	return best, true
}
