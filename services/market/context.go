package market

import "github.com/shopspring/decimal"

// Mode selects how strictly strategies evaluate confluence.
type Mode int

const (
	// ModeStrict requires every confluence check of the active policy.
	ModeStrict Mode = iota
	// ModeExploratory waives the checks its policy names, for research runs
	// that want to surface marginal setups.
	ModeExploratory
)

func (m Mode) String() string {
	if m == ModeExploratory {
		return "exploratory"
	}
	return "strict"
}

// ParseMode converts a mode string from config.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "strict":
		return ModeStrict, true
	case "exploratory":
		return ModeExploratory, true
	}
	return ModeStrict, false
}

// TrendBias is a coarse directional read of a higher timeframe.
type TrendBias int

const (
	BiasNeutral TrendBias = iota
	BiasBullish
	BiasBearish
)

func (b TrendBias) String() string {
	switch b {
	case BiasBullish:
		return "bullish"
	case BiasBearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// Context is the derived market state a strategy computes from higher-period
// history. Recomputing it is the expensive step the replay loop memoizes;
// between period closes the cached value is reused as-is.
type Context struct {
	Symbol     string
	Session    string
	ComputedAt int64

	HourlyBias TrendBias
	FourHBias  TrendBias
	DailyBias  TrendBias

	ATR            decimal.Decimal // hourly average true range
	AvgVolume      decimal.Decimal // trailing average 1m volume
	PriorDayHigh   decimal.Decimal
	PriorDayLow    decimal.Decimal
	PriorDayClose  decimal.Decimal
	SessionOpenRef decimal.Decimal // first regular-session price seen today
}
