package replay

import (
	"replay-backtest/services/aggregate"
	"replay-backtest/services/market"
)

// EvalRequest carries everything a strategy may consult on one tick.
// History serves closed candles only; Bar is the in-progress minute.
// Cache is shared across strategies and symbols; Key identifies the
// context slot valid for this tick.
type EvalRequest struct {
	Symbol  string
	Ts      int64
	Bar     market.Candle
	Closes  market.CloseFlags
	History market.HistoryProvider
	Cache   *aggregate.StateCache
	Key     aggregate.Key
	Mode    market.Mode
}

// SetupProvider proposes at most one setup per symbol per tick.
// Returning (nil, nil) means no interest. Any error halts the run.
type SetupProvider interface {
	Name() string
	// WarmupBars is the number of 1m bars a symbol must have produced
	// before Evaluate is called for it.
	WarmupBars() int
	Evaluate(req EvalRequest) (*market.Setup, error)
}
