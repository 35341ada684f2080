package strategies

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// ErrUnknownStrategy is returned when an enabled strategy name has no
// registered constructor.
var ErrUnknownStrategy = errors.New("unknown strategy")

var registry = map[string]func(Tuning, market.Mode, *zap.Logger) (replay.SetupProvider, error){
	StrategyWickReversal: func(t Tuning, m market.Mode, l *zap.Logger) (replay.SetupProvider, error) {
		return NewWickReversal(t, m, l)
	},
	StrategyChannelBreak: func(t Tuning, m market.Mode, l *zap.Logger) (replay.SetupProvider, error) {
		return NewChannelBreak(t, m, l)
	},
}

// Names returns the registered strategy names for help text and validation.
func Names() []string {
	return []string{StrategyWickReversal, StrategyChannelBreak}
}

// Build constructs the named providers in the given order. Provider order is
// part of tie-breaking in the replay loop, so configs list strategies in
// priority order.
func Build(names []string, t Tuning, mode market.Mode, log *zap.Logger) ([]replay.SetupProvider, error) {
	out := make([]replay.SetupProvider, 0, len(names))
	for _, n := range names {
		ctor, ok := registry[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, n)
		}
		p, err := ctor(t, mode, log)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", n, err)
		}
		out = append(out, p)
	}
	return out, nil
}
