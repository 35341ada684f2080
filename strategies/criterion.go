package strategies

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"replay-backtest/services/market"
)

// ErrUnknownCriterion is returned when a criterion name has no registered
// implementation. Construction fails instead of silently scoring zero.
var ErrUnknownCriterion = errors.New("unknown confluence criterion")

// Confluence criterion names. The set is closed: every name maps to exactly
// one implementation in criterionTable.
const (
	SignalLiquiditySweep = "liquidity-sweep"
	SignalVolumeSurge    = "volume-surge"
	SignalTrendAlignment = "trend-alignment"
	SignalLevelProximity = "level-proximity"
	SignalSessionBias    = "session-bias"
)

// checkInput is what one criterion sees for one candidate bar.
type checkInput struct {
	side    market.Side
	bar     market.Candle
	history market.HistoryProvider
	mctx    market.Context
}

type criterion interface {
	name() string
	met(in checkInput) bool
}

var criterionTable = map[string]func(t Tuning) criterion{
	SignalLiquiditySweep: func(t Tuning) criterion { return sweepCriterion{lookback: t.SweepLookback} },
	SignalVolumeSurge:    func(t Tuning) criterion { return volumeCriterion{multiple: t.VolumeMultiple} },
	SignalTrendAlignment: func(t Tuning) criterion { return trendCriterion{} },
	SignalLevelProximity: func(t Tuning) criterion { return levelCriterion{} },
	SignalSessionBias:    func(t Tuning) criterion { return sessionBiasCriterion{} },
}

// allCriteria lists every registered name in evaluation order. Map iteration
// order is not deterministic, so the order lives here.
var allCriteria = []string{
	SignalLiquiditySweep,
	SignalVolumeSurge,
	SignalTrendAlignment,
	SignalLevelProximity,
	SignalSessionBias,
}

func buildCriteria(names []string, t Tuning) ([]criterion, error) {
	out := make([]criterion, 0, len(names))
	for _, n := range names {
		ctor, ok := criterionTable[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCriterion, n)
		}
		out = append(out, ctor(t))
	}
	return out, nil
}

// sweepCriterion checks that the bar ran the extreme of the prior lookback
// window and closed back inside it: sellers (buyers) were exhausted into the
// level rather than breaking it.
type sweepCriterion struct {
	lookback int
}

func (sweepCriterion) name() string { return SignalLiquiditySweep }

func (c sweepCriterion) met(in checkInput) bool {
	minutes := in.history.History(in.bar.Symbol, market.Period1m)
	// The current bar is the last history element; the window is what came
	// before it.
	if len(minutes) < 2 {
		return false
	}
	prior := minutes[:len(minutes)-1]
	if c.lookback > 0 && len(prior) > c.lookback {
		prior = prior[len(prior)-c.lookback:]
	}

	if in.side == market.SideLong {
		lowest := prior[0].Low
		for _, b := range prior[1:] {
			if b.Low.LessThan(lowest) {
				lowest = b.Low
			}
		}
		return in.bar.Low.LessThan(lowest) && in.bar.Close.GreaterThan(lowest)
	}

	highest := prior[0].High
	for _, b := range prior[1:] {
		if b.High.GreaterThan(highest) {
			highest = b.High
		}
	}
	return in.bar.High.GreaterThan(highest) && in.bar.Close.LessThan(highest)
}

// volumeCriterion checks participation: the bar traded at least multiple
// times the trailing average minute volume.
type volumeCriterion struct {
	multiple float64
}

func (volumeCriterion) name() string { return SignalVolumeSurge }

func (c volumeCriterion) met(in checkInput) bool {
	if in.mctx.AvgVolume.IsZero() || c.multiple <= 0 {
		return false
	}
	threshold := in.mctx.AvgVolume.Mul(decimal.NewFromFloat(c.multiple))
	return in.bar.Volume.GreaterThanOrEqual(threshold)
}

// trendCriterion checks that the higher timeframes agree with the trade:
// the daily bias matches, or is still neutral while the hourly matches.
type trendCriterion struct{}

func (trendCriterion) name() string { return SignalTrendAlignment }

func (trendCriterion) met(in checkInput) bool {
	want := market.BiasBullish
	if in.side == market.SideShort {
		want = market.BiasBearish
	}
	if in.mctx.DailyBias == want {
		return true
	}
	return in.mctx.DailyBias == market.BiasNeutral && in.mctx.HourlyBias == want
}

// levelToleranceATR bounds how far from the prior-day level a reversal may
// print and still count as a level reaction.
const levelToleranceATR = 0.5

// levelCriterion checks that the reversal printed at the prior day's
// extreme: wick into the level, close back on the right side of it.
type levelCriterion struct{}

func (levelCriterion) name() string { return SignalLevelProximity }

func (levelCriterion) met(in checkInput) bool {
	if in.mctx.ATR.IsZero() {
		return false
	}
	tol := in.mctx.ATR.Mul(decimal.NewFromFloat(levelToleranceATR))

	if in.side == market.SideLong {
		level := in.mctx.PriorDayLow
		if level.IsZero() {
			return false
		}
		return in.bar.Low.Sub(level).Abs().LessThanOrEqual(tol) &&
			in.bar.Close.GreaterThanOrEqual(level)
	}

	level := in.mctx.PriorDayHigh
	if level.IsZero() {
		return false
	}
	return in.bar.High.Sub(level).Abs().LessThanOrEqual(tol) &&
		in.bar.Close.LessThanOrEqual(level)
}

// sessionBiasCriterion checks that the close already reclaimed the session
// open in the trade's direction, so the intraday auction has turned.
type sessionBiasCriterion struct{}

func (sessionBiasCriterion) name() string { return SignalSessionBias }

func (sessionBiasCriterion) met(in checkInput) bool {
	ref := in.mctx.SessionOpenRef
	if ref.IsZero() {
		return false
	}
	if in.side == market.SideLong {
		return in.bar.Close.GreaterThanOrEqual(ref)
	}
	return in.bar.Close.LessThanOrEqual(ref)
}
