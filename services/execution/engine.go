// Package execution owns the paper-trading position lifecycle: acceptance,
// per-tick stop/target/time-stop/breakeven resolution, and closure
// accounting in dollars and R.
package execution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replay-backtest/services/market"
	"replay-backtest/services/risk"
)

var (
	// ErrUnclassifiedSetup marks the fatal defect of accepting an order for
	// a setup that was never graded. Equity accounting cannot trust it.
	ErrUnclassifiedSetup = errors.New("setup has no quality classification")
	// ErrPositionClosed marks the fatal defect of closing a position twice.
	ErrPositionClosed = errors.New("position already closed")
	// ErrSymbolBusy rejects a second concurrent position on one symbol.
	ErrSymbolBusy = errors.New("symbol already has an open position")
)

// Config tunes exit handling. BaseRUnit is the canonical dollar value of one
// R; every closed trade's R-multiple is PnL divided by it.
type Config struct {
	BaseRUnit decimal.Decimal
	// BreakevenTriggerR arms the stop-to-entry move once unrealized gain
	// reaches this many multiples of the entry risk distance. Zero disables.
	BreakevenTriggerR decimal.Decimal
	// ScalpMaxMinutes force-closes scalp trades open at least this long.
	// Swing trades are never time-stopped. Zero disables.
	ScalpMaxMinutes int
	// Instruments supplies per-symbol sizing semantics; missing symbols
	// fall back to whole-share defaults.
	Instruments map[string]market.Instrument
}

// RiskNotifier receives lifecycle notifications. The risk manager
// implements it; tests substitute recorders.
type RiskNotifier interface {
	NotifyOpen(t *market.Trade)
	NotifyClose(t *market.Trade)
}

// Engine tracks open positions for one run. Single-owner, not safe for
// concurrent use.
type Engine struct {
	cfg  Config
	log  *zap.Logger
	risk RiskNotifier

	open      map[string]*market.Trade
	closed    []*market.Trade
	lastPrice map[string]decimal.Decimal
}

// New builds an engine. A nil notifier or logger is replaced with a no-op.
func New(cfg Config, notifier RiskNotifier, log *zap.Logger) (*Engine, error) {
	if !cfg.BaseRUnit.IsPositive() {
		return nil, fmt.Errorf("execution config: base R unit must be positive, got %s", cfg.BaseRUnit)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		risk:      notifier,
		open:      make(map[string]*market.Trade),
		lastPrice: make(map[string]decimal.Decimal),
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyOpen(*market.Trade)  {}
func (nopNotifier) NotifyClose(*market.Trade) {}

// Instrument returns the symbol's contract spec, falling back to the
// plain-shares default.
func (e *Engine) Instrument(symbol string) market.Instrument {
	if in, ok := e.cfg.Instruments[symbol]; ok {
		return in
	}
	return market.DefaultInstrument(symbol)
}

// HasOpen reports whether symbol currently holds an open position.
func (e *Engine) HasOpen(symbol string) bool {
	_, ok := e.open[symbol]
	return ok
}

// OpenCount returns the number of open positions.
func (e *Engine) OpenCount() int { return len(e.open) }

// ClosedTrades returns every closed trade in close order.
func (e *Engine) ClosedTrades() []*market.Trade { return e.closed }

// PlaceOrder accepts an approved, sized setup and opens the position at the
// setup's entry price. The risk distance and risk dollars recorded here are
// final; later stop moves never change them.
func (e *Engine) PlaceOrder(s market.Setup, dec risk.Decision, ts int64) (*market.Trade, error) {
	if s.Grade == market.GradeNone {
		return nil, fmt.Errorf("%w: %s %s at %d", ErrUnclassifiedSetup, s.Strategy, s.Symbol, ts)
	}
	if !dec.Allowed {
		return nil, fmt.Errorf("placing a refused setup for %s (%s)", s.Symbol, dec.Reason)
	}
	if _, busy := e.open[s.Symbol]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSymbolBusy, s.Symbol)
	}

	t := &market.Trade{
		ID:              uuid.NewString(),
		Symbol:          s.Symbol,
		Strategy:        s.Strategy,
		Side:            s.Side,
		State:           market.StateOpen,
		Grade:           s.Grade,
		TradeType:       s.TradeType,
		Size:            dec.Size,
		Entry:           s.Entry,
		Stop:            s.Stop,
		OriginalStop:    s.Stop,
		PrimaryTarget:   s.PrimaryTarget,
		SecondaryTarget: s.SecondaryTarget,
		RiskDistance:    s.RiskDistance(),
		RiskDollars:     dec.RiskDollars,
		TierAtOpen:      dec.Tier,
		EntryTime:       ts,
	}
	e.open[s.Symbol] = t
	e.risk.NotifyOpen(t)
	e.log.Info("position opened",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("strategy", t.Strategy),
		zap.String("side", t.Side.String()),
		zap.String("grade", t.Grade.String()),
		zap.String("entry", t.Entry.String()),
		zap.String("stop", t.Stop.String()),
		zap.String("size", t.Size.String()),
		zap.Int("tier", t.TierAtOpen),
	)
	return t, nil
}

// touched reports whether price was reached within the bar on the favorable
// (target) or adverse (stop) side for the trade's direction.
func targetTouched(t *market.Trade, bar market.Candle, price decimal.Decimal) bool {
	if t.Side == market.SideLong {
		return bar.High.GreaterThanOrEqual(price)
	}
	return bar.Low.LessThanOrEqual(price)
}

func stopTouched(t *market.Trade, bar market.Candle) bool {
	if t.Side == market.SideLong {
		return bar.Low.LessThanOrEqual(t.Stop)
	}
	return bar.High.GreaterThanOrEqual(t.Stop)
}

// favorableExcursion returns the bar's best price move for the trade in
// multiples of the entry risk distance.
func (e *Engine) favorableExcursion(t *market.Trade, bar market.Candle) decimal.Decimal {
	if t.RiskDistance.IsZero() {
		return decimal.Zero
	}
	var move decimal.Decimal
	if t.Side == market.SideLong {
		move = bar.High.Sub(t.Entry)
	} else {
		move = t.Entry.Sub(bar.Low)
	}
	return move.Div(t.RiskDistance)
}

// unrealizedR returns the current close-to-entry move in risk-distance
// multiples, used for mark-to-market bookkeeping.
func unrealizedR(t *market.Trade, close decimal.Decimal) decimal.Decimal {
	if t.RiskDistance.IsZero() {
		return decimal.Zero
	}
	move := close.Sub(t.Entry)
	if t.Side == market.SideShort {
		move = move.Neg()
	}
	return move.Div(t.RiskDistance)
}

// UpdateOpenPositions marks every open position against this minute's
// candles and resolves exits in fixed priority: stop, then targets (the
// secondary wins when both are touched), then the scalp time-stop, then the
// one-time breakeven move. Returns the trades closed on this tick in a
// deterministic symbol order.
func (e *Engine) UpdateOpenPositions(prices map[string]market.Candle, ts int64) ([]*market.Trade, error) {
	symbols := make([]string, 0, len(e.open))
	for sym := range e.open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var closedNow []*market.Trade
	for _, sym := range symbols {
		t := e.open[sym]
		bar, ok := prices[sym]
		if !ok {
			continue // no data for this symbol this minute
		}
		e.lastPrice[sym] = bar.Close

		// the signal bar's extremes predate the fill; resolution starts on
		// the next minute
		if t.EntryTime == ts {
			t.UnrealizedR = unrealizedR(t, bar.Close)
			continue
		}

		closed, err := e.resolve(t, bar, ts)
		if err != nil {
			return closedNow, err
		}
		if closed {
			closedNow = append(closedNow, t)
		}
	}
	return closedNow, nil
}

func (e *Engine) resolve(t *market.Trade, bar market.Candle, ts int64) (bool, error) {
	// 1. stop
	if stopTouched(t, bar) {
		return true, e.closeTrade(t, t.Stop, ts, market.ExitReasonStop)
	}

	// 2. targets, runner first so a bar sweeping both pays the better price
	if !t.SecondaryTarget.IsZero() && targetTouched(t, bar, t.SecondaryTarget) {
		return true, e.closeTrade(t, t.SecondaryTarget, ts, market.ExitReasonSecondaryTarget)
	}
	if !t.PrimaryTarget.IsZero() && targetTouched(t, bar, t.PrimaryTarget) {
		return true, e.closeTrade(t, t.PrimaryTarget, ts, market.ExitReasonPrimaryTarget)
	}

	// 3. scalp time-stop
	if t.TradeType == market.TradeTypeScalp && e.cfg.ScalpMaxMinutes > 0 {
		if ts-t.EntryTime >= int64(e.cfg.ScalpMaxMinutes)*60_000 {
			return true, e.closeTrade(t, bar.Close, ts, market.ExitReasonTimeStop)
		}
	}

	// 4. breakeven, armed once
	if !t.BreakevenApplied && e.cfg.BreakevenTriggerR.IsPositive() {
		if e.favorableExcursion(t, bar).GreaterThanOrEqual(e.cfg.BreakevenTriggerR) {
			t.Stop = t.Entry
			t.BreakevenApplied = true
			e.log.Debug("stop moved to breakeven",
				zap.String("trade_id", t.ID),
				zap.String("symbol", t.Symbol),
			)
		}
	}

	t.UnrealizedR = unrealizedR(t, bar.Close)
	return false, nil
}

// closeTrade fixes the exit, computes dollar and R P&L from the original
// risk basis, and hands the trade to the risk notifier. A second close on
// the same trade is a hard error.
func (e *Engine) closeTrade(t *market.Trade, price decimal.Decimal, ts int64, reason string) error {
	if t.State == market.StateClosed {
		return fmt.Errorf("%w: %s (%s)", ErrPositionClosed, t.ID, t.Symbol)
	}
	t.State = market.StateClosed
	t.ExitPrice = price
	t.ExitTime = ts
	t.ExitReason = reason

	move := price.Sub(t.Entry)
	if t.Side == market.SideShort {
		move = move.Neg()
	}
	in := e.Instrument(t.Symbol)
	pv := in.PointValue
	if pv.IsZero() {
		pv = decimal.NewFromInt(1)
	}
	t.PnL = move.Mul(t.Size).Mul(pv)
	t.RMultiple = t.PnL.Div(e.cfg.BaseRUnit)
	t.UnrealizedR = decimal.Zero

	switch t.PnL.Sign() {
	case 1:
		t.Outcome = market.OutcomeWin
	case -1:
		t.Outcome = market.OutcomeLoss
	default:
		t.Outcome = market.OutcomeBreakeven
	}

	delete(e.open, t.Symbol)
	e.closed = append(e.closed, t)
	e.risk.NotifyClose(t)
	e.log.Info("position closed",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("reason", reason),
		zap.String("exit", price.String()),
		zap.String("pnl", t.PnL.StringFixed(2)),
		zap.String("r", t.RMultiple.StringFixed(2)),
		zap.String("outcome", t.Outcome.String()),
	)
	return nil
}

// CloseAll force-closes every remaining position at its last seen price,
// tagging them with the end-of-run reason. Symbols are processed in sorted
// order for determinism.
func (e *Engine) CloseAll(ts int64) ([]*market.Trade, error) {
	symbols := make([]string, 0, len(e.open))
	for sym := range e.open {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var closedNow []*market.Trade
	for _, sym := range symbols {
		t := e.open[sym]
		price, ok := e.lastPrice[sym]
		if !ok {
			price = t.Entry // never marked; flat close
		}
		if err := e.closeTrade(t, price, ts, market.ExitReasonEndOfRun); err != nil {
			return closedNow, err
		}
		closedNow = append(closedNow, t)
	}
	return closedNow, nil
}
