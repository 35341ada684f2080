// Package aggregate builds higher-period candles incrementally from a
// 1-minute feed and memoizes derived market context between period closes.
package aggregate

import (
	"errors"
	"fmt"

	"replay-backtest/services/market"
)

var (
	// ErrOutOfOrderBar is returned when a symbol's minute bars arrive with a
	// non-increasing timestamp. Upstream loaders sort and dedupe, so this
	// signals a wiring defect, not bad data.
	ErrOutOfOrderBar = errors.New("bar timestamp not strictly increasing")
)

const defaultWindow = 256

const minuteMs int64 = 60_000

// Config controls which higher periods are maintained and how much closed
// history is retained per period.
type Config struct {
	// Periods lists the higher timeframes to aggregate. 1m history is always
	// kept regardless.
	Periods []market.Period
	// Windows caps the rolling history per period, oldest evicted. Periods
	// absent from the map fall back to a default.
	Windows map[market.Period]int
	// OffsetMinutes shifts intraday bucket alignment, e.g. 30 anchors hourly
	// candles to a 09:30 session open. Zero keeps top-of-hour alignment.
	OffsetMinutes int
	// Calendar supplies session labels and the daily close minute.
	Calendar market.Calendar
}

// DefaultConfig maintains 5m/15m/1h/4h/1d on a 24h calendar.
func DefaultConfig() Config {
	return Config{
		Periods: []market.Period{
			market.Period5m, market.Period15m, market.Period1h,
			market.Period4h, market.Period1d,
		},
		Calendar: market.NewCalendar(0, 0),
	}
}

// series is one symbol/period rolling window of closed candles.
type series struct {
	buf []market.Candle
	max int
}

func (s *series) push(c market.Candle) {
	if s.max > 0 && len(s.buf) >= s.max {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = c
		return
	}
	s.buf = append(s.buf, c)
}

// symbolState holds everything the aggregator tracks for one symbol.
type symbolState struct {
	lastTs    int64
	open      map[market.Period]*market.Candle
	hist      map[market.Period]*series
	lastClose map[market.Period]int64
	closedDay string // day key whose daily candle already finalized
}

// Aggregator merges 1-minute candles into each configured higher period,
// one in-progress candle per symbol/period, and reports period closes as
// they happen. Every update is O(1) per period; closed history never grows
// past its window.
type Aggregator struct {
	cfg     Config
	symbols map[string]*symbolState
}

// New creates an aggregator for the configured periods.
func New(cfg Config) *Aggregator {
	if len(cfg.Periods) == 0 {
		cfg.Periods = DefaultConfig().Periods
	}
	return &Aggregator{cfg: cfg, symbols: make(map[string]*symbolState)}
}

func (a *Aggregator) window(p market.Period) int {
	if n, ok := a.cfg.Windows[p]; ok && n > 0 {
		return n
	}
	return defaultWindow
}

func (a *Aggregator) state(symbol string) *symbolState {
	st, ok := a.symbols[symbol]
	if !ok {
		st = &symbolState{
			lastTs:    -1,
			open:      make(map[market.Period]*market.Candle),
			hist:      make(map[market.Period]*series),
			lastClose: make(map[market.Period]int64),
		}
		st.hist[market.Period1m] = &series{max: a.window(market.Period1m)}
		for _, p := range a.cfg.Periods {
			st.hist[p] = &series{max: a.window(p)}
		}
		a.symbols[symbol] = st
	}
	return st
}

// bucketStart returns the open time of the period bucket containing ts.
func (a *Aggregator) bucketStart(ts int64, p market.Period) int64 {
	if p == market.Period1d {
		return market.DayBucket(ts)
	}
	off := int64(a.cfg.OffsetMinutes) * minuteMs
	shifted := ts - off
	return shifted - mod(shifted, p.Millis()) + off
}

// closesAt reports whether the minute opening at ts is the final minute of
// its period bucket.
func (a *Aggregator) closesAt(ts int64, p market.Period) bool {
	if p == market.Period1d {
		return a.cfg.Calendar.ClosesDaily(ts)
	}
	off := int64(a.cfg.OffsetMinutes) * minuteMs
	return mod(ts-off+minuteMs, p.Millis()) == 0
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Update merges one 1-minute candle and returns which periods finished on
// this minute, mapped to the closed candle's open time. Callers gate
// recomputation on these flags.
func (a *Aggregator) Update(c market.Candle) (market.CloseFlags, error) {
	if c.Period != market.Period1m {
		return nil, fmt.Errorf("aggregator expects 1m candles, got %s", c.Period)
	}
	st := a.state(c.Symbol)
	if c.OpenTime <= st.lastTs {
		return nil, fmt.Errorf("%w: %s at %d after %d", ErrOutOfOrderBar, c.Symbol, c.OpenTime, st.lastTs)
	}
	st.lastTs = c.OpenTime

	flags := make(market.CloseFlags)
	st.hist[market.Period1m].push(c)

	for _, p := range a.cfg.Periods {
		a.merge(st, p, c, flags)
	}
	return flags, nil
}

func (a *Aggregator) merge(st *symbolState, p market.Period, c market.Candle, flags market.CloseFlags) {
	// Post-close minutes never reopen a finalized daily candle.
	if p == market.Period1d && st.closedDay == market.DayKey(c.OpenTime) {
		return
	}

	bucket := a.bucketStart(c.OpenTime, p)

	// A gap swallowed the bucket's final minute: flush the stale candle so
	// history and close flags stay consistent before starting the new one.
	if cur := st.open[p]; cur != nil && cur.OpenTime != bucket {
		a.finalize(st, p, flags)
	}

	cur := st.open[p]
	if cur == nil {
		agg := market.Candle{
			Symbol:   c.Symbol,
			Period:   p,
			OpenTime: bucket,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
		st.open[p] = &agg
	} else {
		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume = cur.Volume.Add(c.Volume)
	}

	if a.closesAt(c.OpenTime, p) {
		a.finalize(st, p, flags)
		if p == market.Period1d {
			st.closedDay = market.DayKey(c.OpenTime)
		}
	}
}

func (a *Aggregator) finalize(st *symbolState, p market.Period, flags market.CloseFlags) {
	cur := st.open[p]
	if cur == nil {
		return
	}
	st.hist[p].push(*cur)
	st.lastClose[p] = cur.OpenTime
	flags[p] = cur.OpenTime
	delete(st.open, p)
}

// Flush finalizes every in-progress candle for symbol, as at the end of a
// bounded stream. Replay never flushes: partial buckets there simply never
// close. Returned flags map each flushed period to its bucket open time.
func (a *Aggregator) Flush(symbol string) market.CloseFlags {
	st, ok := a.symbols[symbol]
	if !ok {
		return nil
	}
	flags := make(market.CloseFlags)
	for _, p := range a.cfg.Periods {
		a.finalize(st, p, flags)
	}
	return flags
}

// History returns the bounded closed-candle window for symbol and period,
// oldest first. The slice is owned by the aggregator.
func (a *Aggregator) History(symbol string, p market.Period) []market.Candle {
	st, ok := a.symbols[symbol]
	if !ok {
		return nil
	}
	s, ok := st.hist[p]
	if !ok {
		return nil
	}
	return s.buf
}

// LastClosed returns the open time of the most recently closed candle for
// symbol and period, false when none has closed yet.
func (a *Aggregator) LastClosed(symbol string, p market.Period) (int64, bool) {
	st, ok := a.symbols[symbol]
	if !ok {
		return 0, false
	}
	ts, ok := st.lastClose[p]
	return ts, ok
}

// ContextKey assembles the cache key for symbol at ts from the session label
// and the latest closed 1h/4h/1d open times. Periods with no closed candle
// yet contribute zero.
func (a *Aggregator) ContextKey(symbol string, ts int64) Key {
	k := Key{Symbol: symbol, Session: a.cfg.Calendar.Label(ts)}
	if v, ok := a.LastClosed(symbol, market.Period1h); ok {
		k.Hour1 = v
	}
	if v, ok := a.LastClosed(symbol, market.Period4h); ok {
		k.Hour4 = v
	}
	if v, ok := a.LastClosed(symbol, market.Period1d); ok {
		k.Day1 = v
	}
	return k
}

// Calendar returns the calendar the aggregator was built with.
func (a *Aggregator) Calendar() market.Calendar {
	return a.cfg.Calendar
}
