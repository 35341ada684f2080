package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Period identifies a candle timeframe.
type Period string

const (
	Period1m  Period = "1m"
	Period5m  Period = "5m"
	Period15m Period = "15m"
	Period1h  Period = "1h"
	Period4h  Period = "4h"
	Period1d  Period = "1d"
)

const minuteMs int64 = 60_000

var periodMillis = map[Period]int64{
	Period1m:  minuteMs,
	Period5m:  5 * minuteMs,
	Period15m: 15 * minuteMs,
	Period1h:  60 * minuteMs,
	Period4h:  240 * minuteMs,
	Period1d:  1440 * minuteMs,
}

// Millis returns the period length in milliseconds, or 0 for an unknown period.
func (p Period) Millis() int64 {
	return periodMillis[p]
}

// Duration returns the period length as a time.Duration.
func (p Period) Duration() time.Duration {
	return time.Duration(p.Millis()) * time.Millisecond
}

// Valid reports whether p is one of the supported timeframes.
func (p Period) Valid() bool {
	_, ok := periodMillis[p]
	return ok
}

// ParsePeriod converts a timeframe string like "5m" or "1h".
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown period %q", s)
	}
	return p, nil
}

// Candle is one OHLCV bar for a symbol and period. Timestamps are the bar's
// open time in Unix milliseconds, UTC.
type Candle struct {
	Symbol   string
	Period   Period
	OpenTime int64
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// CloseTime returns the bar's close time (open time + period length).
func (c Candle) CloseTime() int64 {
	return c.OpenTime + c.Period.Millis()
}

// Body returns the absolute open-to-close distance.
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// Range returns the high-to-low distance.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// UpperWick returns the distance from the body top to the high.
func (c Candle) UpperWick() decimal.Decimal {
	top := c.Open
	if c.Close.GreaterThan(top) {
		top = c.Close
	}
	return c.High.Sub(top)
}

// LowerWick returns the distance from the low to the body bottom.
func (c Candle) LowerWick() decimal.Decimal {
	bottom := c.Open
	if c.Close.LessThan(bottom) {
		bottom = c.Close
	}
	return bottom.Sub(c.Low)
}

// BodyPct returns the body as a percentage of the full range, 0 on a
// zero-range bar.
func (c Candle) BodyPct() decimal.Decimal {
	r := c.Range()
	if r.IsZero() {
		return decimal.Zero
	}
	return c.Body().Div(r).Mul(decimal.NewFromInt(100))
}

// IsBullish reports whether the bar closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// CloseFlags records which periods finished on a given minute. The mapped
// value is the open time of the candle that just closed.
type CloseFlags map[Period]int64

// Closed reports whether the given period finished this minute.
func (f CloseFlags) Closed(p Period) bool {
	_, ok := f[p]
	return ok
}

// Any reports whether any tracked period finished this minute.
func (f CloseFlags) Any() bool {
	return len(f) > 0
}

// HistoryProvider exposes bounded closed-candle history per symbol and
// period, oldest first. The returned slice is owned by the provider and must
// not be mutated.
type HistoryProvider interface {
	History(symbol string, p Period) []Candle
}
