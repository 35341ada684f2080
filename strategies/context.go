package strategies

import (
	"github.com/shopspring/decimal"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

const (
	biasCloses   = 10 // closes in the bias moving average
	biasMinBars  = 3
	atrLength    = 14 // hourly true ranges averaged
	volumeWindow = 60 // trailing 1m bars in the average volume
)

// computeContext derives the market context for one symbol from its bounded
// histories. This is the expensive step the cache memoizes; the replay loop
// only lands here on a period close or a cold key.
func computeContext(req replay.EvalRequest) market.Context {
	ctx := market.Context{
		Symbol:     req.Symbol,
		Session:    req.Key.Session,
		ComputedAt: req.Ts,
	}

	hourly := req.History.History(req.Symbol, market.Period1h)
	ctx.HourlyBias = bias(hourly)
	ctx.FourHBias = bias(req.History.History(req.Symbol, market.Period4h))

	daily := req.History.History(req.Symbol, market.Period1d)
	ctx.DailyBias = bias(daily)
	if len(daily) > 0 {
		prior := daily[len(daily)-1]
		ctx.PriorDayHigh = prior.High
		ctx.PriorDayLow = prior.Low
		ctx.PriorDayClose = prior.Close
	}

	ctx.ATR = averageTrueRange(hourly, atrLength)

	minutes := req.History.History(req.Symbol, market.Period1m)
	ctx.AvgVolume = averageVolume(minutes, volumeWindow)
	ctx.SessionOpenRef = sessionOpen(minutes, req.Ts)

	return ctx
}

// bias compares the last close against a short moving average of closes.
// Fewer than biasMinBars closed candles reads neutral.
func bias(candles []market.Candle) market.TrendBias {
	if len(candles) < biasMinBars {
		return market.BiasNeutral
	}
	window := candles
	if len(window) > biasCloses {
		window = window[len(window)-biasCloses:]
	}
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	sma := sum.Div(decimal.NewFromInt(int64(len(window))))
	last := candles[len(candles)-1].Close
	switch {
	case last.GreaterThan(sma):
		return market.BiasBullish
	case last.LessThan(sma):
		return market.BiasBearish
	default:
		return market.BiasNeutral
	}
}

// averageTrueRange averages the last n true ranges of the series. True range
// needs a prior close, so fewer than two candles yields zero.
func averageTrueRange(candles []market.Candle, n int) decimal.Decimal {
	if len(candles) < 2 || n <= 0 {
		return decimal.Zero
	}
	start := len(candles) - n
	if start < 1 {
		start = 1
	}
	sum := decimal.Zero
	count := 0
	for i := start; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].Close)
		sum = sum.Add(tr)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

func trueRange(c market.Candle, prevClose decimal.Decimal) decimal.Decimal {
	tr := c.Range()
	if d := c.High.Sub(prevClose).Abs(); d.GreaterThan(tr) {
		tr = d
	}
	if d := c.Low.Sub(prevClose).Abs(); d.GreaterThan(tr) {
		tr = d
	}
	return tr
}

// averageVolume averages minute volume over the trailing window, excluding
// the in-progress bar at the end of the history.
func averageVolume(minutes []market.Candle, window int) decimal.Decimal {
	if len(minutes) < 2 || window <= 0 {
		return decimal.Zero
	}
	prior := minutes[:len(minutes)-1]
	if len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	sum := decimal.Zero
	for _, c := range prior {
		sum = sum.Add(c.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prior))))
}

// sessionOpen returns the open of the earliest retained minute bar of the
// day containing ts, zero when the day has no bars yet.
func sessionOpen(minutes []market.Candle, ts int64) decimal.Decimal {
	day := market.DayBucket(ts)
	open := decimal.Zero
	for i := len(minutes) - 1; i >= 0; i-- {
		if minutes[i].OpenTime < day {
			break
		}
		open = minutes[i].Open
	}
	return open
}
