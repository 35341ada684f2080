package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"replay-backtest/services/market"
)

// Dataset is an immutable, time-indexed view over several 1m series.
// The timeline is the sorted union of all symbols' open times; not every
// symbol has a bar on every tick.
type Dataset struct {
	symbols  []string
	timeline []int64
	bars     map[int64]map[string]market.Candle
}

// NewDataset indexes the per-symbol series. Each series must be non-empty,
// strictly increasing in time and consist of 1m candles.
func NewDataset(bySymbol map[string][]market.Candle) (*Dataset, error) {
	if len(bySymbol) == 0 {
		return nil, fmt.Errorf("dataset: no symbols")
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	bars := make(map[int64]map[string]market.Candle)
	for _, sym := range symbols {
		series := bySymbol[sym]
		if len(series) == 0 {
			return nil, fmt.Errorf("dataset: %s: empty series", sym)
		}
		var prev int64 = -1
		for i, c := range series {
			if c.Period != market.Period1m {
				return nil, fmt.Errorf("dataset: %s: bar %d is %s, want 1m", sym, i, c.Period)
			}
			if c.OpenTime <= prev {
				return nil, fmt.Errorf("dataset: %s: bar %d out of order (%d after %d)", sym, i, c.OpenTime, prev)
			}
			prev = c.OpenTime
			tick, ok := bars[c.OpenTime]
			if !ok {
				tick = make(map[string]market.Candle, len(symbols))
				bars[c.OpenTime] = tick
			}
			tick[sym] = c
		}
	}

	timeline := make([]int64, 0, len(bars))
	for ts := range bars {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i] < timeline[j] })

	return &Dataset{symbols: symbols, timeline: timeline, bars: bars}, nil
}

// Symbols returns the symbol set in ascending order.
func (d *Dataset) Symbols() []string {
	out := make([]string, len(d.symbols))
	copy(out, d.symbols)
	return out
}

// Timeline returns the union of open times in ascending order.
// The returned slice is shared; callers must not mutate it.
func (d *Dataset) Timeline() []int64 {
	return d.timeline
}

// At returns the bars open at ts, keyed by symbol. Nil when no symbol has
// a bar on that tick.
func (d *Dataset) At(ts int64) map[string]market.Candle {
	return d.bars[ts]
}

func (d *Dataset) Len() int { return len(d.timeline) }

func (d *Dataset) From() int64 {
	if len(d.timeline) == 0 {
		return 0
	}
	return d.timeline[0]
}

func (d *Dataset) To() int64 {
	if len(d.timeline) == 0 {
		return 0
	}
	return d.timeline[len(d.timeline)-1]
}

// Checksum hashes the full dataset in canonical order so two runs can prove
// they replayed identical input.
func (d *Dataset) Checksum() string {
	h := sha256.New()
	row := make([]byte, 0, 128)
	for _, ts := range d.timeline {
		tick := d.bars[ts]
		for _, sym := range d.symbols {
			c, ok := tick[sym]
			if !ok {
				continue
			}
			row = row[:0]
			row = append(row, sym...)
			row = append(row, ',')
			row = strconv.AppendInt(row, c.OpenTime, 10)
			row = append(row, ',')
			row = append(row, c.Open.String()...)
			row = append(row, ',')
			row = append(row, c.High.String()...)
			row = append(row, ',')
			row = append(row, c.Low.String()...)
			row = append(row, ',')
			row = append(row, c.Close.String()...)
			row = append(row, ',')
			row = append(row, c.Volume.String()...)
			row = append(row, '\n')
			h.Write(row)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
