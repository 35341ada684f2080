package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// tradesSchema is the columnar layout downstream analytics read.
var tradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "trade_id", Type: arrow.BinaryTypes.String},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "strategy", Type: arrow.BinaryTypes.String},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "trade_type", Type: arrow.BinaryTypes.String},
	{Name: "grade", Type: arrow.BinaryTypes.String},
	{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "size", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "r_multiple", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "outcome", Type: arrow.BinaryTypes.String},
}, nil)

// TradesToArrow serializes closed trades as one Arrow IPC stream.
func TradesToArrow(trades []*market.Trade) ([]byte, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to convert")
	}

	n := len(trades)
	ids := make([]string, n)
	symbols := make([]string, n)
	strategies := make([]string, n)
	sides := make([]string, n)
	types := make([]string, n)
	grades := make([]string, n)
	entryTimes := make([]int64, n)
	exitTimes := make([]int64, n)
	sizes := make([]float64, n)
	entries := make([]float64, n)
	exits := make([]float64, n)
	pnls := make([]float64, n)
	rs := make([]float64, n)
	reasons := make([]string, n)
	outcomes := make([]string, n)

	for i, t := range trades {
		ids[i] = t.ID
		symbols[i] = t.Symbol
		strategies[i] = t.Strategy
		sides[i] = t.Side.String()
		types[i] = t.TradeType.String()
		grades[i] = t.Grade.String()
		entryTimes[i] = t.EntryTime
		exitTimes[i] = t.ExitTime
		sizes[i] = t.Size.InexactFloat64()
		entries[i] = t.Entry.InexactFloat64()
		exits[i] = t.ExitPrice.InexactFloat64()
		pnls[i] = t.PnL.InexactFloat64()
		rs[i] = t.RMultiple.InexactFloat64()
		reasons[i] = t.ExitReason
		outcomes[i] = t.Outcome.String()
	}

	pool := memory.NewGoAllocator()

	strArray := func(vals []string) arrow.Array {
		b := array.NewStringBuilder(pool)
		b.AppendValues(vals, nil)
		return b.NewStringArray()
	}
	i64Array := func(vals []int64) arrow.Array {
		b := array.NewInt64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewInt64Array()
	}
	f64Array := func(vals []float64) arrow.Array {
		b := array.NewFloat64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewFloat64Array()
	}

	record := array.NewRecord(tradesSchema, []arrow.Array{
		strArray(ids),
		strArray(symbols),
		strArray(strategies),
		strArray(sides),
		strArray(types),
		strArray(grades),
		i64Array(entryTimes),
		i64Array(exitTimes),
		f64Array(sizes),
		f64Array(entries),
		f64Array(exits),
		f64Array(pnls),
		f64Array(rs),
		strArray(reasons),
		strArray(outcomes),
	}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(tradesSchema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTradesArrow writes the IPC stream to path. Nothing is written for
// an empty run.
func WriteTradesArrow(path string, trades []*market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	data, err := TradesToArrow(trades)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "ts_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "capital", Type: arrow.PrimitiveTypes.Float64},
	{Name: "cum_r", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drawdown_r", Type: arrow.PrimitiveTypes.Float64},
	{Name: "open_positions", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// EquityToArrow serializes the sampled equity curve as one IPC stream.
func EquityToArrow(points []replay.EquityPoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no equity points to convert")
	}

	n := len(points)
	stamps := make([]int64, n)
	capitals := make([]float64, n)
	cumRs := make([]float64, n)
	drawdowns := make([]float64, n)
	openPos := make([]int64, n)
	for i, p := range points {
		stamps[i] = p.Ts
		capitals[i] = p.Capital.InexactFloat64()
		cumRs[i] = p.CumR.InexactFloat64()
		drawdowns[i] = p.DrawdownR.InexactFloat64()
		openPos[i] = int64(p.OpenPositions)
	}

	pool := memory.NewGoAllocator()
	i64Array := func(vals []int64) arrow.Array {
		b := array.NewInt64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewInt64Array()
	}
	f64Array := func(vals []float64) arrow.Array {
		b := array.NewFloat64Builder(pool)
		b.AppendValues(vals, nil)
		return b.NewFloat64Array()
	}

	record := array.NewRecord(equitySchema, []arrow.Array{
		i64Array(stamps),
		f64Array(capitals),
		f64Array(cumRs),
		f64Array(drawdowns),
		i64Array(openPos),
	}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(equitySchema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteEquityArrow writes the equity IPC stream to path, skipping empty
// curves the same way the CSV writer does.
func WriteEquityArrow(path string, points []replay.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	data, err := EquityToArrow(points)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
