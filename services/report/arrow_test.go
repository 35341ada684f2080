package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

func TestTradesToArrowRoundTrip(t *testing.T) {
	trades := []*market.Trade{reportTrade(0, 2), reportTrade(1, -1)}

	data, err := TradesToArrow(trades)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	rdr, err := ipc.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer rdr.Release()

	require.True(t, rdr.Next())
	rec := rdr.Record()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(15), rec.NumCols())

	schema := rdr.Schema()
	assert.Equal(t, "trade_id", schema.Field(0).Name)
	assert.Equal(t, "r_multiple", schema.Field(12).Name)

	ids := rec.Column(0).(*array.String)
	assert.Equal(t, "trade-0", ids.Value(0))
	assert.Equal(t, "trade-1", ids.Value(1))

	entryTimes := rec.Column(6).(*array.Int64)
	assert.Equal(t, reportBase, entryTimes.Value(0))

	rs := rec.Column(12).(*array.Float64)
	assert.InDelta(t, 2.0, rs.Value(0), 1e-9)
	assert.InDelta(t, -1.0, rs.Value(1), 1e-9)

	outcomes := rec.Column(14).(*array.String)
	assert.Equal(t, "win", outcomes.Value(0))
	assert.Equal(t, "loss", outcomes.Value(1))

	assert.False(t, rdr.Next())
}

func TestTradesToArrowRejectsEmpty(t *testing.T) {
	_, err := TradesToArrow(nil)
	require.Error(t, err)
}

func TestWriteTradesArrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.arrow")

	require.NoError(t, WriteTradesArrow(path, nil))
	assert.NoFileExists(t, path) // empty run writes nothing

	trades := []*market.Trade{reportTrade(0, 1)}
	require.NoError(t, WriteTradesArrow(path, trades))

	assert.FileExists(t, path)
}

func TestEquityToArrowRoundTrip(t *testing.T) {
	points := []replay.EquityPoint{
		{Ts: reportBase, Capital: decimal.NewFromInt(50_000)},
		{Ts: reportBase + 3_600_000, Capital: decimal.NewFromInt(51_000), CumR: decimal.NewFromInt(1), OpenPositions: 1},
	}

	data, err := EquityToArrow(points)
	require.NoError(t, err)

	rdr, err := ipc.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer rdr.Release()

	require.True(t, rdr.Next())
	rec := rdr.Record()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(5), rec.NumCols())
	assert.Equal(t, "capital", rdr.Schema().Field(1).Name)

	stamps := rec.Column(0).(*array.Int64)
	assert.Equal(t, reportBase, stamps.Value(0))

	capitals := rec.Column(1).(*array.Float64)
	assert.InDelta(t, 51000, capitals.Value(1), 1e-9)

	openPos := rec.Column(4).(*array.Int64)
	assert.Equal(t, int64(1), openPos.Value(1))
}

func TestWriteEquityArrowSkipsEmptyCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equity.arrow")
	require.NoError(t, WriteEquityArrow(path, nil))
	assert.NoFileExists(t, path)
}
