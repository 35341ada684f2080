package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-backtest/services/market"
)

// 2024-01-01T00:00:00Z, minute-aligned.
const csvBase = int64(1_704_067_200_000)

func tsMin(i int) int64 { return csvBase + int64(i)*60_000 }

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileParsesSortsAndDedupes(t *testing.T) {
	content := fmt.Sprintf(
		"timestamp,open,high,low,close,volume\n"+
			"%d,30,31,29,30.5,300\n"+
			"%d,10,11,9,10.5,100\n"+
			"%d,10,12,9.5,11,150\n"+
			"%d,20,21,19,20.5,abc\n"+
			"%d,x,31,29,30.5,300\n",
		tsMin(2), tsMin(0), tsMin(0), tsMin(1), tsMin(3))
	path := writeCSV(t, "test.csv", content)

	loader := NewCSVLoader(nil)
	bars, rep, err := loader.LoadFile(path, "TEST")
	require.NoError(t, err)

	require.Len(t, bars, 3)
	assert.Equal(t, tsMin(0), bars[0].OpenTime)
	assert.Equal(t, tsMin(1), bars[1].OpenTime)
	assert.Equal(t, tsMin(2), bars[2].OpenTime)

	// Duplicate timestamp keeps the last row.
	assert.True(t, bars[0].Close.Equal(decimal.RequireFromString("11")))
	// Unparseable volume defaults to zero without dropping the bar.
	assert.True(t, bars[1].Volume.IsZero())

	assert.Equal(t, 5, rep.Rows)
	assert.Equal(t, 3, rep.Kept)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 1, rep.Deduped)
	assert.Equal(t, 0, rep.Gaps)
	assert.Equal(t, int64(60_000), rep.CadenceMs)
	assert.Equal(t, tsMin(0), rep.FirstTs)
	assert.Equal(t, tsMin(2), rep.LastTs)
}

func TestLoadFileNormalizesEpochSeconds(t *testing.T) {
	sec := csvBase / 1000
	content := fmt.Sprintf("%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n", sec, sec+60)
	path := writeCSV(t, "sec.csv", content)

	bars, rep, err := NewCSVLoader(nil).LoadFile(path, "SEC")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, csvBase, bars[0].OpenTime)
	assert.Equal(t, csvBase+60_000, bars[1].OpenTime)
	assert.Equal(t, 0, rep.Misaligned)
}

func TestLoadFileCountsGaps(t *testing.T) {
	content := fmt.Sprintf(
		"%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n%d,11,13,10.5,12,90\n",
		tsMin(0), tsMin(1), tsMin(5))
	path := writeCSV(t, "gap.csv", content)

	_, rep, err := NewCSVLoader(nil).LoadFile(path, "GAP")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Gaps)
}

func TestLoadFileRejectsNonMinuteCadence(t *testing.T) {
	content := fmt.Sprintf(
		"%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n%d,11,13,10.5,12,90\n",
		tsMin(0), tsMin(5), tsMin(10))
	path := writeCSV(t, "fivemin.csv", content)

	_, _, err := NewCSVLoader(nil).LoadFile(path, "FIVE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cadence")
}

func TestLoadFileNoUsableRows(t *testing.T) {
	path := writeCSV(t, "junk.csv", "timestamp,open,high,low,close\nnot,a,data,row,at all\n")

	_, _, err := NewCSVLoader(nil).LoadFile(path, "JUNK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable rows")
}

func TestLoadFileUTF8BOM(t *testing.T) {
	plain := fmt.Sprintf(
		"timestamp,open,high,low,close,volume\n%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n",
		tsMin(0), tsMin(1))
	buf := append([]byte{0xEF, 0xBB, 0xBF}, []byte(plain)...)
	path := filepath.Join(t.TempDir(), "bom.csv")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	bars, rep, err := NewCSVLoader(nil).LoadFile(path, "BOMD")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, tsMin(0), bars[0].OpenTime)
	assert.Equal(t, 2, rep.Kept)
}

func TestLoadFileUTF16LittleEndian(t *testing.T) {
	plain := fmt.Sprintf(
		"timestamp,open,high,low,close,volume\n%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n",
		tsMin(0), tsMin(1))
	buf := []byte{0xFF, 0xFE}
	for _, b := range []byte(plain) {
		buf = append(buf, b, 0x00)
	}
	path := filepath.Join(t.TempDir(), "utf16.csv")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	bars, _, err := NewCSVLoader(nil).LoadFile(path, "WIDE")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Open.Equal(decimal.RequireFromString("10")))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	row := func(i int) string {
		return fmt.Sprintf("%d,10,11,9,10.5,100\n%d,10.5,12,10,11,120\n", tsMin(i), tsMin(i+1))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aapl.csv"), []byte(row(0)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "msft.csv"), []byte(row(0)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644))

	bySymbol, reports, err := NewCSVLoader(nil).LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, bySymbol, 2)
	require.Len(t, reports, 2)
	assert.Contains(t, bySymbol, "AAPL")
	assert.Contains(t, bySymbol, "MSFT")
	assert.Equal(t, "AAPL", reports[0].Symbol)
	assert.Equal(t, "MSFT", reports[1].Symbol)
	for _, bars := range bySymbol {
		assert.Equal(t, market.Period1m, bars[0].Period)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	_, _, err := NewCSVLoader(nil).LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no csv files")
}

func TestHeaderDetection(t *testing.T) {
	tests := []struct {
		cell string
		want bool
	}{
		{"timestamp", true},
		{"TIMESTAMP_MS", true},
		{"ts", true},
		{"open_time_ms", true},
		{"1704067200000", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.ToLower("cell_"+tt.cell), func(t *testing.T) {
			assert.Equal(t, tt.want, isHeaderCell(tt.cell))
		})
	}
}
