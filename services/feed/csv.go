package feed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"replay-backtest/services/market"
)

const minuteMs = 60_000

// Timestamps below this are epoch seconds, not millis.
const tsSecondsCutoff = 100_000_000_000

// LoadReport summarizes one symbol's load for the run manifest.
type LoadReport struct {
	Symbol     string
	File       string
	Rows       int // data rows seen (header excluded)
	Kept       int // bars surviving parse and dedupe
	Dropped    int // malformed rows skipped
	Deduped    int // duplicate timestamps collapsed, keep last
	Gaps       int // missing minutes inside the series
	Misaligned int // timestamps not on a minute boundary
	FirstTs    int64
	LastTs     int64
	CadenceMs  int64
}

// CSVLoader reads 1m OHLCV series from CSV files.
//
// Accepted layout: timestamp,open,high,low,close[,volume] with an optional
// header row. Timestamps are epoch millis; epoch seconds are detected and
// scaled. UTF-8 and UTF-16 (LE/BE with BOM) files are both handled.
type CSVLoader struct {
	log *zap.Logger
}

func NewCSVLoader(log *zap.Logger) *CSVLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVLoader{log: log}
}

// LoadFile parses one file into a sorted, deduplicated 1m series.
func (l *CSVLoader) LoadFile(path, symbol string) ([]market.Candle, LoadReport, error) {
	rep := LoadReport{Symbol: symbol, File: path}

	f, err := os.Open(path)
	if err != nil {
		return nil, rep, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var src io.Reader = br
	// UTF-16 exports (Excel) start with a 2-byte BOM.
	if head, perr := br.Peek(2); perr == nil && len(head) == 2 {
		if (head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF) {
			endian := unicode.LittleEndian
			if head[0] == 0xFE {
				endian = unicode.BigEndian
			}
			src = transform.NewReader(br, unicode.UTF16(endian, unicode.ExpectBOM).NewDecoder())
		}
	}

	r := csv.NewReader(src)
	r.ReuseRecord = false
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	bars := make([]market.Candle, 0, 1_000)
	first := true
	for {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			rep.Dropped++
			continue
		}
		if len(rec) < 5 {
			rep.Dropped++
			continue
		}
		cell := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		if first {
			first = false
			if isHeaderCell(cell) {
				continue
			}
		}
		rep.Rows++

		ts, perr := strconv.ParseInt(cell, 10, 64)
		if perr != nil || ts <= 0 {
			rep.Dropped++
			continue
		}
		if ts < tsSecondsCutoff {
			ts *= 1000
		}

		c := market.Candle{Symbol: symbol, Period: market.Period1m, OpenTime: ts}
		if c.Open, perr = decimal.NewFromString(strings.TrimSpace(rec[1])); perr != nil {
			rep.Dropped++
			continue
		}
		if c.High, perr = decimal.NewFromString(strings.TrimSpace(rec[2])); perr != nil {
			rep.Dropped++
			continue
		}
		if c.Low, perr = decimal.NewFromString(strings.TrimSpace(rec[3])); perr != nil {
			rep.Dropped++
			continue
		}
		if c.Close, perr = decimal.NewFromString(strings.TrimSpace(rec[4])); perr != nil {
			rep.Dropped++
			continue
		}
		if len(rec) >= 6 {
			if v, verr := decimal.NewFromString(strings.TrimSpace(rec[5])); verr == nil {
				c.Volume = v
			}
		}
		if c.High.LessThan(c.Low) {
			rep.Dropped++
			continue
		}
		bars = append(bars, c)
	}

	if len(bars) == 0 {
		return nil, rep, fmt.Errorf("%s: no usable rows", path)
	}

	// Sort by timestamp and collapse duplicates, keeping the last occurrence.
	// The stable sort preserves file order between equal timestamps, so
	// "last occurrence" means last in the file.
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].OpenTime < bars[j].OpenTime })
	uniq := bars[:0]
	var lastTs int64 = -1
	for _, b := range bars {
		if b.OpenTime == lastTs {
			uniq[len(uniq)-1] = b
			rep.Deduped++
			continue
		}
		uniq = append(uniq, b)
		lastTs = b.OpenTime
	}
	bars = uniq

	cadence, err := detectCadence(bars)
	if err != nil {
		return nil, rep, fmt.Errorf("%s: %w", path, err)
	}
	rep.CadenceMs = cadence

	for i := range bars {
		if bars[i].OpenTime%minuteMs != 0 {
			rep.Misaligned++
		}
		if i > 0 {
			if d := bars[i].OpenTime - bars[i-1].OpenTime; d > minuteMs {
				rep.Gaps += int(d/minuteMs) - 1
			}
		}
	}
	if rep.Misaligned > 0 {
		l.log.Warn("timestamps off minute boundary",
			zap.String("symbol", symbol),
			zap.Int("misaligned", rep.Misaligned))
	}

	rep.Kept = len(bars)
	rep.FirstTs = bars[0].OpenTime
	rep.LastTs = bars[len(bars)-1].OpenTime

	l.log.Info("csv loaded",
		zap.String("symbol", symbol),
		zap.String("file", filepath.Base(path)),
		zap.Int("bars", rep.Kept),
		zap.Int("dropped", rep.Dropped),
		zap.Int("deduped", rep.Deduped),
		zap.Int("gaps", rep.Gaps),
		zap.Time("first", time.UnixMilli(rep.FirstTs).UTC()),
		zap.Time("last", time.UnixMilli(rep.LastTs).UTC()))

	return bars, rep, nil
}

// LoadDir loads every *.csv in dir; the symbol is the uppercased file stem.
func (l *CSVLoader) LoadDir(dir string) (map[string][]market.Candle, []LoadReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no csv files in %s", dir)
	}
	sort.Strings(files)

	bySymbol := make(map[string][]market.Candle, len(files))
	reports := make([]LoadReport, 0, len(files))
	for _, name := range files {
		symbol := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
		bars, rep, err := l.LoadFile(filepath.Join(dir, name), symbol)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := bySymbol[symbol]; dup {
			return nil, nil, fmt.Errorf("duplicate symbol %s in %s", symbol, dir)
		}
		bySymbol[symbol] = bars
		reports = append(reports, rep)
	}
	return bySymbol, reports, nil
}

func isHeaderCell(cell string) bool {
	for _, h := range []string{"timestamp", "timestamp_ms", "time", "ts", "open_time_ms", "date"} {
		if strings.EqualFold(cell, h) {
			return true
		}
	}
	return false
}

// detectCadence finds the most common delta between consecutive bars and
// requires it to be one minute.
func detectCadence(bars []market.Candle) (int64, error) {
	if len(bars) < 2 {
		return minuteMs, nil
	}
	deltaCount := make(map[int64]int)
	limit := len(bars)
	if limit > 2000 {
		limit = 2000
	}
	for i := 1; i < limit; i++ {
		d := bars[i].OpenTime - bars[i-1].OpenTime
		if d > 0 && d < int64(60*60*1000) {
			deltaCount[d]++
		}
	}
	var best int64 = minuteMs
	bestCount := -1
	for d, c := range deltaCount {
		if c > bestCount || (c == bestCount && d < best) {
			bestCount = c
			best = d
		}
	}
	if best != minuteMs {
		return 0, fmt.Errorf("unsupported cadence %dms: want 1m bars", best)
	}
	return best, nil
}
