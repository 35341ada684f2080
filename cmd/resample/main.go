package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/feed"
	"replay-backtest/services/market"
)

func main() {
	in := flag.String("in", "", "Input 1m CSV (timestamp,open,high,low,close[,volume])")
	out := flag.String("out", "", "Output CSV path")
	period := flag.String("period", "5m", "Target period: 5m, 15m, 1h, 4h or 1d")
	symbol := flag.String("symbol", "", "Symbol label; uppercased file stem when empty")
	offset := flag.Int("offset", 0, "Intraday bucket offset in minutes")
	verbose := flag.Bool("verbose", false, "Log load diagnostics")
	flag.Parse()

	if *in == "" || *out == "" {
		log.Fatal("-in and -out are required")
	}
	target, err := market.ParsePeriod(*period)
	if err != nil {
		log.Fatalf("period: %v", err)
	}
	if target == market.Period1m {
		log.Fatal("target period must be above 1m")
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("build logger: %v", err)
		}
	}

	sym := strings.ToUpper(*symbol)
	if sym == "" {
		base := filepath.Base(*in)
		sym = strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
	}

	bars, rep, err := feed.NewCSVLoader(logger).LoadFile(*in, sym)
	if err != nil {
		log.Fatalf("load %s: %v", *in, err)
	}

	// The window must hold every produced bucket; 1m history is not needed.
	agg := aggregate.New(aggregate.Config{
		Periods:       []market.Period{target},
		Windows:       map[market.Period]int{target: len(bars) + 1, market.Period1m: 1},
		OffsetMinutes: *offset,
		Calendar:      market.NewCalendar(0, 0),
	})
	for _, b := range bars {
		if _, err := agg.Update(b); err != nil {
			log.Fatalf("aggregate: %v", err)
		}
	}
	// The stream is bounded, so the trailing partial bucket is emitted too.
	agg.Flush(sym)

	resampled := agg.History(sym, target)
	if err := writeCSV(*out, resampled); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Resampled %d 1m bars (%d gaps) into %d %s bars: %s\n",
		rep.Kept, rep.Gaps, len(resampled), target, *out)
}

func writeCSV(path string, bars []market.Candle) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("timestamp,open,high,low,close,volume\n"); err != nil {
		return err
	}
	for _, b := range bars {
		line := fmt.Sprintf("%d,%s,%s,%s,%s,%s\n",
			b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume)
		if _, err := w.WriteString(line); err != nil {
			return err
		}
	}
	return w.Flush()
}
