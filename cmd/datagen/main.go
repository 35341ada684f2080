//! Synthetic Data Generator
//!
//! Writes seeded, reproducible 1m OHLCV CSVs: a drifting random walk with
//! multi-day trend phases and U-shaped session volume. Same seed, same
//! files, so generated fixtures can back deterministic demo runs.

package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const minutesPerDay = 1440

func main() {
	out := flag.String("out", "testdata", "Output directory, one CSV per symbol")
	symbols := flag.String("symbols", "AAPL", "Comma-separated symbols")
	days := flag.Int("days", 5, "Days of 1m bars per symbol")
	start := flag.String("start", "2024-01-08", "First day (2006-01-02, UTC)")
	seed := flag.Int64("seed", 42, "Random seed")
	base := flag.Float64("base", 100, "Starting price")
	flag.Parse()

	startDay, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}

	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		path := filepath.Join(*out, strings.ToLower(sym)+".csv")
		bars, err := writeSymbol(path, sym, startDay, *days, *seed, *base)
		if err != nil {
			log.Fatalf("%s: %v", sym, err)
		}
		fmt.Printf("%s: %d bars -> %s\n", sym, bars, path)
	}
}

// symbolSeed keeps runs reproducible while giving each symbol its own walk.
func symbolSeed(seed int64, sym string) int64 {
	var h int64
	for _, r := range sym {
		h = h*31 + int64(r)
	}
	return seed + h
}

func writeSymbol(path, sym string, startDay time.Time, days int, seed int64, base float64) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp_ms", "open", "high", "low", "close", "volume"}); err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(symbolSeed(seed, sym)))
	price := base
	total := days * minutesPerDay
	startMs := startDay.UnixMilli()

	for i := 0; i < total; i++ {
		minuteOfDay := i % minutesPerDay

		// Alternating multi-day trend phases keep the walk from going flat.
		trend := 0.0
		switch (i / minutesPerDay) % 5 {
		case 1:
			trend = 0.00004
		case 3:
			trend = -0.00004
		}

		change := (rng.Float64()-0.5)*0.0008 + trend
		price *= 1 + change
		if price < base*0.5 {
			price = base * 0.5
		}

		open := price
		vol := 0.0004 + rng.Float64()*0.0008
		high := open * (1 + vol*rng.Float64())
		low := open * (1 - vol*rng.Float64())
		close := open + (high-low)*(rng.Float64()-0.5)*0.8
		if high < open {
			high = open
		}
		if high < close {
			high = close
		}
		if low > open {
			low = open
		}
		if low > close {
			low = close
		}

		// U-shaped session volume: heavier opens and closes.
		edge := math.Min(float64(minuteOfDay), float64(minutesPerDay-1-minuteOfDay))
		shape := 1.0 + 2.0*math.Exp(-edge/90.0)
		volume := math.Round((500 + rng.Float64()*1500) * shape * (1 + math.Abs(change)*2000))

		ts := startMs + int64(i)*60_000
		rec := []string{
			fmt.Sprintf("%d", ts),
			decimal.NewFromFloat(open).Round(4).String(),
			decimal.NewFromFloat(high).Round(4).String(),
			decimal.NewFromFloat(low).Round(4).String(),
			decimal.NewFromFloat(close).Round(4).String(),
			decimal.NewFromFloat(volume).String(),
		}
		if err := w.Write(rec); err != nil {
			return 0, err
		}
		price = close
	}

	w.Flush()
	return total, w.Error()
}
