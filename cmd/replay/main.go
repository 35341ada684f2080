package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/config"
	"replay-backtest/services/execution"
	"replay-backtest/services/feed"
	"replay-backtest/services/market"
	"replay-backtest/services/monitoring"
	"replay-backtest/services/replay"
	"replay-backtest/services/report"
	"replay-backtest/services/risk"
	"replay-backtest/strategies"
)

func main() {
	// Flags override the yaml file, which overlays the built-in defaults.
	cfgPath := flag.String("config", "", "Path to YAML config; built-in defaults when empty")
	dataDir := flag.String("data", "", "CSV data directory (overrides data.dir)")
	symbols := flag.String("symbols", "", "Comma-separated symbol filter (overrides data.symbols)")
	from := flag.String("from", "", "Start, 2006-01-02 or RFC3339 (overrides data.from)")
	to := flag.String("to", "", "End, exclusive (overrides data.to)")
	mode := flag.String("mode", "", "strict or exploratory (overrides mode)")
	outDir := flag.String("out", "", "Report directory (overrides report.out_dir)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	applyOverrides(cfg, *dataDir, *symbols, *from, *to, *mode, *outDir, *logLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runDir, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
	printSummary(res, runDir)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func applyOverrides(cfg *config.Config, dataDir, symbols, from, to, mode, outDir, logLevel string) {
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if symbols != "" {
		cfg.Data.Symbols = splitSymbols(symbols)
	}
	if from != "" {
		cfg.Data.From = from
	}
	if to != "" {
		cfg.Data.To = to
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if outDir != "" {
		cfg.Report.OutDir = outDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

func splitSymbols(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// run wires feed -> aggregator -> risk -> execution -> engine and persists
// whatever sinks the config enables.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*replay.Result, string, error) {
	hash, err := cfg.Hash()
	if err != nil {
		return nil, "", err
	}

	bySymbol, err := loadCandles(ctx, cfg, logger)
	if err != nil {
		return nil, "", err
	}
	dataset, err := feed.NewDataset(bySymbol)
	if err != nil {
		return nil, "", err
	}

	cal := cfg.Session.Calendar()
	aggCfg, err := cfg.Aggregation.Build(cal, cfg.Session.OffsetMinutes)
	if err != nil {
		return nil, "", err
	}
	riskMgr, err := risk.NewManager(cfg.Risk.Build(), cal, logger)
	if err != nil {
		return nil, "", err
	}
	execEng, err := execution.New(cfg.Execution.Build(riskMgr.BaseRUnit()), riskMgr, logger)
	if err != nil {
		return nil, "", err
	}
	providers, err := strategies.Build(cfg.Strategy.Enabled, tuningFrom(cfg.Strategy.Wick), cfg.RunMode(), logger)
	if err != nil {
		return nil, "", err
	}

	rec := report.NewRecorder()
	engine, err := replay.New(cfg.Replay.Build(cfg.RunMode(), hash), replay.Deps{
		Dataset:    dataset,
		Aggregator: aggregate.New(aggCfg),
		Risk:       riskMgr,
		Execution:  execEng,
		Providers:  providers,
		Sink:       replay.MultiSink{rec, monitoring.NewMetricsSink()},
		Log:        logger,
	})
	if err != nil {
		return nil, "", err
	}

	res, err := engine.Run(ctx)
	if err != nil {
		return nil, "", err
	}

	runDir := filepath.Join(cfg.Report.OutDir, res.Manifest.RunID)
	if err := persist(ctx, cfg, logger, res, rec, runDir); err != nil {
		return nil, "", err
	}
	return res, runDir, nil
}

func tuningFrom(w config.WickTuning) strategies.Tuning {
	return strategies.Tuning{
		MinScore:       w.MinScore,
		MinRiskReward:  w.MinRiskReward,
		WickBodyRatio:  w.WickBodyRatio,
		SweepLookback:  w.SweepLookback,
		VolumeMultiple: w.VolumeMultiple,
		SwingMinScore:  w.SwingMinScore,
	}
}

func loadCandles(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[string][]market.Candle, error) {
	if cfg.Data.Source == "clickhouse" {
		fromMs, toMs, err := cfg.Data.Range()
		if err != nil {
			return nil, err
		}
		loader, err := feed.OpenClickHouse(ctx, cfg.Data.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		return loader.LoadAll(ctx, cfg.Data.Symbols, fromMs, toMs)
	}

	bySymbol, _, err := feed.NewCSVLoader(logger).LoadDir(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	if len(cfg.Data.Symbols) == 0 {
		return bySymbol, nil
	}
	keep := make(map[string][]market.Candle, len(cfg.Data.Symbols))
	for _, sym := range cfg.Data.Symbols {
		sym = strings.ToUpper(sym)
		bars, ok := bySymbol[sym]
		if !ok {
			return nil, fmt.Errorf("symbol %s not found in %s", sym, cfg.Data.Dir)
		}
		keep[sym] = bars
	}
	return keep, nil
}

func persist(ctx context.Context, cfg *config.Config, logger *zap.Logger, res *replay.Result, rec *report.Recorder, runDir string) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if cfg.Report.WriteCSV {
		if err := report.WriteAll(runDir, res, rec); err != nil {
			return err
		}
	}
	if cfg.Report.WriteArrow {
		if err := report.WriteTradesArrow(filepath.Join(runDir, "trades.arrow"), res.Trades); err != nil {
			return err
		}
		if err := report.WriteEquityArrow(filepath.Join(runDir, "equity.arrow"), rec.Equity()); err != nil {
			return err
		}
	}
	if cfg.Report.Journal.Enabled {
		path := cfg.Report.Journal.Path
		if path == "" {
			path = filepath.Join(cfg.Report.OutDir, "journal.db")
		}
		journal, err := report.OpenJournal(path)
		if err != nil {
			return err
		}
		if err := journal.Record(ctx, res); err != nil {
			journal.Close()
			return err
		}
		if err := journal.Close(); err != nil {
			return err
		}
		logger.Info("journal updated", zap.String("path", path))
	}
	if cfg.Report.ClickHouse.Enabled {
		sink, err := report.OpenClickHouseSink(ctx, cfg.Report.ClickHouse.Conn, cfg.Report.ClickHouse.Table, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.InsertTrades(ctx, res.Manifest.RunID, res.Trades); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(res *replay.Result, runDir string) {
	s := res.Summary
	fmt.Println("=== Replay Summary ===")
	fmt.Printf("Run: %s (mode %s, engine %s)\n", res.Manifest.RunID, s.Mode, s.EngineVersion)
	fmt.Printf("Window: %s to %s UTC, %d bars, symbols %s\n",
		stampUTC(res.Manifest.FromTs), stampUTC(res.Manifest.ToTs),
		res.Manifest.Bars, strings.Join(res.Manifest.Symbols, ","))
	fmt.Printf("Trades: %d (%dW/%dL/%dBE), WinRate: %.1f%%, ProfitFactor: %.2f\n",
		s.TotalTrades, s.Wins, s.Losses, s.Breakevens, s.WinRatePct, s.ProfitFactor)
	fmt.Printf("TotalR: %s, Expectancy: %.2fR, MaxDrawdown: %sR\n",
		s.TotalR.StringFixed(2), s.ExpectancyR, s.MaxDrawdownR.StringFixed(2))
	fmt.Printf("Equity: $%s -> $%s (tier %d)\n",
		s.EquityStart.StringFixed(2), s.EquityEnd.StringFixed(2), s.FinalTier)
	fmt.Printf("Artifacts: %s\n", runDir)
}

func stampUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}
