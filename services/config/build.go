package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/execution"
	"replay-backtest/services/market"
	"replay-backtest/services/replay"
	"replay-backtest/services/risk"
)

// Bridging from yaml-friendly values to domain types lives here so the
// cmds stay thin. Floats become decimals via NewFromFloat, which keeps
// the digits exactly as typed in the file.

func (s SessionConfig) Calendar() market.Calendar {
	return market.NewCalendar(s.OpenMinute, s.CloseMinute)
}

func (a AggregationConfig) Build(cal market.Calendar, offsetMinutes int) (aggregate.Config, error) {
	cfg := aggregate.Config{
		Windows:       make(map[market.Period]int, len(a.Windows)),
		OffsetMinutes: offsetMinutes,
		Calendar:      cal,
	}
	for name, w := range a.Windows {
		p, err := market.ParsePeriod(name)
		if err != nil {
			return aggregate.Config{}, err
		}
		cfg.Windows[p] = w
		// 1m history is always kept; only higher periods aggregate.
		if p == market.Period1m {
			continue
		}
		cfg.Periods = append(cfg.Periods, p)
	}
	sort.Slice(cfg.Periods, func(i, j int) bool {
		return cfg.Periods[i].Millis() < cfg.Periods[j].Millis()
	})
	return cfg, nil
}

func (r RiskConfig) Build() risk.Config {
	return risk.Config{
		InitialCapital:      decimal.NewFromFloat(r.InitialCapital),
		RiskFraction:        decimal.NewFromFloat(r.RiskFraction),
		BuyingPowerRatio:    decimal.NewFromFloat(r.BuyingPowerRatio),
		StopDayR:            decimal.NewFromFloat(r.StopDayR),
		StopRunDrawdownR:    decimal.NewFromFloat(r.StopRunDrawdownR),
		KillCumulativeR:     decimal.NewFromFloat(r.KillCumulativeR),
		KillMinSample:       r.KillMinSample,
		KillMinProfitFactor: decimal.NewFromFloat(r.KillMinProfitFactor),
		CooldownMinutes:     r.CooldownMinutes,
		SessionTradeCap:     r.SessionTradeCap,
		AllowStrategies:     r.AllowStrategies,
		DenyStrategies:      r.DenyStrategies,
	}
}

func (i InstrumentConfig) Build(symbol string) market.Instrument {
	in := market.DefaultInstrument(symbol)
	if i.Kind == "contracts" {
		in.Kind = market.KindContracts
	}
	if i.PointValue > 0 {
		in.PointValue = decimal.NewFromFloat(i.PointValue)
	}
	if i.SizeStep > 0 {
		in.SizeStep = decimal.NewFromFloat(i.SizeStep)
	}
	if i.TickSize > 0 {
		in.TickSize = decimal.NewFromFloat(i.TickSize)
	}
	if i.MarginPerUnit > 0 {
		in.MarginPerUnit = decimal.NewFromFloat(i.MarginPerUnit)
	}
	return in
}

func (e ExecutionConfig) Build(baseR decimal.Decimal) execution.Config {
	cfg := execution.Config{
		BaseRUnit:         baseR,
		BreakevenTriggerR: decimal.NewFromFloat(e.BreakevenTriggerR),
		ScalpMaxMinutes:   e.ScalpMaxMinutes,
	}
	if len(e.Instruments) > 0 {
		cfg.Instruments = make(map[string]market.Instrument, len(e.Instruments))
		for sym, in := range e.Instruments {
			cfg.Instruments[sym] = in.Build(sym)
		}
	}
	return cfg
}

func (r ReplayConfig) Build(mode market.Mode, configHash string) replay.Config {
	return replay.Config{
		Mode:               mode,
		EquityEveryMinutes: r.EquityEveryMinutes,
		ConfigHash:         configHash,
	}
}

// Range parses the clickhouse source window. From is inclusive, To
// exclusive; both accept 2006-01-02 or RFC3339.
func (d DataConfig) Range() (fromMs, toMs int64, err error) {
	fromMs, err = parseStamp(d.From)
	if err != nil {
		return 0, 0, fmt.Errorf("data.from: %w", err)
	}
	toMs, err = parseStamp(d.To)
	if err != nil {
		return 0, 0, fmt.Errorf("data.to: %w", err)
	}
	if toMs <= fromMs {
		return 0, 0, fmt.Errorf("data.to must be after data.from")
	}
	return fromMs, toMs, nil
}

func parseStamp(s string) (int64, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("want 2006-01-02 or RFC3339, got %q", s)
	}
	return t.UnixMilli(), nil
}

// Build constructs the logger: console encoding uses the development
// preset, json the production one.
func (l LogConfig) Build() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if l.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}
	var cfg zap.Config
	if l.Encoding == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// RunMode returns the parsed run mode; Validate has already vetted it.
func (c *Config) RunMode() market.Mode {
	m, _ := market.ParseMode(c.Mode)
	return m
}
