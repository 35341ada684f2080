package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"replay-backtest/services/feed"
	"replay-backtest/services/market"
)

// Config is the full run configuration. Load overlays a yaml file onto
// Default, so files only need the keys they change.
type Config struct {
	Mode string `yaml:"mode"` // strict | exploratory

	Data        DataConfig        `yaml:"data"`
	Session     SessionConfig     `yaml:"session"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Risk        RiskConfig        `yaml:"risk"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Replay      ReplayConfig      `yaml:"replay"`
	Report      ReportConfig      `yaml:"report"`
	Log         LogConfig         `yaml:"log"`
}

type DataConfig struct {
	Source     string                `yaml:"source"` // csv | clickhouse
	Dir        string                `yaml:"dir"`
	Symbols    []string              `yaml:"symbols"`
	From       string                `yaml:"from"` // RFC3339 or 2006-01-02, clickhouse source
	To         string                `yaml:"to"`
	ClickHouse feed.ClickHouseConfig `yaml:"clickhouse"`
}

type SessionConfig struct {
	OpenMinute    int `yaml:"open_minute"`  // minutes after UTC midnight; 0/0 means 24h
	CloseMinute   int `yaml:"close_minute"`
	OffsetMinutes int `yaml:"offset_minutes"`
}

type AggregationConfig struct {
	// Windows caps retained closed candles per period, e.g. {"5m": 256}.
	Windows map[string]int `yaml:"windows"`
}

type RiskConfig struct {
	InitialCapital      float64  `yaml:"initial_capital"`
	RiskFraction        float64  `yaml:"risk_fraction"`
	BuyingPowerRatio    float64  `yaml:"buying_power_ratio"`
	StopDayR            float64  `yaml:"stop_day_r"`
	StopRunDrawdownR    float64  `yaml:"stop_run_drawdown_r"`
	KillCumulativeR     float64  `yaml:"kill_cumulative_r"`
	KillMinSample       int      `yaml:"kill_min_sample"`
	KillMinProfitFactor float64  `yaml:"kill_min_profit_factor"`
	CooldownMinutes     int      `yaml:"cooldown_minutes"`
	SessionTradeCap     int      `yaml:"session_trade_cap"`
	AllowStrategies     []string `yaml:"allow_strategies"`
	DenyStrategies      []string `yaml:"deny_strategies"`
}

type ExecutionConfig struct {
	BreakevenTriggerR float64                     `yaml:"breakeven_trigger_r"`
	ScalpMaxMinutes   int                         `yaml:"scalp_max_minutes"`
	Instruments       map[string]InstrumentConfig `yaml:"instruments"`
}

type InstrumentConfig struct {
	Kind          string  `yaml:"kind"` // shares | contracts
	PointValue    float64 `yaml:"point_value"`
	SizeStep      float64 `yaml:"size_step"`
	TickSize      float64 `yaml:"tick_size"`
	MarginPerUnit float64 `yaml:"margin_per_unit"`
}

type StrategyConfig struct {
	Enabled []string   `yaml:"enabled"`
	Wick    WickTuning `yaml:"wick"`
}

// WickTuning parameterizes the wick-reversal provider.
type WickTuning struct {
	MinScore       float64 `yaml:"min_score"`
	MinRiskReward  float64 `yaml:"min_risk_reward"`
	WickBodyRatio  float64 `yaml:"wick_body_ratio"`
	SweepLookback  int     `yaml:"sweep_lookback"`
	VolumeMultiple float64 `yaml:"volume_multiple"`
	SwingMinScore  float64 `yaml:"swing_min_score"`
}

type ReplayConfig struct {
	EquityEveryMinutes int `yaml:"equity_every_minutes"`
}

type ReportConfig struct {
	OutDir     string         `yaml:"out_dir"`
	WriteCSV   bool           `yaml:"write_csv"`
	WriteArrow bool           `yaml:"write_arrow"`
	Journal    JournalConfig  `yaml:"journal"`
	ClickHouse ReportCHConfig `yaml:"clickhouse"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite file
}

type ReportCHConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Conn    feed.ClickHouseConfig `yaml:"conn"`
	Table   string                `yaml:"table"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // debug | info | warn | error
	Encoding string `yaml:"encoding"` // console | json
}

// Default returns the configuration a run gets with an empty file.
func Default() Config {
	return Config{
		Mode: "strict",
		Data: DataConfig{Source: "csv"},
		Aggregation: AggregationConfig{
			// 1m covers a full day so session references stay exact.
			Windows: map[string]int{"1m": 1440, "5m": 256, "15m": 256, "1h": 256, "4h": 128, "1d": 64},
		},
		Risk: RiskConfig{
			InitialCapital:      50_000,
			RiskFraction:        0.02,
			BuyingPowerRatio:    4,
			KillMinSample:       20,
			KillMinProfitFactor: 0.5,
			CooldownMinutes:     15,
			SessionTradeCap:     3,
		},
		Execution: ExecutionConfig{
			BreakevenTriggerR: 1,
			ScalpMaxMinutes:   90,
		},
		Strategy: StrategyConfig{
			Enabled: []string{"wick-reversal"},
			Wick: WickTuning{
				MinScore:       0.55,
				MinRiskReward:  1.5,
				WickBodyRatio:  1.5,
				SweepLookback:  20,
				VolumeMultiple: 1.2,
				SwingMinScore:  0.75,
			},
		},
		Replay: ReplayConfig{EquityEveryMinutes: 1},
		Report: ReportConfig{OutDir: "reports", WriteCSV: true},
		Log:    LogConfig{Level: "info", Encoding: "console"},
	}
}

// Load reads path and overlays it onto Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromBytes(data)
}

// FromBytes parses yaml over the defaults and validates.
func FromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := market.ParseMode(c.Mode); !ok {
		return fmt.Errorf("mode must be strict or exploratory, got %q", c.Mode)
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.Dir == "" {
			return fmt.Errorf("data.dir is required for the csv source")
		}
	case "clickhouse":
		if c.Data.ClickHouse.Addr == "" {
			return fmt.Errorf("data.clickhouse.addr is required")
		}
		if len(c.Data.Symbols) == 0 {
			return fmt.Errorf("data.symbols is required for the clickhouse source")
		}
		if c.Data.From == "" || c.Data.To == "" {
			return fmt.Errorf("data.from and data.to are required for the clickhouse source")
		}
	default:
		return fmt.Errorf("data.source must be csv or clickhouse, got %q", c.Data.Source)
	}

	if c.Session.OpenMinute < 0 || c.Session.OpenMinute > 1439 ||
		c.Session.CloseMinute < 0 || c.Session.CloseMinute > 1439 {
		return fmt.Errorf("session minutes must be within a day")
	}
	if c.Session.CloseMinute != 0 && c.Session.CloseMinute <= c.Session.OpenMinute {
		return fmt.Errorf("session.close_minute must be after open_minute")
	}

	for p, w := range c.Aggregation.Windows {
		if _, err := market.ParsePeriod(p); err != nil {
			return fmt.Errorf("aggregation.windows: %w", err)
		}
		if w <= 0 {
			return fmt.Errorf("aggregation.windows[%s] must be positive", p)
		}
	}

	if c.Risk.InitialCapital <= 0 {
		return fmt.Errorf("risk.initial_capital must be positive")
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction >= 1 {
		return fmt.Errorf("risk.risk_fraction must be in (0,1)")
	}

	for sym, in := range c.Execution.Instruments {
		if in.Kind != "" && in.Kind != "shares" && in.Kind != "contracts" {
			return fmt.Errorf("execution.instruments[%s].kind must be shares or contracts", sym)
		}
	}

	if len(c.Strategy.Enabled) == 0 {
		return fmt.Errorf("strategy.enabled must name at least one strategy")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.encoding must be console or json, got %q", c.Log.Encoding)
	}
	return nil
}

// Hash fingerprints the effective configuration for the run manifest.
func (c *Config) Hash() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
