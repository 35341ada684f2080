package feed

import (
	"context"
	"fmt"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replay-backtest/services/market"
)

// ClickHouseConfig locates a 1m bar table laid out as
// (symbol String, interval LowCardinality(String), open_time_ms UInt64,
// open..volume Float64) under a ReplacingMergeTree.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ClickHouseLoader reads minute series out of ClickHouse.
type ClickHouseLoader struct {
	conn clickhouse.Conn
	cfg  ClickHouseConfig
	log  *zap.Logger
}

func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig, log *zap.Logger) (*ClickHouseLoader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseLoader{conn: conn, cfg: cfg, log: log}, nil
}

// Load returns the symbol's 1m bars with open time in [fromMs, toMs).
func (l *ClickHouseLoader) Load(ctx context.Context, symbol string, fromMs, toMs int64) ([]market.Candle, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = '1m' AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms
	`, l.cfg.Database, l.cfg.Table)

	rows, err := l.conn.Query(ctx, query, symbol, uint64(fromMs), uint64(toMs))
	if err != nil {
		return nil, fmt.Errorf("query 1m bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var (
			openMs                       uint64
			open, high, low, closep, vol float64
		)
		if err := rows.Scan(&openMs, &open, &high, &low, &closep, &vol); err != nil {
			return nil, fmt.Errorf("scan 1m bar: %w", err)
		}
		out = append(out, market.Candle{
			Symbol:   symbol,
			Period:   market.Period1m,
			OpenTime: int64(openMs),
			Open:     decimal.NewFromFloat(open),
			High:     decimal.NewFromFloat(high),
			Low:      decimal.NewFromFloat(low),
			Close:    decimal.NewFromFloat(closep),
			Volume:   decimal.NewFromFloat(vol),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read 1m bars for %s: %w", symbol, err)
	}

	l.log.Info("clickhouse loaded",
		zap.String("symbol", symbol),
		zap.Int("bars", len(out)))
	return out, nil
}

// LoadAll fetches every requested symbol; a symbol with no rows in range
// fails the whole load.
func (l *ClickHouseLoader) LoadAll(ctx context.Context, symbols []string, fromMs, toMs int64) (map[string][]market.Candle, error) {
	bySymbol := make(map[string][]market.Candle, len(symbols))
	for _, sym := range symbols {
		bars, err := l.Load(ctx, sym, fromMs, toMs)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("no 1m bars for %s in range", sym)
		}
		bySymbol[sym] = bars
	}
	return bySymbol, nil
}

func (l *ClickHouseLoader) Close() error {
	return l.conn.Close()
}
