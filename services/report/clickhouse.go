package report

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"replay-backtest/services/feed"
	"replay-backtest/services/market"
)

// ClickHouseSink persists closed trades keyed by run so analytics can
// query across runs. Rows are versioned; re-inserting a run replaces
// its trades instead of duplicating them.
type ClickHouseSink struct {
	conn     clickhouse.Conn
	database string
	table    string
	log      *zap.Logger
}

// OpenClickHouseSink connects, pings and ensures the trades table exists.
func OpenClickHouseSink(ctx context.Context, cfg feed.ClickHouseConfig, table string, log *zap.Logger) (*ClickHouseSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if table == "" {
		table = "backtest_trades"
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
	s := &ClickHouseSink{conn: conn, database: cfg.Database, table: table, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	dbDDL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database)
	if err := s.conn.Exec(ctx, dbDDL); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	tableDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			run_id String,
			trade_id String,
			symbol String,
			strategy LowCardinality(String),
			side LowCardinality(String),
			trade_type LowCardinality(String),
			grade LowCardinality(String),
			entry_time_ms UInt64,
			exit_time_ms UInt64,
			size Float64,
			entry Float64,
			exit Float64,
			pnl Float64,
			r_multiple Float64,
			exit_reason LowCardinality(String),
			outcome LowCardinality(String),
			inserted_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (run_id, trade_id)
		SETTINGS index_granularity = 8192
	`, s.database, s.table)
	return s.conn.Exec(ctx, tableDDL)
}

// InsertTrades writes all trades of a run in one batch.
func (s *ClickHouseSink) InsertTrades(ctx context.Context, runID string, trades []*market.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s SETTINGS insert_deduplicate=1", s.database, s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	ver := uint64(now.UnixNano()) // same for the whole run; ReplacingMergeTree keeps last

	for _, t := range trades {
		if err := batch.Append(
			runID,
			t.ID,
			t.Symbol,
			t.Strategy,
			t.Side.String(),
			t.TradeType.String(),
			t.Grade.String(),
			uint64(t.EntryTime),
			uint64(t.ExitTime),
			t.Size.InexactFloat64(),
			t.Entry.InexactFloat64(),
			t.ExitPrice.InexactFloat64(),
			t.PnL.InexactFloat64(),
			t.RMultiple.InexactFloat64(),
			t.ExitReason,
			t.Outcome.String(),
			now,
			ver,
		); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	s.log.Info("trades persisted",
		zap.String("run_id", runID),
		zap.Int("trades", len(trades)),
		zap.String("table", s.database+"."+s.table))
	return nil
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
