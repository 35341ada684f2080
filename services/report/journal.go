package report

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// RunModel is one journaled run. Decimal-valued columns are stored as
// strings so exact R and money figures survive the round trip.
type RunModel struct {
	RunID         string `gorm:"primaryKey;size:64"`
	Mode          string `gorm:"size:16;not null"`
	EngineVersion string `gorm:"size:16;not null"`
	DatasetHash   string `gorm:"size:64;not null"`
	ConfigHash    string `gorm:"size:64"`
	FromTs        int64  `gorm:"not null"`
	ToTs          int64  `gorm:"not null"`
	Bars          int64  `gorm:"not null"`
	TotalTrades   int    `gorm:"not null"`
	Wins          int    `gorm:"not null"`
	Losses        int    `gorm:"not null"`
	Breakevens    int    `gorm:"not null"`
	TotalR        string `gorm:"size:32;not null"`
	WinRatePct    float64
	ExpectancyR   float64
	MaxDrawdownR  string `gorm:"size:32;not null"`
	EquityEnd     string `gorm:"size:32;not null"`
	CreatedAt     time.Time
}

func (RunModel) TableName() string {
	return "runs"
}

// TradeModel is one journaled trade row.
type TradeModel struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:64;not null;index"`
	TradeID    string `gorm:"size:64;not null"`
	Symbol     string `gorm:"size:32;not null"`
	Strategy   string `gorm:"size:32;not null"`
	Side       string `gorm:"size:16;not null"`
	TradeType  string `gorm:"size:16;not null"`
	Grade      string `gorm:"size:16;not null"`
	EntryTime  int64  `gorm:"not null"`
	ExitTime   int64  `gorm:"not null"`
	Size       string `gorm:"size:32;not null"`
	Entry      string `gorm:"size:32;not null"`
	ExitPrice  string `gorm:"size:32;not null"`
	PnL        string `gorm:"size:32;not null"`
	RMultiple  string `gorm:"size:32;not null"`
	ExitReason string `gorm:"size:32;not null"`
	Outcome    string `gorm:"size:16;not null"`
	TierAtOpen int    `gorm:"not null"`
}

func (TradeModel) TableName() string {
	return "journal_trades"
}

// Journal keeps a local sqlite history of runs for comparison between
// parameter sweeps.
type Journal struct {
	db *gorm.DB
}

// OpenJournal opens (or creates) the sqlite journal at path and runs
// migrations. Use ":memory:" for throwaway journals.
func OpenJournal(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&RunModel{}, &TradeModel{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func runToModel(res *replay.Result) RunModel {
	return RunModel{
		RunID:         res.Manifest.RunID,
		Mode:          res.Manifest.Mode,
		EngineVersion: res.Manifest.EngineVersion,
		DatasetHash:   res.Manifest.DatasetHash,
		ConfigHash:    res.Manifest.ConfigHash,
		FromTs:        res.Manifest.FromTs,
		ToTs:          res.Manifest.ToTs,
		Bars:          int64(res.Manifest.Bars),
		TotalTrades:   res.Summary.TotalTrades,
		Wins:          res.Summary.Wins,
		Losses:        res.Summary.Losses,
		Breakevens:    res.Summary.Breakevens,
		TotalR:        res.Summary.TotalR.String(),
		WinRatePct:    res.Summary.WinRatePct,
		ExpectancyR:   res.Summary.ExpectancyR,
		MaxDrawdownR:  res.Summary.MaxDrawdownR.String(),
		EquityEnd:     res.Summary.EquityEnd.String(),
	}
}

func tradeToModel(runID string, t *market.Trade) TradeModel {
	return TradeModel{
		RunID:      runID,
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Strategy:   t.Strategy,
		Side:       t.Side.String(),
		TradeType:  t.TradeType.String(),
		Grade:      t.Grade.String(),
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		Size:       t.Size.String(),
		Entry:      t.Entry.String(),
		ExitPrice:  t.ExitPrice.String(),
		PnL:        t.PnL.String(),
		RMultiple:  t.RMultiple.String(),
		ExitReason: t.ExitReason,
		Outcome:    t.Outcome.String(),
		TierAtOpen: t.TierAtOpen,
	}
}

// Record stores a finished run and its trades. Recording the same run
// id again replaces the previous rows.
func (j *Journal) Record(ctx context.Context, res *replay.Result) error {
	run := runToModel(res)
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&run).Error
	if err != nil {
		return fmt.Errorf("journal run: %w", err)
	}

	if err := j.db.WithContext(ctx).Where("run_id = ?", run.RunID).Delete(&TradeModel{}).Error; err != nil {
		return fmt.Errorf("journal clear trades: %w", err)
	}
	if len(res.Trades) == 0 {
		return nil
	}
	ms := make([]TradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		ms = append(ms, tradeToModel(run.RunID, t))
	}
	if err := j.db.WithContext(ctx).Create(&ms).Error; err != nil {
		return fmt.Errorf("journal trades: %w", err)
	}
	return nil
}

// Runs returns up to limit journaled runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []RunModel
	err := j.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Trades returns the journaled trades of one run in entry order.
func (j *Journal) Trades(ctx context.Context, runID string) ([]TradeModel, error) {
	var rows []TradeModel
	err := j.db.WithContext(ctx).Where("run_id = ?", runID).Order("entry_time ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close releases the underlying sqlite handle.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
