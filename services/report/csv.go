package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
	"replay-backtest/services/risk"
)

func stampRFC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// WriteTrades writes the closed-trade log.
func WriteTrades(path string, trades []*market.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{
		"trade_id", "symbol", "strategy", "side", "trade_type", "grade",
		"entry_time", "exit_time", "holding_minutes",
		"size", "entry", "original_stop", "stop", "primary_target", "secondary_target",
		"risk_distance", "risk_dollars", "tier_at_open",
		"exit_price", "exit_reason", "outcome", "pnl", "r_multiple", "breakeven_applied",
	}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, t := range trades {
		secondary := ""
		if !t.SecondaryTarget.IsZero() {
			secondary = t.SecondaryTarget.String()
		}
		row := []string{
			t.ID,
			t.Symbol,
			t.Strategy,
			t.Side.String(),
			t.TradeType.String(),
			t.Grade.String(),
			stampRFC(t.EntryTime),
			stampRFC(t.ExitTime),
			strconv.FormatInt(t.HoldingMinutes(), 10),
			t.Size.String(),
			t.Entry.String(),
			t.OriginalStop.String(),
			t.Stop.String(),
			t.PrimaryTarget.String(),
			secondary,
			t.RiskDistance.String(),
			t.RiskDollars.String(),
			strconv.Itoa(t.TierAtOpen),
			t.ExitPrice.String(),
			t.ExitReason,
			t.Outcome.String(),
			t.PnL.String(),
			t.RMultiple.String(),
			strconv.FormatBool(t.BreakevenApplied),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteEquity writes the sampled equity curve.
func WriteEquity(path string, points []replay.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "capital", "cum_r", "drawdown_r", "open_positions"}); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			stampRFC(p.Ts),
			p.Capital.String(),
			p.CumR.String(),
			p.DrawdownR.String(),
			strconv.Itoa(p.OpenPositions),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteGuardrails writes guardrail trips; no file when nothing tripped.
func WriteGuardrails(path string, events []risk.GuardrailEvent) error {
	if len(events) == 0 {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "kind", "strategy", "day_r", "cum_r", "peak_r", "drawdown_r", "detail"}); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			stampRFC(ev.Ts),
			string(ev.Kind),
			ev.Strategy,
			ev.DayR.String(),
			ev.CumR.String(),
			ev.PeakR.String(),
			ev.DrawdownR.String(),
			ev.Detail,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteSummary writes the KPI report as indented json.
func WriteSummary(path string, s *replay.Summary) error {
	return writeJSON(path, s)
}

// WriteManifest writes the run manifest as indented json.
func WriteManifest(path string, m replay.RunManifest) error {
	return writeJSON(path, m)
}

// WriteAll persists a run under dir: trades.csv, equity.csv,
// guardrails.csv, summary.json and manifest.json.
func WriteAll(dir string, res *replay.Result, rec *Recorder) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := WriteTrades(filepath.Join(dir, "trades.csv"), res.Trades); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	if err := WriteEquity(filepath.Join(dir, "equity.csv"), rec.Equity()); err != nil {
		return fmt.Errorf("write equity: %w", err)
	}
	if err := WriteGuardrails(filepath.Join(dir, "guardrails.csv"), rec.Guardrails()); err != nil {
		return fmt.Errorf("write guardrails: %w", err)
	}
	if err := WriteSummary(filepath.Join(dir, "summary.json"), &res.Summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := WriteManifest(filepath.Join(dir, "manifest.json"), res.Manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
