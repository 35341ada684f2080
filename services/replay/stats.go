package replay

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"replay-backtest/services/market"
	"replay-backtest/services/risk"
)

// Summary is the end-of-run KPI report. Trade-derived fields come from
// Summarize; the engine fills in run-level state (capital, rejections,
// cache and guardrail data) before emitting it.
type Summary struct {
	GeneratedAt   time.Time `json:"generated_at"`
	EngineVersion string    `json:"engine_version"`
	Mode          string    `json:"mode"`

	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Breakevens  int `json:"breakevens"`
	ScalpTrades int `json:"scalp_trades"`
	SwingTrades int `json:"swing_trades"`

	// Breakevens stay in the denominator.
	WinRatePct  float64         `json:"win_rate_pct"`
	TotalR      decimal.Decimal `json:"total_r"`
	ExpectancyR float64         `json:"expectancy_r"`

	GrossWinR    decimal.Decimal `json:"gross_win_r"`
	GrossLossR   decimal.Decimal `json:"gross_loss_r"`
	ProfitFactor float64         `json:"profit_factor"`

	MaxDrawdownR decimal.Decimal `json:"max_drawdown_r"`
	SharpeR      float64         `json:"sharpe_r"`

	// Breakevens neither extend nor break a streak.
	LongestWinStreak  int `json:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak"`

	AvgWinR           float64         `json:"avg_win_r"`
	AvgLossR          float64         `json:"avg_loss_r"`
	LargestWinR       decimal.Decimal `json:"largest_win_r"`
	LargestLossR      decimal.Decimal `json:"largest_loss_r"`
	AvgHoldingMinutes float64         `json:"avg_holding_minutes"`

	ExitReasons map[string]int `json:"exit_reasons"`

	EquityStart decimal.Decimal `json:"equity_start"`
	EquityEnd   decimal.Decimal `json:"equity_end"`
	FinalTier   int             `json:"final_tier"`

	FirstTs int64 `json:"first_ts"`
	LastTs  int64 `json:"last_ts"`
	Bars    int   `json:"bars"`

	Rejections  map[risk.RejectReason]int64 `json:"rejections"`
	CacheHits   uint64                      `json:"cache_hits"`
	CacheMisses uint64                      `json:"cache_misses"`
	Guardrails  []risk.GuardrailEvent       `json:"guardrails"`
	Strategies  map[string]risk.LedgerEntry `json:"strategies"`
}

// Summarize computes the trade-derived KPIs over closed trades in close
// order.
func Summarize(trades []*market.Trade) Summary {
	s := Summary{
		TotalTrades: len(trades),
		ExitReasons: make(map[string]int),
	}

	var (
		rs        []float64
		sumR      decimal.Decimal
		cumR      decimal.Decimal
		peakR     decimal.Decimal
		winStreak int
		losStreak int
		sumWinR   float64
		sumLossR  float64
		holdSum   float64
	)

	for _, t := range trades {
		s.ExitReasons[t.ExitReason]++
		holdSum += float64(t.HoldingMinutes())
		if t.TradeType == market.TradeTypeScalp {
			s.ScalpTrades++
		} else {
			s.SwingTrades++
		}

		r := t.RMultiple
		sumR = sumR.Add(r)
		rs = append(rs, r.InexactFloat64())

		cumR = cumR.Add(r)
		if cumR.GreaterThan(peakR) {
			peakR = cumR
		}
		if dd := peakR.Sub(cumR); dd.GreaterThan(s.MaxDrawdownR) {
			s.MaxDrawdownR = dd
		}

		switch t.Outcome {
		case market.OutcomeWin:
			s.Wins++
			s.GrossWinR = s.GrossWinR.Add(r)
			sumWinR += r.InexactFloat64()
			if r.GreaterThan(s.LargestWinR) {
				s.LargestWinR = r
			}
			winStreak++
			losStreak = 0
			if winStreak > s.LongestWinStreak {
				s.LongestWinStreak = winStreak
			}
		case market.OutcomeLoss:
			s.Losses++
			s.GrossLossR = s.GrossLossR.Sub(r)
			sumLossR += r.InexactFloat64()
			if r.LessThan(s.LargestLossR) {
				s.LargestLossR = r
			}
			losStreak++
			winStreak = 0
			if losStreak > s.LongestLossStreak {
				s.LongestLossStreak = losStreak
			}
		default:
			s.Breakevens++
		}
	}

	s.TotalR = sumR
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.TotalTrades) * 100.0
		s.ExpectancyR = sumR.InexactFloat64() / float64(s.TotalTrades)
		s.AvgHoldingMinutes = holdSum / float64(s.TotalTrades)
	}
	if s.Wins > 0 {
		s.AvgWinR = sumWinR / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossR = sumLossR / float64(s.Losses)
	}
	if s.GrossLossR.IsPositive() {
		s.ProfitFactor = s.GrossWinR.InexactFloat64() / s.GrossLossR.InexactFloat64()
	}
	s.SharpeR = sharpe(rs)
	return s
}

// sharpe is mean over sample standard deviation of per-trade R.
func sharpe(rs []float64) float64 {
	if len(rs) < 2 {
		return 0
	}
	var sum float64
	for _, r := range rs {
		sum += r
	}
	mean := sum / float64(len(rs))

	var sumSq float64
	for _, r := range rs {
		diff := r - mean
		sumSq += diff * diff
	}
	variance := sumSq / float64(len(rs)-1)
	if variance <= 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
