package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
	"replay-backtest/services/risk"
)

var (
	tradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_trades_total",
			Help: "Closed trades by strategy, outcome and exit reason",
		},
		[]string{"strategy", "outcome", "exit_reason"},
	)

	tradeR = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_trade_r",
			Help:    "Per-trade R multiples",
			Buckets: []float64{-3, -2, -1, -0.5, 0, 0.5, 1, 2, 3, 5},
		},
		[]string{"strategy"},
	)

	guardrailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_guardrails_total",
			Help: "Guardrail trips by kind",
		},
		[]string{"kind"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_rejections_total",
			Help: "Entry rejections by reason",
		},
		[]string{"reason"},
	)

	equityCapital = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_equity_capital",
		Help: "Current account capital",
	})

	equityCumR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_equity_cum_r",
		Help: "Cumulative realized R",
	})

	equityDrawdownR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_equity_drawdown_r",
		Help: "Current drawdown from the R peak",
	})

	openPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_open_positions",
		Help: "Open positions",
	})

	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_runs_started_total",
		Help: "Replay runs started",
	})

	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_runs_total",
		Help: "Completed replay runs",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_run_duration_seconds",
		Help:    "Wall time per completed run",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	runWinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_run_win_rate_pct",
		Help: "Win rate of the last completed run",
	})

	runTotalR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_run_total_r",
		Help: "Total R of the last completed run",
	})
)

// MetricsSink mirrors run output into Prometheus. Register it alongside
// any other sink via replay.MultiSink.
type MetricsSink struct{}

func NewMetricsSink() *MetricsSink { return &MetricsSink{} }

func (s *MetricsSink) OnTrade(t *market.Trade) {
	tradesTotal.WithLabelValues(t.Strategy, t.Outcome.String(), t.ExitReason).Inc()
	tradeR.WithLabelValues(t.Strategy).Observe(t.RMultiple.InexactFloat64())
}

func (s *MetricsSink) OnGuardrail(ev risk.GuardrailEvent) {
	guardrailsTotal.WithLabelValues(string(ev.Kind)).Inc()
}

func (s *MetricsSink) OnEquity(p replay.EquityPoint) {
	equityCapital.Set(p.Capital.InexactFloat64())
	equityCumR.Set(p.CumR.InexactFloat64())
	equityDrawdownR.Set(p.DrawdownR.InexactFloat64())
	openPositions.Set(float64(p.OpenPositions))
}

func (s *MetricsSink) OnRunEnd(sum *replay.Summary) {
	runsTotal.Inc()
	runWinRate.Set(sum.WinRatePct)
	runTotalR.Set(sum.TotalR.InexactFloat64())
	for reason, n := range sum.Rejections {
		rejectionsTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// RunStarted marks a run accepted for execution.
func RunStarted() { runsStarted.Inc() }

// RunFinished records a completed run's wall time.
func RunFinished(d time.Duration) { runDuration.Observe(d.Seconds()) }

// Handler serves the default registry, for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
