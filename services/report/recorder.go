package report

import (
	"replay-backtest/services/market"
	"replay-backtest/services/replay"
	"replay-backtest/services/risk"
)

// Recorder is an event sink that keeps everything a run emits so the
// writers in this package can persist it afterwards.
type Recorder struct {
	trades     []*market.Trade
	guardrails []risk.GuardrailEvent
	equity     []replay.EquityPoint
	summary    *replay.Summary
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnTrade(t *market.Trade)            { r.trades = append(r.trades, t) }
func (r *Recorder) OnGuardrail(ev risk.GuardrailEvent) { r.guardrails = append(r.guardrails, ev) }
func (r *Recorder) OnEquity(p replay.EquityPoint)      { r.equity = append(r.equity, p) }
func (r *Recorder) OnRunEnd(s *replay.Summary)         { r.summary = s }

func (r *Recorder) Trades() []*market.Trade           { return r.trades }
func (r *Recorder) Guardrails() []risk.GuardrailEvent { return r.guardrails }
func (r *Recorder) Equity() []replay.EquityPoint      { return r.equity }
func (r *Recorder) Summary() *replay.Summary          { return r.summary }
