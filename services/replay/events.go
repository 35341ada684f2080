package replay

import (
	"github.com/shopspring/decimal"

	"replay-backtest/services/market"
	"replay-backtest/services/risk"
)

// EquityPoint is a sampled snapshot of the account during the run.
type EquityPoint struct {
	Ts            int64
	Capital       decimal.Decimal
	CumR          decimal.Decimal
	DrawdownR     decimal.Decimal
	OpenPositions int
}

// EventSink receives run output as it happens. Implementations must not
// retain the pointers past the call.
type EventSink interface {
	OnTrade(t *market.Trade)
	OnGuardrail(ev risk.GuardrailEvent)
	OnEquity(p EquityPoint)
	OnRunEnd(s *Summary)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnTrade(*market.Trade)           {}
func (NopSink) OnGuardrail(risk.GuardrailEvent) {}
func (NopSink) OnEquity(EquityPoint)            {}
func (NopSink) OnRunEnd(*Summary)               {}

// MultiSink fans out to each sink in order.
type MultiSink []EventSink

func (m MultiSink) OnTrade(t *market.Trade) {
	for _, s := range m {
		s.OnTrade(t)
	}
}

func (m MultiSink) OnGuardrail(ev risk.GuardrailEvent) {
	for _, s := range m {
		s.OnGuardrail(ev)
	}
}

func (m MultiSink) OnEquity(p EquityPoint) {
	for _, s := range m {
		s.OnEquity(p)
	}
}

func (m MultiSink) OnRunEnd(sum *Summary) {
	for _, s := range m {
		s.OnRunEnd(sum)
	}
}
