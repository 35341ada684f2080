package market

import "github.com/shopspring/decimal"

// TradeState is the position lifecycle.
type TradeState int

const (
	StatePending TradeState = iota
	StateOpen
	StateClosed
)

func (s TradeState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "pending"
	}
}

// Outcome classifies a closed trade by the sign of its dollar P&L.
type Outcome int

const (
	OutcomeBreakeven Outcome = iota
	OutcomeWin
	OutcomeLoss
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	default:
		return "breakeven"
	}
}

// Exit reasons recorded on closed trades.
const (
	ExitReasonStop            = "stop"
	ExitReasonPrimaryTarget   = "primary-target"
	ExitReasonSecondaryTarget = "secondary-target"
	ExitReasonTimeStop        = "time-stop"
	ExitReasonEndOfRun        = "end-of-run"
)

// Trade is one position from acceptance through close. RiskDistance and
// RiskDollars are fixed when the order is accepted and are never re-derived;
// Stop may move (breakeven), OriginalStop never does.
type Trade struct {
	ID        string
	Symbol    string
	Strategy  string
	Side      Side
	State     TradeState
	Grade     Grade
	TradeType TradeType

	Size            decimal.Decimal
	Entry           decimal.Decimal
	Stop            decimal.Decimal
	OriginalStop    decimal.Decimal
	PrimaryTarget   decimal.Decimal
	SecondaryTarget decimal.Decimal

	RiskDistance decimal.Decimal
	RiskDollars  decimal.Decimal
	TierAtOpen   int

	EntryTime int64
	ExitTime  int64
	ExitPrice decimal.Decimal

	PnL        decimal.Decimal
	RMultiple  decimal.Decimal
	Outcome    Outcome
	ExitReason string

	BreakevenApplied bool
	UnrealizedR      decimal.Decimal // refreshed every mark-to-market tick
}

// HoldingMinutes returns how long the trade was open.
func (t Trade) HoldingMinutes() int64 {
	if t.ExitTime == 0 || t.EntryTime == 0 {
		return 0
	}
	return (t.ExitTime - t.EntryTime) / 60_000
}
