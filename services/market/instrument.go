package market

import "github.com/shopspring/decimal"

// InstrumentKind distinguishes sizing semantics.
type InstrumentKind int

const (
	// KindShares sizes in shares; one point of movement is worth one dollar
	// per share.
	KindShares InstrumentKind = iota
	// KindContracts sizes in contracts; one point of movement is worth
	// PointValue dollars per contract.
	KindContracts
)

// Instrument carries the per-symbol trading semantics used for sizing.
type Instrument struct {
	Symbol     string
	Kind       InstrumentKind
	PointValue decimal.Decimal // dollars per point per unit; 1 for shares
	SizeStep   decimal.Decimal // minimum size increment, e.g. 1 share, 1 contract
	TickSize   decimal.Decimal // minimum price increment
	// MarginPerUnit is the capital required to hold one unit. Zero means the
	// full notional (size * price * PointValue) is required.
	MarginPerUnit decimal.Decimal
}

// DefaultInstrument returns plain whole-share semantics for symbol.
func DefaultInstrument(symbol string) Instrument {
	return Instrument{
		Symbol:     symbol,
		Kind:       KindShares,
		PointValue: decimal.NewFromInt(1),
		SizeStep:   decimal.NewFromInt(1),
		TickSize:   decimal.NewFromFloat(0.01),
	}
}

// UnitRisk returns the dollars at risk per unit of size for a stop placed
// distance points away from entry.
func (i Instrument) UnitRisk(distance decimal.Decimal) decimal.Decimal {
	pv := i.PointValue
	if pv.IsZero() {
		pv = decimal.NewFromInt(1)
	}
	return distance.Mul(pv)
}

// RequiredCapital returns the buying power consumed by a position of the
// given size at the given price.
func (i Instrument) RequiredCapital(size, price decimal.Decimal) decimal.Decimal {
	if !i.MarginPerUnit.IsZero() {
		return size.Mul(i.MarginPerUnit)
	}
	pv := i.PointValue
	if pv.IsZero() {
		pv = decimal.NewFromInt(1)
	}
	return size.Mul(price).Mul(pv)
}

// RoundSize floors size down to the instrument's size step.
func (i Instrument) RoundSize(size decimal.Decimal) decimal.Decimal {
	step := i.SizeStep
	if step.IsZero() {
		step = decimal.NewFromInt(1)
	}
	return size.Div(step).Floor().Mul(step)
}
