// Package risk gates every order through tier sizing, circuit breakers, the
// per-strategy kill-switch, and anti-spam limits. All refusals are expected
// outcomes carrying a typed reason; nothing here aborts a run.
package risk

import "github.com/shopspring/decimal"

// RejectReason is the closed set of refusal codes the gate can return.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonRunStopped          RejectReason = "run-stopped"
	ReasonDayStopped          RejectReason = "day-stopped"
	ReasonStrategyKilled      RejectReason = "strategy-killed"
	ReasonStrategyDenied      RejectReason = "strategy-denied"
	ReasonCooldown            RejectReason = "cooldown"
	ReasonSessionCap          RejectReason = "session-cap"
	ReasonInsufficientCapital RejectReason = "insufficient-capital"
	ReasonZeroSize            RejectReason = "zero-size"
)

// AllReasons lists every reject reason, for tally initialization and
// reporting order.
var AllReasons = []RejectReason{
	ReasonRunStopped, ReasonDayStopped, ReasonStrategyKilled,
	ReasonStrategyDenied, ReasonCooldown, ReasonSessionCap,
	ReasonInsufficientCapital, ReasonZeroSize,
}

// Decision is the gate's answer for one candidate entry. When Allowed is
// true, Size and RiskDollars carry the approved sizing and Tier the tier it
// was sized at; otherwise Reason explains the refusal.
type Decision struct {
	Allowed     bool
	Reason      RejectReason
	Size        decimal.Decimal
	RiskDollars decimal.Decimal
	Tier        int
}

func allow(size, riskDollars decimal.Decimal, tier int) Decision {
	return Decision{Allowed: true, Size: size, RiskDollars: riskDollars, Tier: tier}
}

func deny(reason RejectReason) Decision {
	return Decision{Reason: reason}
}
