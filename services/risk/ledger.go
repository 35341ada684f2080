package risk

import "github.com/shopspring/decimal"

// LedgerEntry is the rolling performance record for one named strategy.
// GrossLoss is stored as a positive magnitude.
type LedgerEntry struct {
	Strategy    string          `json:"strategy"`
	Count       int             `json:"count"`
	TotalR      decimal.Decimal `json:"total_r"`
	GrossProfit decimal.Decimal `json:"gross_profit_r"`
	GrossLoss   decimal.Decimal `json:"gross_loss_r"`
	Killed      bool            `json:"killed"`
	KillDetail  string          `json:"kill_detail,omitempty"`
}

// ProfitFactor returns gross profit over gross loss. A ledger with no losses
// returns ok=false; the kill-switch never fires on it.
func (e LedgerEntry) ProfitFactor() (decimal.Decimal, bool) {
	if e.GrossLoss.IsZero() {
		return decimal.Zero, false
	}
	return e.GrossProfit.Div(e.GrossLoss), true
}

func (e *LedgerEntry) record(r decimal.Decimal) {
	e.Count++
	e.TotalR = e.TotalR.Add(r)
	switch r.Sign() {
	case 1:
		e.GrossProfit = e.GrossProfit.Add(r)
	case -1:
		e.GrossLoss = e.GrossLoss.Add(r.Neg())
	}
}
