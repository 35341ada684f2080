package risk

import "github.com/shopspring/decimal"

// GuardrailKind names the guardrail that tripped.
type GuardrailKind string

const (
	GuardrailStopDay    GuardrailKind = "stop-day"
	GuardrailStopRun    GuardrailKind = "stop-run"
	GuardrailKillSwitch GuardrailKind = "kill-switch"
)

// GuardrailEvent records one guardrail trip. Events accumulate on the
// manager and are drained by the replay loop into its sink each step, so the
// manager never holds a reference to reporting.
type GuardrailEvent struct {
	Ts        int64           `json:"ts"`
	Kind      GuardrailKind   `json:"kind"`
	Strategy  string          `json:"strategy,omitempty"` // kill-switch trips only
	DayR      decimal.Decimal `json:"day_r"`
	CumR      decimal.Decimal `json:"cum_r"`
	PeakR     decimal.Decimal `json:"peak_r"`
	DrawdownR decimal.Decimal `json:"drawdown_r"`
	Detail    string          `json:"detail,omitempty"`
}
