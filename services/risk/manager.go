package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replay-backtest/services/market"
)

// Config carries every guardrail threshold. Zero-valued thresholds disable
// their guardrail; validation rejects values with the wrong sign.
type Config struct {
	InitialCapital decimal.Decimal
	RiskFraction   decimal.Decimal // fraction of initial capital in one base R unit

	// BuyingPowerRatio multiplies current capital into intraday buying
	// power. Zero falls back to 4, the usual day-trading margin.
	BuyingPowerRatio decimal.Decimal

	StopDayR         decimal.Decimal // negative; trips when daily realized R falls to it
	StopRunDrawdownR decimal.Decimal // positive; trips on peak-to-current R drawdown

	KillCumulativeR     decimal.Decimal // negative hard stop on a strategy's total R
	KillMinSample       int
	KillMinProfitFactor decimal.Decimal

	CooldownMinutes int // between accepted entries per strategy+symbol
	SessionTradeCap int // accepted entries per strategy+symbol per session

	AllowStrategies []string // always eligible, regardless of ledger
	DenyStrategies  []string // never eligible
}

// Validate checks threshold signs and required values.
func (c Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	if !c.RiskFraction.IsPositive() || c.RiskFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk fraction must be in (0,1), got %s", c.RiskFraction)
	}
	if c.BuyingPowerRatio.IsNegative() {
		return fmt.Errorf("buying power ratio must not be negative, got %s", c.BuyingPowerRatio)
	}
	if c.StopDayR.IsPositive() {
		return fmt.Errorf("stop-day threshold must be negative or zero, got %s", c.StopDayR)
	}
	if c.StopRunDrawdownR.IsNegative() {
		return fmt.Errorf("stop-run drawdown threshold must be positive or zero, got %s", c.StopRunDrawdownR)
	}
	if c.KillCumulativeR.IsPositive() {
		return fmt.Errorf("kill-switch hard stop must be negative or zero, got %s", c.KillCumulativeR)
	}
	if c.CooldownMinutes < 0 || c.SessionTradeCap < 0 || c.KillMinSample < 0 {
		return fmt.Errorf("cooldown, session cap, and kill sample must not be negative")
	}
	return nil
}

// Manager is the risk state machine for one run. It is owned by a single
// replay loop and is not safe for concurrent use.
type Manager struct {
	cfg      Config
	log      *zap.Logger
	calendar market.Calendar

	capital decimal.Decimal
	baseR   decimal.Decimal
	tier    int

	cumR       decimal.Decimal
	peakR      decimal.Decimal
	runStopped bool

	dayKey     string
	dayR       decimal.Decimal
	dayTrades  int
	dayStopped bool

	ledger map[string]*LedgerEntry
	allow  map[string]struct{}
	deny   map[string]struct{}

	sessionKey    string
	sessionCounts map[string]int
	lastAccept    map[string]int64

	rejections map[RejectReason]int64
	events     []GuardrailEvent
}

// NewManager builds the machine: tier starts at 2, the base R unit is fixed
// from initial capital for the run's lifetime.
func NewManager(cfg Config, cal market.Calendar, log *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:           cfg,
		log:           log,
		calendar:      cal,
		capital:       cfg.InitialCapital,
		baseR:         cfg.InitialCapital.Mul(cfg.RiskFraction),
		tier:          2,
		ledger:        make(map[string]*LedgerEntry),
		allow:         make(map[string]struct{}, len(cfg.AllowStrategies)),
		deny:          make(map[string]struct{}, len(cfg.DenyStrategies)),
		sessionCounts: make(map[string]int),
		lastAccept:    make(map[string]int64),
		rejections:    make(map[RejectReason]int64),
	}
	for _, s := range cfg.AllowStrategies {
		m.allow[s] = struct{}{}
	}
	for _, s := range cfg.DenyStrategies {
		m.deny[s] = struct{}{}
	}
	return m, nil
}

// RunConfig returns the config the manager was built with.
func (m *Manager) RunConfig() Config { return m.cfg }

// BaseRUnit returns the fixed dollar value of one R.
func (m *Manager) BaseRUnit() decimal.Decimal { return m.baseR }

// Tier returns the current sizing tier.
func (m *Manager) Tier() int { return m.tier }

// NextRiskDollars returns tier * base R unit, the risk budget for the next
// accepted trade.
func (m *Manager) NextRiskDollars() decimal.Decimal {
	return m.baseR.Mul(decimal.NewFromInt(int64(m.tier)))
}

// Capital returns current realized capital.
func (m *Manager) Capital() decimal.Decimal { return m.capital }

// CumulativeR returns realized account R for the run.
func (m *Manager) CumulativeR() decimal.Decimal { return m.cumR }

// DrawdownR returns the current peak-to-now R drawdown.
func (m *Manager) DrawdownR() decimal.Decimal { return m.peakR.Sub(m.cumR) }

// RunStopped reports whether the run breaker has tripped; it never resets.
func (m *Manager) RunStopped() bool { return m.runStopped }

// DayStopped reports whether today's breaker is active.
func (m *Manager) DayStopped() bool { return m.dayStopped }

func (m *Manager) touchDay(ts int64) {
	dk := market.DayKey(ts)
	if dk != m.dayKey {
		m.dayKey = dk
		m.dayR = decimal.Zero
		m.dayTrades = 0
		m.dayStopped = false
	}
	sk := m.calendar.SessionKey(ts)
	if sk != m.sessionKey {
		m.sessionKey = sk
		m.sessionCounts = make(map[string]int)
	}
}

func pairKey(strategy, symbol string) string { return strategy + "|" + symbol }

// CheckEntry runs the full gate for one candidate in guardrail order:
// run breaker, day breaker, strategy eligibility, cooldown, session cap,
// then sizing. Refusals are tallied by reason.
func (m *Manager) CheckEntry(s market.Setup, instr market.Instrument, ts int64) Decision {
	m.touchDay(ts)

	if m.runStopped {
		return m.reject(ReasonRunStopped)
	}
	if m.dayStopped {
		return m.reject(ReasonDayStopped)
	}
	if _, denied := m.deny[s.Strategy]; denied {
		return m.reject(ReasonStrategyDenied)
	}
	if _, allowed := m.allow[s.Strategy]; !allowed {
		if e, ok := m.ledger[s.Strategy]; ok && e.Killed {
			return m.reject(ReasonStrategyKilled)
		}
	}

	key := pairKey(s.Strategy, s.Symbol)
	if m.cfg.CooldownMinutes > 0 {
		if last, ok := m.lastAccept[key]; ok && ts-last < int64(m.cfg.CooldownMinutes)*60_000 {
			return m.reject(ReasonCooldown)
		}
	}
	if m.cfg.SessionTradeCap > 0 && m.sessionCounts[key] >= m.cfg.SessionTradeCap {
		return m.reject(ReasonSessionCap)
	}

	distance := s.RiskDistance()
	if distance.IsZero() {
		return m.reject(ReasonZeroSize)
	}
	riskDollars := m.NextRiskDollars()
	size := instr.RoundSize(riskDollars.Div(instr.UnitRisk(distance)))
	if size.IsZero() {
		return m.reject(ReasonZeroSize)
	}
	if instr.RequiredCapital(size, s.Entry).GreaterThan(m.buyingPower()) {
		return m.reject(ReasonInsufficientCapital)
	}
	return allow(size, riskDollars, m.tier)
}

func (m *Manager) buyingPower() decimal.Decimal {
	ratio := m.cfg.BuyingPowerRatio
	if ratio.IsZero() {
		ratio = decimal.NewFromInt(4)
	}
	return m.capital.Mul(ratio)
}

func (m *Manager) reject(reason RejectReason) Decision {
	m.rejections[reason]++
	return deny(reason)
}

// NotifyOpen records an accepted entry for cooldown and session-cap
// accounting. The execution engine calls it once per placed order.
func (m *Manager) NotifyOpen(t *market.Trade) {
	m.touchDay(t.EntryTime)
	key := pairKey(t.Strategy, t.Symbol)
	m.lastAccept[key] = t.EntryTime
	m.sessionCounts[key]++
}

// NotifyClose folds a closed trade into capital, tier, daily and run
// counters, and the strategy ledger, then evaluates breakers and the
// kill-switch against the post-trade state.
func (m *Manager) NotifyClose(t *market.Trade) {
	m.touchDay(t.ExitTime)

	m.capital = m.capital.Add(t.PnL)
	m.cumR = m.cumR.Add(t.RMultiple)
	if m.cumR.GreaterThan(m.peakR) {
		m.peakR = m.cumR
	}
	m.dayR = m.dayR.Add(t.RMultiple)
	m.dayTrades++

	e, ok := m.ledger[t.Strategy]
	if !ok {
		e = &LedgerEntry{Strategy: t.Strategy}
		m.ledger[t.Strategy] = e
	}
	e.record(t.RMultiple)

	// tier reacts to outcome only; size never matters
	switch {
	case t.Outcome == market.OutcomeLoss && m.tier == 2:
		m.tier = 1
	case t.Outcome == market.OutcomeWin && m.tier == 1:
		m.tier = 2
	}

	m.checkBreakers(t.ExitTime)
	m.checkKillSwitch(e, t.ExitTime)
}

func (m *Manager) checkBreakers(ts int64) {
	if !m.dayStopped && !m.cfg.StopDayR.IsZero() && m.dayR.LessThanOrEqual(m.cfg.StopDayR) {
		m.dayStopped = true
		ev := GuardrailEvent{
			Ts: ts, Kind: GuardrailStopDay,
			DayR: m.dayR, CumR: m.cumR, PeakR: m.peakR, DrawdownR: m.DrawdownR(),
			Detail: fmt.Sprintf("daily realized %sR at or under %sR", m.dayR, m.cfg.StopDayR),
		}
		m.events = append(m.events, ev)
		m.log.Warn("stop-day breaker tripped",
			zap.String("day", m.dayKey),
			zap.String("day_r", m.dayR.String()),
		)
	}
	if !m.runStopped && !m.cfg.StopRunDrawdownR.IsZero() && m.DrawdownR().GreaterThanOrEqual(m.cfg.StopRunDrawdownR) {
		m.runStopped = true
		ev := GuardrailEvent{
			Ts: ts, Kind: GuardrailStopRun,
			DayR: m.dayR, CumR: m.cumR, PeakR: m.peakR, DrawdownR: m.DrawdownR(),
			Detail: fmt.Sprintf("drawdown %sR reached %sR limit", m.DrawdownR(), m.cfg.StopRunDrawdownR),
		}
		m.events = append(m.events, ev)
		m.log.Warn("stop-run breaker tripped",
			zap.String("cum_r", m.cumR.String()),
			zap.String("peak_r", m.peakR.String()),
			zap.String("drawdown_r", m.DrawdownR().String()),
		)
	}
}

func (m *Manager) checkKillSwitch(e *LedgerEntry, ts int64) {
	if e.Killed {
		return
	}
	var detail string
	if !m.cfg.KillCumulativeR.IsZero() && e.TotalR.LessThanOrEqual(m.cfg.KillCumulativeR) {
		detail = fmt.Sprintf("cumulative %sR at or under %sR hard stop", e.TotalR, m.cfg.KillCumulativeR)
	} else if m.cfg.KillMinSample > 0 && e.Count >= m.cfg.KillMinSample {
		if pf, ok := e.ProfitFactor(); ok && pf.LessThan(m.cfg.KillMinProfitFactor) {
			detail = fmt.Sprintf("profit factor %s under %s after %d trades",
				pf.StringFixed(2), m.cfg.KillMinProfitFactor, e.Count)
		}
	}
	if detail == "" {
		return
	}
	e.Killed = true
	e.KillDetail = detail
	m.events = append(m.events, GuardrailEvent{
		Ts: ts, Kind: GuardrailKillSwitch, Strategy: e.Strategy,
		CumR: m.cumR, PeakR: m.peakR, DrawdownR: m.DrawdownR(), DayR: m.dayR,
		Detail: detail,
	})
	m.log.Warn("strategy kill-switch tripped",
		zap.String("strategy", e.Strategy),
		zap.String("detail", detail),
	)
}

// DrainEvents returns and clears guardrail events accumulated since the last
// drain.
func (m *Manager) DrainEvents() []GuardrailEvent {
	ev := m.events
	m.events = nil
	return ev
}

// Killed reports whether the named strategy has been disabled.
func (m *Manager) Killed(strategy string) bool {
	e, ok := m.ledger[strategy]
	return ok && e.Killed
}

// Ledger returns a copy of the named strategy's ledger entry.
func (m *Manager) Ledger(strategy string) (LedgerEntry, bool) {
	e, ok := m.ledger[strategy]
	if !ok {
		return LedgerEntry{}, false
	}
	return *e, true
}

// Ledgers returns a copy of every strategy's ledger entry.
func (m *Manager) Ledgers() map[string]LedgerEntry {
	out := make(map[string]LedgerEntry, len(m.ledger))
	for name, e := range m.ledger {
		out[name] = *e
	}
	return out
}

// RejectionCounts returns a copy of the refusal tallies.
func (m *Manager) RejectionCounts() map[RejectReason]int64 {
	out := make(map[RejectReason]int64, len(m.rejections))
	for k, v := range m.rejections {
		out[k] = v
	}
	return out
}
