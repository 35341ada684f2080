//! Wick Reversal Strategy
//!
//! Fades liquidity sweeps at prior-day extremes: a dominant rejection wick
//! into a level, confirmed by a closed set of confluence criteria, graded
//! and handed to the replay engine as at most one candidate per bar.

package strategies

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// StrategyWickReversal is the registered strategy name.
const StrategyWickReversal = "wick-reversal"

// Weighting of the score components. The wick geometry carries a fixed
// share; each met criterion adds one slice. Scores are normalized by the
// active policy's achievable maximum so strict and exploratory runs grade
// on the same 0..1 scale.
const (
	wickWeight      = 0.30
	criterionWeight = 0.14

	// minWickShare is the floor on wick-to-range dominance for a trigger.
	minWickShare = 0.40

	// stopBufferRange pads the stop beyond the signal bar's extreme.
	stopBufferRange = 0.10

	// Primary target at 2R; swings carry a 3.5R runner.
	targetR      = 2.0
	swingTargetR = 3.5

	minWarmupBars = 30
)

// Tuning holds the adjustable thresholds. Zero fields fall back to defaults
// at construction.
type Tuning struct {
	MinScore       float64 // candidates scoring below are dropped
	MinRiskReward  float64 // floor on primary-target R:R
	WickBodyRatio  float64 // rejection wick must be this multiple of the body
	SweepLookback  int     // bars in the sweep window
	VolumeMultiple float64 // surge threshold over average minute volume
	SwingMinScore  float64 // swings need at least this score
}

// DefaultTuning returns the production thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		MinScore:       0.55,
		MinRiskReward:  1.5,
		WickBodyRatio:  1.5,
		SweepLookback:  20,
		VolumeMultiple: 1.2,
		SwingMinScore:  0.75,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.MinScore <= 0 {
		t.MinScore = d.MinScore
	}
	if t.MinRiskReward <= 0 {
		t.MinRiskReward = d.MinRiskReward
	}
	if t.WickBodyRatio <= 0 {
		t.WickBodyRatio = d.WickBodyRatio
	}
	if t.SweepLookback <= 0 {
		t.SweepLookback = d.SweepLookback
	}
	if t.VolumeMultiple <= 0 {
		t.VolumeMultiple = d.VolumeMultiple
	}
	if t.SwingMinScore <= 0 {
		t.SwingMinScore = d.SwingMinScore
	}
	return t
}

// WickReversal proposes long fades of downside sweeps and short fades of
// upside sweeps. It is stateless between ticks; everything it reads comes
// from the request, so replays stay deterministic.
type WickReversal struct {
	tuning   Tuning
	policy   Policy
	criteria []criterion
	log      *zap.Logger
}

// NewWickReversal builds the strategy for one operating mode. The full
// registered criterion set is constructed up front so an unknown name fails
// here, not mid-run.
func NewWickReversal(t Tuning, mode market.Mode, log *zap.Logger) (*WickReversal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t = t.withDefaults()
	crit, err := buildCriteria(allCriteria, t)
	if err != nil {
		return nil, err
	}
	return &WickReversal{
		tuning:   t,
		policy:   PolicyFor(mode),
		criteria: crit,
		log:      log,
	}, nil
}

func (s *WickReversal) Name() string { return StrategyWickReversal }

// WarmupBars covers the sweep window plus enough bars for the volume
// average to mean something.
func (s *WickReversal) WarmupBars() int {
	n := s.tuning.SweepLookback + 1
	if n < minWarmupBars {
		n = minWarmupBars
	}
	return n
}

// Evaluate implements replay.SetupProvider.
func (s *WickReversal) Evaluate(req replay.EvalRequest) (*market.Setup, error) {
	mctx, ok := req.Cache.Get(req.Key)
	// A period close invalidates derived context even when the key still
	// matches, so recompute on any close flag.
	if !ok || req.Closes.Any() {
		mctx = computeContext(req)
		req.Cache.Put(req.Key, mctx)
	}

	side, wickShare, triggered := s.trigger(req.Bar)
	if !triggered {
		return nil, nil
	}

	in := checkInput{side: side, bar: req.Bar, history: req.History, mctx: mctx}
	signals := s.runCriteria(in)
	if !s.requiredMet(signals) {
		return nil, nil
	}
	if len(signals) < s.policy.MinConfluence {
		return nil, nil
	}

	score := s.score(wickShare, len(signals))
	if score < s.tuning.MinScore {
		return nil, nil
	}

	entry, stop, primary, secondary, rr := s.levels(side, req.Bar)
	if rr < s.tuning.MinRiskReward {
		return nil, nil
	}

	trendAligned := false
	for _, sig := range signals {
		if sig == SignalTrendAlignment {
			trendAligned = true
			break
		}
	}
	tradeType := market.TradeTypeScalp
	if score >= s.tuning.SwingMinScore && trendAligned {
		tradeType = market.TradeTypeSwing
	}
	if tradeType == market.TradeTypeScalp {
		secondary = decimal.Zero
	}

	setup := &market.Setup{
		Symbol:          req.Symbol,
		Strategy:        StrategyWickReversal,
		Timestamp:       req.Ts,
		Side:            side,
		Entry:           entry,
		Stop:            stop,
		PrimaryTarget:   primary,
		SecondaryTarget: secondary,
		Grade:           gradeOf(score, len(signals)),
		Score:           score,
		RiskReward:      rr,
		TradeType:       tradeType,
		Signals:         signals,
	}

	s.log.Debug("setup",
		zap.String("symbol", req.Symbol),
		zap.Int64("ts", req.Ts),
		zap.String("side", side.String()),
		zap.String("grade", setup.Grade.String()),
		zap.Float64("score", score),
		zap.Strings("signals", signals))
	return setup, nil
}

// trigger detects the rejection bar: a dominant wick against the close
// direction. Longs need a bullish close under a long lower wick, shorts the
// mirror image.
func (s *WickReversal) trigger(bar market.Candle) (market.Side, float64, bool) {
	rng := bar.Range()
	if !rng.IsPositive() {
		return market.SideLong, 0, false
	}
	body := bar.Body()
	ratio := decimal.NewFromFloat(s.tuning.WickBodyRatio)

	if bar.IsBullish() {
		wick := bar.LowerWick()
		share, _ := wick.Div(rng).Float64()
		if wick.GreaterThanOrEqual(body.Mul(ratio)) && share >= minWickShare {
			return market.SideLong, share, true
		}
		return market.SideLong, 0, false
	}
	if bar.Close.LessThan(bar.Open) {
		wick := bar.UpperWick()
		share, _ := wick.Div(rng).Float64()
		if wick.GreaterThanOrEqual(body.Mul(ratio)) && share >= minWickShare {
			return market.SideShort, share, true
		}
	}
	return market.SideShort, 0, false
}

// runCriteria evaluates the policy's criteria in registration order and
// returns the names of the met ones.
func (s *WickReversal) runCriteria(in checkInput) []string {
	var met []string
	for _, c := range s.criteria {
		if s.policy.Waived[c.name()] {
			continue
		}
		if c.met(in) {
			met = append(met, c.name())
		}
	}
	return met
}

func (s *WickReversal) requiredMet(signals []string) bool {
	for _, r := range s.policy.Required {
		found := false
		for _, sig := range signals {
			if sig == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// score blends wick dominance with confluence and normalizes by the
// policy's achievable maximum, keeping grades comparable across modes.
func (s *WickReversal) score(wickShare float64, metCount int) float64 {
	raw := wickWeight*wickShare + criterionWeight*float64(metCount)
	max := wickWeight + criterionWeight*float64(len(s.policy.evaluated()))
	if max <= 0 {
		return 0
	}
	score := raw / max
	if score > 1 {
		score = 1
	}
	return score
}

// levels derives entry, stop and targets from the signal bar. The stop sits
// one buffer beyond the rejection extreme; the primary target is a fixed R
// multiple of that risk.
func (s *WickReversal) levels(side market.Side, bar market.Candle) (entry, stop, primary, secondary decimal.Decimal, rr float64) {
	entry = bar.Close
	buffer := bar.Range().Mul(decimal.NewFromFloat(stopBufferRange))

	if side == market.SideLong {
		stop = bar.Low.Sub(buffer)
		risk := entry.Sub(stop)
		primary = entry.Add(risk.Mul(decimal.NewFromFloat(targetR)))
		secondary = entry.Add(risk.Mul(decimal.NewFromFloat(swingTargetR)))
	} else {
		stop = bar.High.Add(buffer)
		risk := stop.Sub(entry)
		primary = entry.Sub(risk.Mul(decimal.NewFromFloat(targetR)))
		secondary = entry.Sub(risk.Mul(decimal.NewFromFloat(swingTargetR)))
	}
	return entry, stop, primary, secondary, targetR
}

// gradeOf maps normalized score plus absolute confluence onto the quality
// enum. High scores without broad confluence cap at B.
func gradeOf(score float64, confluence int) market.Grade {
	switch {
	case score >= 0.85 && confluence >= 4:
		return market.GradeAPlus
	case score >= 0.72 && confluence >= 3:
		return market.GradeA
	case score >= 0.62 && confluence >= 2:
		return market.GradeB
	default:
		return market.GradeC
	}
}
