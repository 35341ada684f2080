//! Channel Break Strategy
//!
//! Momentum counterpart to the wick fade: a conviction-body close through
//! the N-bar channel extreme, confirmed by participation and trend checks.

package strategies

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"replay-backtest/services/market"
	"replay-backtest/services/replay"
)

// StrategyChannelBreak is the registered strategy name.
const StrategyChannelBreak = "channel-break"

// minBodyShare is the floor on body-to-range conviction for a breakout bar.
const minBodyShare = 0.55

// channelStrict demands participation and at least two confirmations.
var channelStrict = Policy{
	Name:     "strict",
	Required: []string{SignalVolumeSurge},
	Waived: map[string]bool{
		SignalLiquiditySweep: true,
		SignalLevelProximity: true,
	},
	MinConfluence: 2,
}

// channelExploratory takes any single confirmation.
var channelExploratory = Policy{
	Name: "exploratory",
	Waived: map[string]bool{
		SignalLiquiditySweep: true,
		SignalLevelProximity: true,
		SignalVolumeSurge:    true,
	},
	MinConfluence: 1,
}

func channelPolicyFor(mode market.Mode) Policy {
	if mode == market.ModeExploratory {
		return channelExploratory
	}
	return channelStrict
}

// ChannelBreak proposes continuation entries on closes through the rolling
// channel extreme. Same tuning block as the wick fade; the sweep lookback
// doubles as the channel length.
type ChannelBreak struct {
	tuning   Tuning
	policy   Policy
	criteria []criterion
	log      *zap.Logger
}

// NewChannelBreak builds the strategy for one operating mode.
func NewChannelBreak(t Tuning, mode market.Mode, log *zap.Logger) (*ChannelBreak, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t = t.withDefaults()
	crit, err := buildCriteria(allCriteria, t)
	if err != nil {
		return nil, err
	}
	return &ChannelBreak{
		tuning:   t,
		policy:   channelPolicyFor(mode),
		criteria: crit,
		log:      log,
	}, nil
}

func (s *ChannelBreak) Name() string { return StrategyChannelBreak }

func (s *ChannelBreak) WarmupBars() int {
	n := s.tuning.SweepLookback + 1
	if n < minWarmupBars {
		n = minWarmupBars
	}
	return n
}

// Evaluate implements replay.SetupProvider.
func (s *ChannelBreak) Evaluate(req replay.EvalRequest) (*market.Setup, error) {
	mctx, ok := req.Cache.Get(req.Key)
	if !ok || req.Closes.Any() {
		mctx = computeContext(req)
		req.Cache.Put(req.Key, mctx)
	}

	side, bodyShare, triggered := s.trigger(req)
	if !triggered {
		return nil, nil
	}

	in := checkInput{side: side, bar: req.Bar, history: req.History, mctx: mctx}
	met := make([]string, 0, len(s.criteria))
	for _, c := range s.criteria {
		if s.policy.Waived[c.name()] {
			continue
		}
		if c.met(in) {
			met = append(met, c.name())
		}
	}
	for _, r := range s.policy.Required {
		found := false
		for _, sig := range met {
			if sig == r {
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
	}
	if len(met) < s.policy.MinConfluence {
		return nil, nil
	}

	raw := wickWeight*bodyShare + criterionWeight*float64(len(met))
	max := wickWeight + criterionWeight*float64(len(s.policy.evaluated()))
	score := raw / max
	if score > 1 {
		score = 1
	}
	if score < s.tuning.MinScore {
		return nil, nil
	}

	entry := req.Bar.Close
	buffer := req.Bar.Range().Mul(decimal.NewFromFloat(stopBufferRange))
	var stop, primary, secondary decimal.Decimal
	if side == market.SideLong {
		stop = req.Bar.Low.Sub(buffer)
		risk := entry.Sub(stop)
		primary = entry.Add(risk.Mul(decimal.NewFromFloat(targetR)))
		secondary = entry.Add(risk.Mul(decimal.NewFromFloat(swingTargetR)))
	} else {
		stop = req.Bar.High.Add(buffer)
		risk := stop.Sub(entry)
		primary = entry.Sub(risk.Mul(decimal.NewFromFloat(targetR)))
		secondary = entry.Sub(risk.Mul(decimal.NewFromFloat(swingTargetR)))
	}
	if targetR < s.tuning.MinRiskReward {
		return nil, nil
	}

	trendAligned := false
	for _, sig := range met {
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
		Strategy:        StrategyChannelBreak,
		Timestamp:       req.Ts,
		Side:            side,
		Entry:           entry,
		Stop:            stop,
		PrimaryTarget:   primary,
		SecondaryTarget: secondary,
		Grade:           gradeOf(score, len(met)),
		Score:           score,
		RiskReward:      targetR,
		TradeType:       tradeType,
		Signals:         met,
	}

	s.log.Debug("setup",
		zap.String("symbol", req.Symbol),
		zap.Int64("ts", req.Ts),
		zap.String("side", side.String()),
		zap.String("grade", setup.Grade.String()),
		zap.Float64("score", score),
		zap.Strings("signals", met))
	return setup, nil
}

// trigger detects a conviction close through the prior channel extreme.
func (s *ChannelBreak) trigger(req replay.EvalRequest) (market.Side, float64, bool) {
	bar := req.Bar
	rng := bar.Range()
	if !rng.IsPositive() {
		return market.SideLong, 0, false
	}
	share, _ := bar.Body().Div(rng).Float64()
	if share < minBodyShare {
		return market.SideLong, 0, false
	}

	minutes := req.History.History(bar.Symbol, market.Period1m)
	if len(minutes) < 2 {
		return market.SideLong, 0, false
	}
	prior := minutes[:len(minutes)-1]
	if len(prior) > s.tuning.SweepLookback {
		prior = prior[len(prior)-s.tuning.SweepLookback:]
	}

	if bar.IsBullish() {
		highest := prior[0].High
		for _, b := range prior[1:] {
			if b.High.GreaterThan(highest) {
				highest = b.High
			}
		}
		if bar.Close.GreaterThan(highest) {
			return market.SideLong, share, true
		}
		return market.SideLong, 0, false
	}

	lowest := prior[0].Low
	for _, b := range prior[1:] {
		if b.Low.LessThan(lowest) {
			lowest = b.Low
		}
	}
	if bar.Close.LessThan(lowest) {
		return market.SideShort, share, true
	}
	return market.SideShort, 0, false
}
