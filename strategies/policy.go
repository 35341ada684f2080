package strategies

import "replay-backtest/services/market"

// Policy names exactly which confluence checks an operating mode runs,
// which must pass, and how many must agree before a setup is produced.
// Waived checks are skipped entirely, so the bypass surface is this struct,
// not conditionals scattered through the evaluator.
type Policy struct {
	Name string
	// Required criteria block the setup when unmet.
	Required []string
	// Waived criteria are not evaluated in this mode.
	Waived map[string]bool
	// MinConfluence is the minimum number of met criteria, required ones
	// included.
	MinConfluence int
}

// PolicyStrict runs every registered criterion and demands the sweep plus
// two more confirmations.
var PolicyStrict = Policy{
	Name:          "strict",
	Required:      []string{SignalLiquiditySweep},
	Waived:        map[string]bool{},
	MinConfluence: 3,
}

// PolicyExploratory surfaces marginal setups for research: participation and
// higher-timeframe agreement are waived, one confirmation suffices.
var PolicyExploratory = Policy{
	Name: "exploratory",
	Waived: map[string]bool{
		SignalVolumeSurge:    true,
		SignalTrendAlignment: true,
	},
	MinConfluence: 1,
}

// PolicyFor maps an operating mode to its evaluation policy.
func PolicyFor(mode market.Mode) Policy {
	if mode == market.ModeExploratory {
		return PolicyExploratory
	}
	return PolicyStrict
}

// evaluated returns the criterion names this policy actually runs, in the
// fixed registration order.
func (p Policy) evaluated() []string {
	out := make([]string, 0, len(allCriteria))
	for _, n := range allCriteria {
		if p.Waived[n] {
			continue
		}
		out = append(out, n)
	}
	return out
}
