package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"replay-backtest/services/market"
)

func TestPolicyForMode(t *testing.T) {
	assert.Equal(t, "strict", PolicyFor(market.ModeStrict).Name)
	assert.Equal(t, "exploratory", PolicyFor(market.ModeExploratory).Name)
}

func TestPolicyEvaluatedKeepsRegistrationOrder(t *testing.T) {
	assert.Equal(t, allCriteria, PolicyStrict.evaluated(), "strict waives nothing")

	want := []string{SignalLiquiditySweep, SignalLevelProximity, SignalSessionBias}
	assert.Equal(t, want, PolicyExploratory.evaluated())
}

func TestPolicyRequired(t *testing.T) {
	assert.Equal(t, []string{SignalLiquiditySweep}, PolicyStrict.Required)
	assert.Empty(t, PolicyExploratory.Required)
}
