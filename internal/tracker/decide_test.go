package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwardfactor/scanner/internal/domain"
)

func scenarioPolicy() domain.UserPolicy {
	return domain.UserPolicy{
		FFThreshold:     0.20,
		StabilityScans:  2,
		CooldownMinutes: 120,
	}
}

func TestDecide_ScenarioA_FirstScanThenAlert(t *testing.T) {
	policy := scenarioPolicy()
	t0 := int64(1_700_000_000)

	alert, reason, state := Decide(domain.StabilityState{}, false, 2.637, policy, t0)
	assert.False(t, alert)
	assert.Equal(t, ReasonFirstScan, reason)

	alert, reason, state = Decide(state, true, 2.637, policy, t0+180)
	assert.True(t, alert)
	assert.Equal(t, ReasonOK, reason)
	require.NotNil(t, state.LastAlertTS)
	require.NotNil(t, state.LastAlertFF)
	assert.Equal(t, 2.637, *state.LastAlertFF)
}

func TestDecide_ScenarioB_OneTickSpikeNeverAlerts(t *testing.T) {
	policy := scenarioPolicy()
	t0 := int64(1_700_000_000)

	alert, reason, state := Decide(domain.StabilityState{}, false, 0.30, policy, t0)
	assert.False(t, alert)
	assert.Equal(t, ReasonFirstScan, reason)

	alert, reason, state = Decide(state, true, 0.02, policy, t0+60)
	assert.False(t, alert)
	assert.Equal(t, ReasonBelowThreshold, reason)
	assert.Equal(t, 0, state.ConsecutiveAbove)

	// §4.4 step 3 only resets consecutive_above to 0 on a below-threshold
	// scan; it does not delete the key. The next above-threshold scan
	// therefore starts counting from 1 again and needs another pass
	// before it can alert.
	alert, reason, state = Decide(state, true, 0.28, policy, t0+120)
	assert.False(t, alert)
	assert.Equal(t, ReasonNeedsStability, reason)
	assert.Equal(t, 1, state.ConsecutiveAbove)
}

func TestDecide_ScenarioC_CooldownThenDeltaTooSmallThenAlert(t *testing.T) {
	policy := scenarioPolicy()
	t0 := int64(1_700_000_000)

	_, _, state := Decide(domain.StabilityState{}, false, 2.637, policy, t0)
	alert, _, state := Decide(state, true, 2.637, policy, t0+180)
	require.True(t, alert)

	// 30 minutes later, still in cooldown.
	alert, reason, state := Decide(state, true, 2.7, policy, t0+180+30*60)
	assert.False(t, alert)
	assert.Equal(t, ReasonCooldown, reason)

	// 2h05m after the alert, cooldown has elapsed but the delta is too small.
	// (2.645-2.637=0.008, comfortably under the 0.02 gate; spec.md's own
	// narrative example rounds its FF values enough that the arithmetic
	// doesn't quite hold, so this uses a delta that unambiguously fails.)
	alert, reason, state2 := Decide(state, true, 2.645, policy, t0+180+125*60)
	assert.False(t, alert)
	assert.Equal(t, ReasonDeltaTooSmall, reason)

	// Same elapsed time but a bigger jump clears the delta gate.
	alert, reason, _ = Decide(state2, true, 2.80, policy, t0+180+125*60)
	assert.True(t, alert)
	assert.Equal(t, ReasonOK, reason)
}

func TestDecide_NeedsStabilityBeforeStabilityScansReached(t *testing.T) {
	policy := scenarioPolicy()
	policy.StabilityScans = 3
	t0 := int64(1_700_000_000)

	_, _, state := Decide(domain.StabilityState{}, false, 0.5, policy, t0)
	alert, reason, state := Decide(state, true, 0.5, policy, t0+60)
	assert.False(t, alert)
	assert.Equal(t, ReasonNeedsStability, reason)
	assert.Equal(t, 2, state.ConsecutiveAbove)

	alert, reason, _ = Decide(state, true, 0.5, policy, t0+120)
	assert.True(t, alert)
	assert.Equal(t, ReasonOK, reason)
}

func TestDecide_StabilityScansOfOneAlertsOnFirstPass(t *testing.T) {
	// Open question resolved in DESIGN.md: stability_scans=1 means the
	// very first pass above threshold (after the unconditional first_scan
	// bootstrap) already alerts.
	policy := scenarioPolicy()
	policy.StabilityScans = 1
	t0 := int64(1_700_000_000)

	_, _, state := Decide(domain.StabilityState{}, false, 0.5, policy, t0)
	alert, reason, _ := Decide(state, true, 0.5, policy, t0+60)
	assert.True(t, alert)
	assert.Equal(t, ReasonOK, reason)
}
