package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/engine"
	"gorm.io/datatypes"
)

func ptr(f float64) *float64 { return &f }

func TestForwardFactor_ScenarioA(t *testing.T) {
	ff, err := engine.ForwardFactor(0.30, 30, 0.22, 60)
	require.NoError(t, err)
	assert.InDelta(t, 2.637, ff, 0.01)
}

func TestForwardFactor_NegativeForwardVariance(t *testing.T) {
	_, err := engine.ForwardFactor(0.50, 30, 0.20, 60)
	require.Error(t, err)
	var rej *engine.RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, engine.RejectNegativeForwardVariance, rej.Code)
}

func TestForwardFactor_InvalidDTE(t *testing.T) {
	cases := []struct {
		name               string
		frontDTE, backDTE int
	}{
		{"front zero", 0, 60},
		{"equal dtes", 30, 30},
		{"back before front", 60, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.ForwardFactor(0.30, tc.frontDTE, 0.22, tc.backDTE)
			require.Error(t, err)
			var rej *engine.RejectError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, engine.RejectInvalidDTE, rej.Code)
		})
	}
}

func TestForwardFactor_NeverNaN(t *testing.T) {
	// Property 1: for valid positive inputs, ForwardFactor returns a finite
	// real or a typed rejection, never NaN.
	sigmas := []float64{0.01, 0.1, 0.3, 0.9, 4.9}
	dtes := []int{1, 5, 30, 60, 90, 365}
	for _, s1 := range sigmas {
		for _, d1 := range dtes {
			for _, s2 := range sigmas {
				for _, d2 := range dtes {
					ff, err := engine.ForwardFactor(s1, d1, s2, d2)
					if err == nil {
						assert.False(t, isNaN(ff), "got NaN for %v %v %v %v", s1, d1, s2, d2)
					}
				}
			}
		}
	}
}

func isNaN(f float64) bool { return f != f }

func atmChain(asOf time.Time, underlying float64, frontDTE, backDTE int, frontIV, frontBid, frontAsk float64, frontOI, frontVol int, backIV, backBid, backAsk float64, backOI, backVol int) domain.ChainSnapshot {
	mk := func(dte int, strike, iv, bid, ask float64, oi, vol int) domain.Expiry {
		return domain.Expiry{
			ExpiryDate: asOf.AddDate(0, 0, dte),
			Contracts: []domain.Contract{
				{
					Strike: strike, Right: domain.RightCall,
					Bid: ptr(bid), Ask: ptr(ask), ImpliedVol: ptr(iv),
					Volume: vol, OpenInterest: oi,
				},
			},
		}
	}
	return domain.ChainSnapshot{
		Ticker:          "SPY",
		AsOf:            asOf,
		UnderlyingPrice: underlying,
		Expiries: []domain.Expiry{
			mk(frontDTE, underlying, frontIV, frontBid, frontAsk, frontOI, frontVol),
			mk(backDTE, underlying, backIV, backBid, backAsk, backOI, backVol),
		},
	}
}

func scenarioAPolicy() domain.UserPolicy {
	p := domain.UserPolicy{
		FFThreshold:     0.20,
		VolPoint:        domain.VolPointATM,
		MinOpenInterest: 100,
		MinVolume:       10,
		MaxBidAskPct:    0.08,
		SigmaFwdFloor:   0.05,
		StabilityScans:  2,
		CooldownMinutes: 120,
		Timezone:        "America/Vancouver",
	}
	p.DTEPairs = datatypes.NewJSONType([]domain.DTEPair{
		{FrontTarget: 30, BackTarget: 60, FrontTol: 5, BackTol: 10},
	})
	return p
}

func TestCompute_ScenarioA_HappyPath(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	snap := atmChain(asOf, 500.0, 30, 60, 0.30, 3.00, 3.10, 500, 120, 0.22, 4.50, 4.55, 800, 90)

	result := engine.Compute(snap, scenarioAPolicy())

	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	assert.InDelta(t, 2.637, sig.FFValue, 0.01)
	assert.Equal(t, 1.0, sig.QualityScore)
	assert.Empty(t, sig.ReasonCodes.Data())
}

func TestCompute_ScenarioD_WideSpreadStillEmitsWithLowerQuality(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	snap := atmChain(asOf, 500.0, 30, 60, 0.30, 2.50, 3.00, 500, 120, 0.22, 4.50, 4.55, 800, 90)

	result := engine.Compute(snap, scenarioAPolicy())

	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	assert.Equal(t, 0.5, sig.QualityScore)
	assert.Contains(t, sig.ReasonCodes.Data(), "front_wide_spread")
}

func TestCompute_ScenarioE_NegativeForwardVarianceYieldsNoSignal(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	snap := atmChain(asOf, 500.0, 30, 60, 0.50, 3.00, 3.10, 500, 120, 0.20, 4.50, 4.55, 800, 90)

	result := engine.Compute(snap, scenarioAPolicy())

	assert.Empty(t, result.Signals)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0].Reasons, engine.RejectNegativeForwardVariance)
}

func TestCompute_IsPureAndIdempotent(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	snap := atmChain(asOf, 500.0, 30, 60, 0.30, 3.00, 3.10, 500, 120, 0.22, 4.50, 4.55, 800, 90)
	policy := scenarioAPolicy()

	first := engine.Compute(snap, policy)
	second := engine.Compute(snap, policy)

	require.Len(t, first.Signals, 1)
	require.Len(t, second.Signals, 1)
	assert.Equal(t, first.Signals[0].FFValue, second.Signals[0].FFValue)
	assert.Equal(t, snap.UnderlyingPrice, 500.0, "Compute must not mutate its inputs")
}

func TestApplyLiquidityFilters_BidEqualsAskPasses(t *testing.T) {
	c := domain.Contract{Bid: ptr(3.00), Ask: ptr(3.00), OpenInterest: 500, Volume: 100}
	policy := scenarioAPolicy()
	reasons := engine.ApplyLiquidityFilters(c, policy)
	assert.Empty(t, reasons)
}

func TestApplyLiquidityFilters_MissingQuotes(t *testing.T) {
	c := domain.Contract{OpenInterest: 500, Volume: 100}
	reasons := engine.ApplyLiquidityFilters(c, scenarioAPolicy())
	assert.Equal(t, []engine.RejectCode{engine.RejectMissingQuotes}, reasons)
}

func TestSelectVolPoint_ATMTieBreaksLower(t *testing.T) {
	asOf := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	expiry := domain.Expiry{
		ExpiryDate: asOf.AddDate(0, 0, 30),
		Contracts: []domain.Contract{
			{Strike: 495, ImpliedVol: ptr(0.25)},
			{Strike: 505, ImpliedVol: ptr(0.26)},
		},
	}
	_, iv, err := engine.SelectVolPoint(expiry, 500, domain.VolPointATM)
	require.NoError(t, err)
	assert.Equal(t, 0.25, iv)
}
