// Package engine computes the Forward Factor for a chain snapshot against a
// user's policy. It is pure and stateless: no I/O, no clock reads beyond the
// as-of timestamp the caller supplies, and it never mutates its inputs.
package engine

import (
	"math"
	"sort"
	"time"

	"github.com/forwardfactor/scanner/internal/domain"
	"gorm.io/datatypes"
)

func datatypesJSONStrings(v []string) datatypes.JSONType[[]string] {
	return datatypes.NewJSONType(v)
}

// RejectCode enumerates the reasons compute or its sub-steps can decline to
// emit a Signal. These are persisted verbatim as reason codes.
type RejectCode string

const (
	RejectInvalidDTE               RejectCode = "invalid_dte"
	RejectNegativeForwardVariance  RejectCode = "negative_forward_variance"
	RejectSigmaFwdFloor            RejectCode = "sigma_fwd_floor"
	RejectMissingIV                RejectCode = "missing_iv"
	RejectMissingQuotes            RejectCode = "missing_quotes"
	RejectWideSpread               RejectCode = "wide_spread"
	RejectLowOI                    RejectCode = "low_oi"
	RejectLowVolume                RejectCode = "low_volume"
	RejectNonpositiveMid           RejectCode = "nonpositive_mid"
)

// RejectError is returned by ForwardFactor when the inputs can't produce a
// usable Forward Factor.
type RejectError struct {
	Code RejectCode
}

func (e *RejectError) Error() string { return string(e.Code) }

func reject(code RejectCode) error { return &RejectError{Code: code} }

// ForwardFactor computes FF = (σ1 - σ_fwd) / σ_fwd from front/back implied
// vols and days-to-expiry, per spec.md §4.1. It never returns NaN: every
// input that would produce one is rejected with a typed error first.
func ForwardFactor(frontIV float64, frontDTE int, backIV float64, backDTE int) (float64, error) {
	if frontDTE < 1 || backDTE < 1 {
		return 0, reject(RejectInvalidDTE)
	}
	t1 := float64(frontDTE) / 365.0
	t2 := float64(backDTE) / 365.0
	if t1 >= t2 {
		return 0, reject(RejectInvalidDTE)
	}

	v1 := frontIV * frontIV * t1
	v2 := backIV * backIV * t2
	vFwd := (v2 - v1) / (t2 - t1)
	if vFwd < 0 {
		return 0, reject(RejectNegativeForwardVariance)
	}

	sigmaFwd := math.Sqrt(vFwd)
	if sigmaFwd <= 0 {
		// Division by zero would follow; treat as below any positive floor.
		return 0, reject(RejectSigmaFwdFloor)
	}

	return (frontIV - sigmaFwd) / sigmaFwd, nil
}

// sigmaFwd recomputes σ_fwd alone, used to check the floor before FF itself
// is meaningful to a caller (ForwardFactor folds this in, but PERSIST-time
// diagnostics want the raw value even on the success path).
func sigmaFwd(frontIV float64, frontDTE int, backIV float64, backDTE int) float64 {
	t1 := float64(frontDTE) / 365.0
	t2 := float64(backDTE) / 365.0
	v1 := frontIV * frontIV * t1
	v2 := backIV * backIV * t2
	vFwd := (v2 - v1) / (t2 - t1)
	if vFwd < 0 {
		return 0
	}
	return math.Sqrt(vFwd)
}

// ExpiryPair is a matched (front, back) pair of listed expiries for one
// DTEPair rule.
type ExpiryPair struct {
	Front domain.Expiry
	Back  domain.Expiry
	Rule  domain.DTEPair
}

// PairExpiries matches each DTEPair rule against the chain's listed
// expiries, per spec.md §4.1: nearest to target within tolerance, ties
// broken by smaller |dte-target| then by earlier expiry. A rule is skipped
// (not rejected) if no expiry lies within tolerance, or if the chosen pair
// fails front.dte < back.dte.
func PairExpiries(snapshot domain.ChainSnapshot, rules []domain.DTEPair) []ExpiryPair {
	var pairs []ExpiryPair
	for _, rule := range rules {
		front, ok := nearestExpiry(snapshot, rule.FrontTarget, rule.FrontTol)
		if !ok {
			continue
		}
		back, ok := nearestExpiry(snapshot, rule.BackTarget, rule.BackTol)
		if !ok {
			continue
		}
		if front.DTE(snapshot.AsOf) >= back.DTE(snapshot.AsOf) {
			continue
		}
		pairs = append(pairs, ExpiryPair{Front: front, Back: back, Rule: rule})
	}
	return pairs
}

func nearestExpiry(snapshot domain.ChainSnapshot, target, tol int) (domain.Expiry, bool) {
	var best domain.Expiry
	bestDist := math.MaxInt64
	found := false

	for _, e := range snapshot.Expiries {
		dte := e.DTE(snapshot.AsOf)
		if dte < target-tol || dte > target+tol {
			continue
		}
		dist := dte - target
		if dist < 0 {
			dist = -dist
		}
		switch {
		case !found:
			best, bestDist, found = e, dist, true
		case dist < bestDist:
			best, bestDist = e, dist
		case dist == bestDist && e.ExpiryDate.Before(best.ExpiryDate):
			best = e
		}
	}
	return best, found
}

// SelectVolPoint picks the contract representing method's vol point on
// expiry and returns its IV. ATM picks the contract whose strike is closest
// to the underlying price, ties broken lower; "Nd_put"/"Nd_call" picks the
// contract of that right closest to the target delta.
func SelectVolPoint(expiry domain.Expiry, underlyingPrice float64, method domain.VolPoint) (domain.Contract, float64, error) {
	var contract domain.Contract
	found := false

	if target, right, ok := method.DeltaTarget(); ok {
		bestDist := math.MaxFloat64
		for _, c := range expiry.Contracts {
			if c.Right != right || c.Delta == nil {
				continue
			}
			dist := math.Abs(math.Abs(*c.Delta) - target)
			if !found || dist < bestDist {
				contract, bestDist, found = c, dist, true
			}
		}
	} else {
		bestDist := math.MaxFloat64
		for _, c := range expiry.Contracts {
			dist := math.Abs(c.Strike - underlyingPrice)
			switch {
			case !found:
				contract, bestDist, found = c, dist, true
			case dist < bestDist:
				contract, bestDist = c, dist
			case dist == bestDist && c.Strike < contract.Strike:
				contract = c
			}
		}
	}

	if !found {
		return domain.Contract{}, 0, reject(RejectMissingIV)
	}
	if contract.ImpliedVol == nil {
		return domain.Contract{}, 0, reject(RejectMissingIV)
	}
	return contract, *contract.ImpliedVol, nil
}

// ApplyLiquidityFilters checks a contract against a policy's liquidity
// gates and returns the reason codes for every gate it failed (nil if it
// passed all of them). A contract missing a quote, or with a non-positive
// mid, gets only that single code; the other gates are not evaluated.
func ApplyLiquidityFilters(c domain.Contract, policy domain.UserPolicy) []RejectCode {
	var reasons []RejectCode

	mid, haveQuotes := c.Mid()
	if !haveQuotes {
		return []RejectCode{RejectMissingQuotes}
	}
	if mid <= 0 {
		return []RejectCode{RejectNonpositiveMid}
	}

	if (*c.Ask-*c.Bid)/mid > policy.MaxBidAskPct {
		reasons = append(reasons, RejectWideSpread)
	}
	if c.OpenInterest < policy.MinOpenInterest {
		reasons = append(reasons, RejectLowOI)
	}
	if c.Volume < policy.MinVolume {
		reasons = append(reasons, RejectLowVolume)
	}
	return reasons
}

// Diagnostic records why a candidate pair failed to produce a Signal.
type Diagnostic struct {
	FrontExpiry time.Time
	BackExpiry  time.Time
	Reasons     []RejectCode
}

// Result is the outcome of Compute: the signals that cleared every gate,
// plus diagnostics for pairs that didn't.
type Result struct {
	Signals     []domain.Signal
	Diagnostics []Diagnostic
}

// Compute runs the full per-user pipeline described in spec.md §4.1 steps
// 1-5 over one chain snapshot: pair expiries, select vol points, compute FF,
// apply liquidity filters, and emit signals for pairs clearing threshold.
// Signals are sorted by FF value descending. Compute never mutates
// snapshot or policy and is idempotent: identical inputs yield an
// identical Result. The returned Signals carry no ID or DedupeKey —
// store.CreateSignal stamps both when the scan worker persists them.
func Compute(snapshot domain.ChainSnapshot, policy domain.UserPolicy) Result {
	var result Result

	for _, pair := range PairExpiries(snapshot, policy.DTEPairs.Data()) {
		frontDTE := pair.Front.DTE(snapshot.AsOf)
		backDTE := pair.Back.DTE(snapshot.AsOf)

		frontContract, frontIV, err := SelectVolPoint(pair.Front, snapshot.UnderlyingPrice, policy.VolPoint)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				FrontExpiry: pair.Front.ExpiryDate, BackExpiry: pair.Back.ExpiryDate,
				Reasons: []RejectCode{RejectMissingIV},
			})
			continue
		}
		backContract, backIV, err := SelectVolPoint(pair.Back, snapshot.UnderlyingPrice, policy.VolPoint)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				FrontExpiry: pair.Front.ExpiryDate, BackExpiry: pair.Back.ExpiryDate,
				Reasons: []RejectCode{RejectMissingIV},
			})
			continue
		}

		frontReasons := ApplyLiquidityFilters(frontContract, policy)
		backReasons := ApplyLiquidityFilters(backContract, policy)
		var reasonCodes []string
		for _, r := range frontReasons {
			reasonCodes = append(reasonCodes, "front_"+string(r))
		}
		for _, r := range backReasons {
			reasonCodes = append(reasonCodes, "back_"+string(r))
		}

		ff, err := ForwardFactor(frontIV, frontDTE, backIV, backDTE)
		if err != nil {
			code := RejectCode(err.(*RejectError).Code)
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				FrontExpiry: pair.Front.ExpiryDate, BackExpiry: pair.Back.ExpiryDate,
				Reasons: append(stringsToRejectCodes(reasonCodes), code),
			})
			continue
		}

		sFwd := sigmaFwd(frontIV, frontDTE, backIV, backDTE)
		if sFwd < policy.SigmaFwdFloor {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				FrontExpiry: pair.Front.ExpiryDate, BackExpiry: pair.Back.ExpiryDate,
				Reasons: append(stringsToRejectCodes(reasonCodes), RejectSigmaFwdFloor),
			})
			continue
		}

		if ff < policy.FFThreshold {
			continue
		}

		quality := 1.0
		if len(reasonCodes) > 0 {
			quality = 0.5
		}

		sig := domain.Signal{
			Ticker:       snapshot.Ticker,
			AsOfTS:       snapshot.AsOf,
			FrontExpiry:  pair.Front.ExpiryDate,
			BackExpiry:   pair.Back.ExpiryDate,
			FrontDTE:     frontDTE,
			BackDTE:      backDTE,
			FrontIV:      frontIV,
			BackIV:       backIV,
			SigmaFwd:     sFwd,
			FFValue:      ff,
			VolPoint:     policy.VolPoint,
			QualityScore: quality,
			ReasonCodes:  datatypesJSONStrings(reasonCodes),
		}
		result.Signals = append(result.Signals, sig)
	}

	sort.SliceStable(result.Signals, func(i, j int) bool {
		return result.Signals[i].FFValue > result.Signals[j].FFValue
	})
	return result
}

func stringsToRejectCodes(reasons []string) []RejectCode {
	codes := make([]RejectCode, len(reasons))
	for i, r := range reasons {
		codes[i] = RejectCode(r)
	}
	return codes
}
