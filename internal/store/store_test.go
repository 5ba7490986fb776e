package store

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/forwardfactor/scanner/internal/domain"
)

func sampleSignal() domain.Signal {
	asOf := time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC)
	return domain.Signal{
		Ticker:      "SPY",
		AsOfTS:      asOf,
		FrontExpiry: asOf.AddDate(0, 0, 30),
		BackExpiry:  asOf.AddDate(0, 0, 60),
		VolPoint:    domain.VolPointATM,
	}
}

func TestDedupeKey_StableForIdenticalInputs(t *testing.T) {
	sig := sampleSignal()
	assert.Equal(t, DedupeKey(sig), DedupeKey(sig))
}

func TestDedupeKey_IgnoresTimeOfDay(t *testing.T) {
	// Two scans of the same calendar day, different clock times, must
	// collapse to the same key.
	morning := sampleSignal()
	afternoon := sampleSignal()
	afternoon.AsOfTS = morning.AsOfTS.Add(5 * time.Hour)

	assert.Equal(t, DedupeKey(morning), DedupeKey(afternoon))
}

func TestDedupeKey_SharedAcrossSubscribers(t *testing.T) {
	// Two subscribers of the same ticker with matching dte_pairs/vol_point
	// must collapse to the same signal row; the user has no bearing on it,
	// nor do per-policy fields such as the liquidity-driven quality score.
	first := sampleSignal()
	first.QualityScore = 1.0
	second := sampleSignal()
	second.QualityScore = 0.5
	assert.Equal(t, DedupeKey(first), DedupeKey(second))
}

func TestDedupeKey_DiffersByTicker(t *testing.T) {
	a := sampleSignal()
	b := sampleSignal()
	b.Ticker = "QQQ"
	assert.NotEqual(t, DedupeKey(a), DedupeKey(b))
}

func TestUniqueViolation_DetectsPostgresCode23505(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "uq_signals_dedupe_key"}
	assert.True(t, uniqueViolation(err))
}

func TestUniqueViolation_IgnoresOtherCodes(t *testing.T) {
	err := &pgconn.PgError{Code: "23503"}
	assert.False(t, uniqueViolation(err))
	assert.False(t, uniqueViolation(errors.New("boom")))
	assert.False(t, uniqueViolation(nil))
}
