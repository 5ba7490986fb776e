package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/forwardfactor/scanner/internal/domain"
)

func policyWithFrontTarget(front int) domain.UserPolicy {
	return domain.UserPolicy{
		DTEPairs: datatypes.NewJSONType([]domain.DTEPair{{FrontTarget: front, FrontTol: 5, BackTarget: front + 30, BackTol: 5}}),
	}
}

func TestTierOf_NoSubscribersIsLow(t *testing.T) {
	// activeSubscriberCount <= 0 short-circuits before ever consulting the
	// snapshot cache, so a nil cache is safe here.
	tier := TierOf(context.Background(), nil, "SPY", 0, true, nil)
	require.Equal(t, domain.TierLow, tier)
}

func TestAnyPolicyWantsHighTier_ListedExpiryNearFrontTargetIsTrue(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.ChainSnapshot{
		AsOf: asOf,
		Expiries: []domain.Expiry{
			{ExpiryDate: asOf.AddDate(0, 0, 32)},
		},
	}
	require.True(t, anyPolicyWantsHighTier(snap, []domain.UserPolicy{policyWithFrontTarget(30)}))
}

func TestAnyPolicyWantsHighTier_ListedExpiryFarFromFrontTargetIsFalse(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.ChainSnapshot{
		AsOf: asOf,
		Expiries: []domain.Expiry{
			{ExpiryDate: asOf.AddDate(0, 0, 90)},
		},
	}
	require.False(t, anyPolicyWantsHighTier(snap, []domain.UserPolicy{policyWithFrontTarget(30)}))
}

func TestAnyPolicyWantsHighTier_ExactlyFiveDaysOffIsTrue(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.ChainSnapshot{
		AsOf: asOf,
		Expiries: []domain.Expiry{
			{ExpiryDate: asOf.AddDate(0, 0, 35)},
		},
	}
	require.True(t, anyPolicyWantsHighTier(snap, []domain.UserPolicy{policyWithFrontTarget(30)}))
}

func TestAnyPolicyWantsHighTier_NoExpiriesIsFalse(t *testing.T) {
	snap := domain.ChainSnapshot{AsOf: time.Now()}
	require.False(t, anyPolicyWantsHighTier(snap, []domain.UserPolicy{policyWithFrontTarget(30)}))
}
