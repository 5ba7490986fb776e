package scheduler

import (
	"context"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/snapshotcache"
)

// highTierFrontSlackDays is the "≤ 5 days off target" window from
// spec.md §4.2's high-tier rule.
const highTierFrontSlackDays = 5

// TierOf classifies a ticker per spec.md §4.2: high if any active
// subscriber's policy has a front-target DTE pair whose target expiry is
// currently listed within highTierFrontSlackDays, medium if merely
// subscribed, low if unsubscribed but still referenced by discovery.
//
// The high-tier check needs to know which expiries are "currently
// listed", which only a Chain Provider call can answer — but the
// scheduler deliberately never calls the provider (that's the scan
// worker's job, gated by tier cadence). Instead it consults the last
// snapshot the scan worker cached for this ticker (snapshotcache.Latest);
// if none exists yet (a brand-new ticker, or one whose cache entry has
// expired), the high-tier condition can't be evaluated and the ticker
// falls through to medium/low. This keeps the scheduler from ever
// fetching a chain itself while still letting the high-tier promotion
// take effect within one cadence window of the first scan.
func TierOf(ctx context.Context, cache *snapshotcache.Cache, ticker string, activeSubscriberCount int, discoveryReferenced bool, policies []domain.UserPolicy) domain.Tier {
	// ActiveTickers only ever returns rows with subscribers or a
	// discovery reference, so an unsubscribed ticker reaching here is
	// discovery-only and gets the low tier; a ticker with neither is
	// absent from the registry and never reaches TierOf at all.
	if activeSubscriberCount <= 0 {
		return domain.TierLow
	}

	snap, ok, err := cache.Latest(ctx, ticker)
	if err == nil && ok && anyPolicyWantsHighTier(snap, policies) {
		return domain.TierHigh
	}
	return domain.TierMedium
}

func anyPolicyWantsHighTier(snap domain.ChainSnapshot, policies []domain.UserPolicy) bool {
	for _, policy := range policies {
		for _, rule := range policy.DTEPairs.Data() {
			if expiryWithinSlack(snap, rule.FrontTarget, highTierFrontSlackDays) {
				return true
			}
		}
	}
	return false
}

func expiryWithinSlack(snap domain.ChainSnapshot, targetDTE, slackDays int) bool {
	for _, e := range snap.Expiries {
		dte := e.DTE(snap.AsOf)
		dist := dte - targetDTE
		if dist < 0 {
			dist = -dist
		}
		if dist <= slackDays {
			return true
		}
	}
	return false
}
