package tracker

import (
	"time"

	"github.com/forwardfactor/scanner/internal/domain"
)

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// Decide applies the same debounce/cooldown rules as checkScript to a
// state value already held in memory. It exists so the tracker's decision
// logic has a pure, unit-testable mirror of the Lua script that actually
// runs atomically against Redis in production — any change to one must be
// mirrored in the other.
func Decide(state domain.StabilityState, hadPriorState bool, ff float64, policy domain.UserPolicy, nowUnix int64) (shouldAlert bool, reason Reason, next domain.StabilityState) {
	if !hadPriorState {
		return false, ReasonFirstScan, domain.StabilityState{LastFF: ff, ConsecutiveAbove: 1}
	}

	if ff < policy.FFThreshold {
		return false, ReasonBelowThreshold, domain.StabilityState{
			LastFF: ff, ConsecutiveAbove: 0,
			LastAlertTS: state.LastAlertTS, LastAlertFF: state.LastAlertFF,
		}
	}

	consecutive := state.ConsecutiveAbove + 1
	next = domain.StabilityState{
		LastFF: ff, ConsecutiveAbove: consecutive,
		LastAlertTS: state.LastAlertTS, LastAlertFF: state.LastAlertFF,
	}

	if consecutive < policy.StabilityScans {
		return false, ReasonNeedsStability, next
	}
	if state.LastAlertTS != nil && nowUnix-state.LastAlertTS.Unix() < int64(policy.CooldownMinutes)*60 {
		return false, ReasonCooldown, next
	}
	if state.LastAlertFF != nil && ff-*state.LastAlertFF < defaultDeltaFFMin {
		return false, ReasonDeltaTooSmall, next
	}

	alertedAt := unixTime(nowUnix)
	next.LastAlertTS = &alertedAt
	next.LastAlertFF = &ff
	return true, ReasonOK, next
}
