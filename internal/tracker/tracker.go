// Package tracker implements the Redis-backed stability tracker: the
// debounce/cooldown state machine described in spec.md §4.4. The
// read-modify-write on a tracker key is the one place two workers can race
// on the same state (two subscribers of the same ticker sharing a
// (front,back) expiry pair), so the whole check is a single Lua script
// executed server-side rather than a get-then-set.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forwardfactor/scanner/internal/domain"
)

const stateTTL = 24 * time.Hour

// defaultDeltaFFMin is the minimum FF increase required to re-alert once
// cooldown has elapsed, per spec.md §4.4 step 2.
const defaultDeltaFFMin = 0.02

// Reason is why check did or did not alert.
type Reason string

const (
	ReasonFirstScan      Reason = "first_scan"
	ReasonNeedsStability Reason = "needs_stability"
	ReasonCooldown       Reason = "cooldown"
	ReasonDeltaTooSmall  Reason = "delta_too_small"
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonOK             Reason = "ok"
)

// checkScript performs the entire read-modify-write atomically: it loads
// the current state (if any), applies the debounce/cooldown rules, writes
// the new state back with a refreshed TTL, and returns the decision. All
// numeric arguments travel as strings because Lua's redis.call marshals
// Lua numbers lossily for large/float values.
const checkScript = `
local raw = redis.call('GET', KEYS[1])
local ff = tonumber(ARGV[1])
local ff_threshold = tonumber(ARGV[2])
local stability_scans = tonumber(ARGV[3])
local cooldown_seconds = tonumber(ARGV[4])
local delta_ff_min = tonumber(ARGV[5])
local now = tonumber(ARGV[6])
local ttl_seconds = tonumber(ARGV[7])

local should_alert = 0
local reason = ""
local consecutive_above = 0
local last_alert_ts = nil
local last_alert_ff = nil

if not raw then
  consecutive_above = 1
  reason = "first_scan"
else
  local state = cjson.decode(raw)
  last_alert_ts = state.last_alert_ts
  last_alert_ff = state.last_alert_ff

  if ff >= ff_threshold then
    consecutive_above = (state.consecutive_above or 0) + 1
    if consecutive_above < stability_scans then
      reason = "needs_stability"
    elseif last_alert_ts and (now - last_alert_ts) < cooldown_seconds then
      reason = "cooldown"
    elseif last_alert_ff and (ff - last_alert_ff) < delta_ff_min then
      reason = "delta_too_small"
    else
      should_alert = 1
      reason = "ok"
      last_alert_ts = now
      last_alert_ff = ff
    end
  else
    consecutive_above = 0
    reason = "below_threshold"
  end
end

local newState = {
  last_ff = ff,
  consecutive_above = consecutive_above,
  last_alert_ts = last_alert_ts,
  last_alert_ff = last_alert_ff,
}
redis.call('SET', KEYS[1], cjson.encode(newState), 'EX', ttl_seconds)

return {should_alert, reason}
`

// Tracker evaluates stability for a (ticker, expiry-pair, user) key.
type Tracker struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// New builds a Tracker over rdb. now defaults to time.Now; tests may
// substitute a fixed clock.
func New(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb, script: redis.NewScript(checkScript), now: time.Now}
}

// Key builds the cache key for a (ticker, front-expiry, back-expiry, user)
// tuple. Expiry dates, never DTE, so the key does not drift daily.
func Key(ticker string, frontExpiry, backExpiry time.Time, userID fmt.Stringer) string {
	return fmt.Sprintf("stab|%s|%s|%s|%s", ticker,
		frontExpiry.UTC().Format("2006-01-02"),
		backExpiry.UTC().Format("2006-01-02"),
		userID.String())
}

// Check runs the atomic read-modify-write from spec.md §4.4 and returns
// whether the caller should alert and why.
func (t *Tracker) Check(ctx context.Context, key string, ff float64, policy domain.UserPolicy) (shouldAlert bool, reason Reason, err error) {
	deltaFFMin := defaultDeltaFFMin
	res, err := t.script.Run(ctx, t.rdb, []string{key},
		ff,
		policy.FFThreshold,
		policy.StabilityScans,
		time.Duration(policy.CooldownMinutes)*time.Minute/time.Second,
		deltaFFMin,
		t.now().Unix(),
		int64(stateTTL/time.Second),
	).Result()
	if err != nil {
		return false, "", fmt.Errorf("tracker: run check script: %w", err)
	}

	row, ok := res.([]interface{})
	if !ok || len(row) != 2 {
		return false, "", fmt.Errorf("tracker: unexpected script result %#v", res)
	}
	alertFlag, _ := row[0].(int64)
	reasonStr, _ := row[1].(string)
	return alertFlag == 1, Reason(reasonStr), nil
}

// Load reads the current StabilityState for key without mutating it, for
// diagnostics/tests. Returns (zero, false, nil) if no state exists.
func (t *Tracker) Load(ctx context.Context, key string) (domain.StabilityState, bool, error) {
	raw, err := t.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.StabilityState{}, false, nil
	}
	if err != nil {
		return domain.StabilityState{}, false, fmt.Errorf("tracker: load %s: %w", key, err)
	}

	var wire struct {
		LastFF           float64  `json:"last_ff"`
		ConsecutiveAbove int      `json:"consecutive_above"`
		LastAlertTS      *float64 `json:"last_alert_ts"`
		LastAlertFF      *float64 `json:"last_alert_ff"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return domain.StabilityState{}, false, fmt.Errorf("tracker: decode %s: %w", key, err)
	}

	state := domain.StabilityState{LastFF: wire.LastFF, ConsecutiveAbove: wire.ConsecutiveAbove, LastAlertFF: wire.LastAlertFF}
	if wire.LastAlertTS != nil {
		ts := time.Unix(int64(*wire.LastAlertTS), 0).UTC()
		state.LastAlertTS = &ts
	}
	return state, true, nil
}
