// Package domain holds the core types shared by every package in the
// signal pipeline: tickers, policies, option chains, signals and decisions.
// Nothing in this package talks to Redis, Postgres or any network.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Tier classifies how often a ticker is scanned.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// VolPoint identifies which contract's implied vol represents an expiry:
// "ATM", or a target-delta rule like "35d_put" / "10d_call".
type VolPoint string

const VolPointATM VolPoint = "ATM"

// Right identifies a contract side.
type Right string

const (
	RightCall Right = "call"
	RightPut  Right = "put"
)

// DeltaTarget parses a "Nd_put"/"Nd_call" vol point into a target delta in
// [0,1] and the contract side it selects from. ok is false for "ATM" or any
// unrecognized rule.
func (v VolPoint) DeltaTarget() (target float64, right Right, ok bool) {
	s := string(v)
	for _, suffix := range [...]struct {
		tag   string
		right Right
	}{
		{"d_put", RightPut},
		{"d_call", RightCall},
	} {
		if rest, found := strings.CutSuffix(s, suffix.tag); found && rest != "" {
			n, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				continue
			}
			return n / 100.0, suffix.right, true
		}
	}
	return 0, "", false
}

// Ticker is the master registry row for a monitored symbol.
type Ticker struct {
	Symbol                string    `gorm:"column:symbol;primaryKey"`
	ActiveSubscriberCount int       `gorm:"column:active_subscriber_count;not null;default:0"`
	LastScanAt            time.Time `gorm:"column:last_scan_at"`
	Tier                  Tier      `gorm:"column:tier;not null;default:low"`
	DiscoveryReferenced   bool      `gorm:"column:discovery_referenced;not null;default:false"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Ticker) TableName() string { return "tickers" }

// Subscription links a user to a ticker they want scanned.
type Subscription struct {
	UserID  uuid.UUID `gorm:"column:user_id;primaryKey"`
	Ticker  string    `gorm:"column:ticker;primaryKey"`
	Active  bool      `gorm:"column:active;not null;default:true"`
	AddedAt time.Time `gorm:"column:added_at;autoCreateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

// DTEPair is one pairing rule: pick a front expiry near FrontTarget days
// out and a back expiry near BackTarget days out.
type DTEPair struct {
	FrontTarget int `json:"front_target"`
	BackTarget  int `json:"back_target"`
	FrontTol    int `json:"front_tol"`
	BackTol     int `json:"back_tol"`
}

// QuietHours is a user-local suppression window, "HH:MM" clock strings.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// UserPolicy is per-user configuration for the engine, tracker and router.
type UserPolicy struct {
	UserID          uuid.UUID                        `gorm:"column:user_id;primaryKey"`
	FFThreshold     float64                           `gorm:"column:ff_threshold;not null"`
	DTEPairs        datatypes.JSONType[[]DTEPair]     `gorm:"column:dte_pairs"`
	VolPoint        VolPoint                          `gorm:"column:vol_point;not null"`
	MinOpenInterest int                               `gorm:"column:min_open_interest;not null"`
	MinVolume       int                               `gorm:"column:min_volume;not null"`
	MaxBidAskPct    float64                           `gorm:"column:max_bid_ask_pct;not null"`
	SigmaFwdFloor   float64                           `gorm:"column:sigma_fwd_floor;not null"`
	StabilityScans  int                               `gorm:"column:stability_scans;not null"`
	CooldownMinutes int                               `gorm:"column:cooldown_minutes;not null"`
	QuietHours      datatypes.JSONType[QuietHours]    `gorm:"column:quiet_hours"`
	Timezone        string                            `gorm:"column:timezone;not null"`
	ChatID          int64                             `gorm:"column:chat_id;not null"`
	Active          bool                              `gorm:"column:active;not null;default:true"`
}

func (UserPolicy) TableName() string { return "user_policies" }

// Contract is one listed option on an expiry.
type Contract struct {
	Strike       float64
	Right        Right
	Bid          *float64
	Ask          *float64
	ImpliedVol   *float64
	Delta        *float64
	Volume       int
	OpenInterest int
}

// Mid returns (bid+ask)/2 and whether both quotes were present.
func (c Contract) Mid() (float64, bool) {
	if c.Bid == nil || c.Ask == nil {
		return 0, false
	}
	return (*c.Bid + *c.Ask) / 2.0, true
}

// Expiry is one listed expiration date with its contracts.
type Expiry struct {
	ExpiryDate time.Time
	Contracts  []Contract
}

// DTE returns the integer days-to-expiry relative to asOf's calendar date.
func (e Expiry) DTE(asOf time.Time) int {
	d1 := e.ExpiryDate.UTC().Truncate(24 * time.Hour)
	d0 := asOf.UTC().Truncate(24 * time.Hour)
	return int(d1.Sub(d0).Hours() / 24)
}

// ChainSnapshot is a point-in-time option chain for one ticker.
type ChainSnapshot struct {
	Ticker          string
	AsOf            time.Time
	UnderlyingPrice float64
	Expiries        []Expiry
}

// Signal is an immutable emitted Forward Factor dislocation. It is shared
// across every user subscribed to the ticker — its dedupe key carries no
// user component — and is connected to a user only through Decision.
type Signal struct {
	ID           uuid.UUID                        `gorm:"column:id;primaryKey"`
	Ticker       string                           `gorm:"column:ticker;not null;index"`
	AsOfTS       time.Time                        `gorm:"column:as_of_ts;not null;index"`
	FrontExpiry  time.Time                        `gorm:"column:front_expiry;not null"`
	BackExpiry   time.Time                        `gorm:"column:back_expiry;not null"`
	FrontDTE     int                              `gorm:"column:front_dte;not null"`
	BackDTE      int                              `gorm:"column:back_dte;not null"`
	FrontIV      float64                          `gorm:"column:front_iv;not null"`
	BackIV       float64                          `gorm:"column:back_iv;not null"`
	SigmaFwd     float64                          `gorm:"column:sigma_fwd;not null"`
	FFValue      float64                          `gorm:"column:ff_value;not null;index"`
	VolPoint     VolPoint                         `gorm:"column:vol_point;not null"`
	QualityScore float64                          `gorm:"column:quality_score"`
	ReasonCodes  datatypes.JSONType[[]string]     `gorm:"column:reason_codes"`
	DedupeKey    string                           `gorm:"column:dedupe_key;uniqueIndex;not null"`
	CreatedAt    time.Time                        `gorm:"column:created_at;autoCreateTime"`
}

func (Signal) TableName() string { return "signals" }

// DecisionKind is the closed set of decisions a user can record.
type DecisionKind string

const (
	DecisionPlaced  DecisionKind = "placed"
	DecisionIgnored DecisionKind = "ignored"
)

// Decision records what a user did about a signal. At most one row exists
// per (SignalID, UserID); record_decision upserts it.
type Decision struct {
	ID         uuid.UUID    `gorm:"column:id;primaryKey"`
	SignalID   uuid.UUID    `gorm:"column:signal_id;not null;uniqueIndex:uq_decision_signal_user"`
	UserID     uuid.UUID    `gorm:"column:user_id;not null;uniqueIndex:uq_decision_signal_user"`
	Kind       DecisionKind `gorm:"column:kind;not null"`
	Timestamp  time.Time    `gorm:"column:decision_ts;autoCreateTime"`
	EntryPrice *float64     `gorm:"column:entry_price"`
	ExitPrice  *float64     `gorm:"column:exit_price"`
	PnL        *float64     `gorm:"column:pnl"`
	Notes      string       `gorm:"column:notes"`
}

func (Decision) TableName() string { return "decisions" }

// StabilityState is the cached debounce/cooldown state for one
// (ticker, expiry-pair, user) key. It lives in Redis, never in Postgres.
type StabilityState struct {
	LastFF           float64    `json:"last_ff"`
	ConsecutiveAbove int        `json:"consecutive_above"`
	LastAlertTS      *time.Time `json:"last_alert_ts,omitempty"`
	LastAlertFF      *float64   `json:"last_alert_ff,omitempty"`
}
