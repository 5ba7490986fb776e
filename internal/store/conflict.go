package store

import "gorm.io/gorm/clause"

// onConflictUpdateDecision builds the ON CONFLICT clause for
// decisions(signal_id, user_id): a later decision overwrites kind,
// timestamp and pricing on the existing row instead of erroring.
func onConflictUpdateDecision() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "signal_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "decision_ts", "entry_price", "exit_price", "pnl", "notes",
		}),
	}
}

// onConflictUpdateTicker lets the scheduler's tiering pass write a ticker's
// tier/subscriber-count idempotently: re-running it never errors, and
// created_at is left untouched because it's excluded from DoUpdates.
func onConflictUpdateTicker() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"active_subscriber_count", "tier", "discovery_referenced", "updated_at",
		}),
	}
}
