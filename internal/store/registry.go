package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
)

// ActiveTickers returns every ticker with at least one active subscriber or
// a discovery reference, the set the scheduler tiers and polls.
func (s *Store) ActiveTickers(ctx context.Context) ([]domain.Ticker, error) {
	var rows []domain.Ticker
	if err := s.db.WithContext(ctx).
		Where("active_subscriber_count > 0 OR discovery_referenced").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "active tickers", err)
	}
	return rows, nil
}

// UpsertTicker inserts t or, if it already exists, refreshes its tier and
// subscriber count without disturbing created_at.
func (s *Store) UpsertTicker(ctx context.Context, t domain.Ticker) error {
	err := s.db.WithContext(ctx).
		Clauses(onConflictUpdateTicker()).
		Create(&t).Error
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "upsert ticker", err)
	}
	return nil
}

// TouchTickerScan stamps last_scan_at for ticker after a completed bucket.
func (s *Store) TouchTickerScan(ctx context.Context, ticker string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&domain.Ticker{}).
		Where("symbol = ?", ticker).
		Update("last_scan_at", at).Error
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "touch ticker scan", err)
	}
	return nil
}

// ActiveSubscriptions returns every active subscriber of ticker.
func (s *Store) ActiveSubscriptions(ctx context.Context, ticker string) ([]domain.Subscription, error) {
	var rows []domain.Subscription
	if err := s.db.WithContext(ctx).
		Where("ticker = ? AND active", ticker).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "active subscriptions", err)
	}
	return rows, nil
}

// PoliciesFor batch-loads policies for userIDs in one round trip, so the
// scan worker never issues one SELECT per subscriber.
func (s *Store) PoliciesFor(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.UserPolicy, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]domain.UserPolicy{}, nil
	}
	var rows []domain.UserPolicy
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "policies for", err)
	}
	out := make(map[uuid.UUID]domain.UserPolicy, len(rows))
	for _, p := range rows {
		out[p.UserID] = p
	}
	return out, nil
}

// PolicyByID loads a single user's policy, for the router's per-notification
// reads where batching doesn't apply.
func (s *Store) PolicyByID(ctx context.Context, userID uuid.UUID) (*domain.UserPolicy, error) {
	var row domain.UserPolicy
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "policy by id", err)
	}
	return &row, nil
}

// UserIDByChatID reverse-looks-up the subscriber a messenger callback's
// chat ID belongs to, since spec.md's Callback only carries the chat
// address, not the user ID record_decision needs.
func (s *Store) UserIDByChatID(ctx context.Context, chatID int64) (uuid.UUID, error) {
	var row domain.UserPolicy
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&row).Error; err != nil {
		return uuid.Nil, errs.Wrap(errs.KindStoreUnavailable, "user id by chat id", err)
	}
	return row.UserID, nil
}

// SignalByID loads a single signal row, for the router's load-before-dispatch
// step (§4.6 step 1).
func (s *Store) SignalByID(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	var row domain.Signal
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "signal by id", err)
	}
	return &row, nil
}

// MarkUserInactive flips a policy's active flag off. The router calls this
// when the messenger reports a permanent delivery failure (recipient
// unreachable) so future dispatch attempts skip this user rather than
// retrying forever.
func (s *Store) MarkUserInactive(ctx context.Context, userID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Model(&domain.UserPolicy{}).
		Where("user_id = ?", userID).
		Update("active", false).Error
	if err != nil {
		return errs.Wrap(errs.KindStoreUnavailable, "mark user inactive", err)
	}
	return nil
}
