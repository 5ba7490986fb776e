// Package store is the Postgres repository layer over tickers,
// subscriptions, user policies, signals and decisions. It is the PERSIST
// step of the scan pipeline: the one place a duplicate Forward Factor
// dislocation for the same (ticker, expiry pair, vol point, day) gets
// collapsed to a single row, shared by every subscriber, via a
// database-level unique constraint rather than a check-then-insert race.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
)

// Store is the repository over every durable table the pipeline touches.
type Store struct {
	db *gorm.DB
}

// New builds a Store over an already-connected gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DedupeKey computes the stable identity of a signal: same ticker, same
// expiry pair, same vol point, same calendar day of as-of, always collapse
// to one row regardless of which subscriber's scan produced it. Day
// granularity (not the full timestamp) is deliberate: two scans of the
// same bucket on the same day must not duplicate the row even if as_of
// differs by seconds.
func DedupeKey(sig domain.Signal) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		sig.Ticker,
		sig.FrontExpiry.UTC().Format("2006-01-02"),
		sig.BackExpiry.UTC().Format("2006-01-02"),
		sig.AsOfTS.UTC().Format("2006-01-02"),
		string(sig.VolPoint),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// uniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal the database itself is the source of truth
// for deduplication rather than a prior SELECT.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// CreateSignal inserts sig, stamping ID and DedupeKey, and returns the row
// that now exists under that dedupe key. On a unique-constraint violation
// it re-reads and returns the row a concurrent scan (for this ticker, or
// for another subscriber's scan of the same ticker) already wrote, since a
// collapsed duplicate is the expected steady-state outcome of concurrent
// scans, not a failure — callers still need the shared signal's ID to
// evaluate their own subscriber's notify decision against it.
func (s *Store) CreateSignal(ctx context.Context, sig domain.Signal) (*domain.Signal, error) {
	sig.ID = uuid.New()
	sig.DedupeKey = DedupeKey(sig)

	err := s.db.WithContext(ctx).Create(&sig).Error
	if uniqueViolation(err) {
		var existing domain.Signal
		if err := s.db.WithContext(ctx).Where("dedupe_key = ?", sig.DedupeKey).First(&existing).Error; err != nil {
			return nil, errs.Wrap(errs.KindStoreUnavailable, "load existing signal", err)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "create signal", err)
	}
	return &sig, nil
}

// RecordDecision upserts a user's decision about a signal. At most one
// decision exists per (signal_id, user_id); a later call overwrites the
// kind and fields of an earlier one rather than appending a history row.
func (s *Store) RecordDecision(ctx context.Context, signalID, userID uuid.UUID, kind domain.DecisionKind, entryPrice, exitPrice *float64, notes string) (*domain.Decision, error) {
	if kind != domain.DecisionPlaced && kind != domain.DecisionIgnored {
		return nil, errs.New(errs.KindStoreUnavailable, fmt.Sprintf("record decision: unknown kind %q", kind))
	}

	dec := domain.Decision{
		ID:         uuid.New(),
		SignalID:   signalID,
		UserID:     userID,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Notes:      notes,
	}
	var pnl *float64
	if entryPrice != nil && exitPrice != nil {
		v := *exitPrice - *entryPrice
		pnl = &v
	}
	dec.PnL = pnl

	err := s.db.WithContext(ctx).
		Clauses(onConflictUpdateDecision()).
		Create(&dec).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "record decision", err)
	}
	return &dec, nil
}

// RecentSignals lists the most recent signals for tickers userID
// subscribes to, optionally narrowed to one ticker, newest first. A
// signal is not owned by a user, so scope comes from the subscriptions
// table rather than a column on the signal row.
func (s *Store) RecentSignals(ctx context.Context, userID uuid.UUID, ticker *string, limit int) ([]domain.Signal, error) {
	subscribedTickers := s.db.Model(&domain.Subscription{}).
		Select("ticker").
		Where("user_id = ? AND active = ?", userID, true)

	q := s.db.WithContext(ctx).
		Where("ticker IN (?)", subscribedTickers).
		Order("created_at DESC").
		Limit(limit)
	if ticker != nil {
		q = q.Where("ticker = ?", *ticker)
	}
	var rows []domain.Signal
	if err := q.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "recent signals", err)
	}
	return rows, nil
}

// HistoryEntry pairs a signal with whatever decision the user recorded
// against it, if any.
type HistoryEntry struct {
	Signal   domain.Signal
	Decision *domain.Decision
}

// History returns newest-first signals for tickers userID subscribes to,
// each joined to the decision userID recorded against it, if any.
func (s *Store) History(ctx context.Context, userID uuid.UUID, limit int) ([]HistoryEntry, error) {
	subscribedTickers := s.db.Model(&domain.Subscription{}).
		Select("ticker").
		Where("user_id = ? AND active = ?", userID, true)

	var signals []domain.Signal
	if err := s.db.WithContext(ctx).
		Where("ticker IN (?)", subscribedTickers).
		Order("created_at DESC").
		Limit(limit).
		Find(&signals).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "history signals", err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(signals))
	for i, sig := range signals {
		ids[i] = sig.ID
	}
	var decisions []domain.Decision
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND signal_id IN ?", userID, ids).
		Find(&decisions).Error; err != nil {
		return nil, errs.Wrap(errs.KindStoreUnavailable, "history decisions", err)
	}
	bySignal := make(map[uuid.UUID]*domain.Decision, len(decisions))
	for i := range decisions {
		d := decisions[i]
		bySignal[d.SignalID] = &d
	}

	entries := make([]HistoryEntry, len(signals))
	for i, sig := range signals {
		entries[i] = HistoryEntry{Signal: sig, Decision: bySignal[sig.ID]}
	}
	return entries, nil
}
