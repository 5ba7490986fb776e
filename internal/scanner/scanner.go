// Package scanner implements the scan worker pool from spec.md §4.3: it
// dequeues (ticker, bucket) jobs the scheduler enqueued and runs the
// FETCH → COMPUTE → TRACK → PERSIST → NOTIFY state machine, with an ABORT
// short-circuit on any unrecoverable FETCH failure.
package scanner

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/engine"
	"github.com/forwardfactor/scanner/internal/errs"
	"github.com/forwardfactor/scanner/internal/provider"
	"github.com/forwardfactor/scanner/internal/scheduler"
	"github.com/forwardfactor/scanner/internal/snapshotcache"
	"github.com/forwardfactor/scanner/internal/store"
	"github.com/forwardfactor/scanner/internal/tracker"
	"github.com/forwardfactor/scanner/pkg/common"
	"github.com/forwardfactor/scanner/pkg/logger"
	"github.com/forwardfactor/scanner/pkg/utils"
)

// NotificationJob is the payload enqueued onto the notification stream for
// the router to pick up.
type NotificationJob struct {
	SignalID uuid.UUID `json:"signal_id"`
	UserID   uuid.UUID `json:"user_id"`
}

// Worker is one member of the scan worker pool.
type Worker struct {
	rdb      *redis.Client
	store    *store.Store
	cache    *snapshotcache.Cache
	provider provider.ChainProvider
	tracker  *tracker.Tracker
	cadence  scheduler.Cadence
	log      *logger.Logger

	maxFetchAttempts int
	blockTimeout     time.Duration
	heartbeat        func()

	wg   sync.WaitGroup
	stop chan struct{}
}

// SetHeartbeat registers fn to be called after every dequeued job is
// handled (success or failure), so a health checker can tell the pool is
// still making progress rather than stuck.
func (w *Worker) SetHeartbeat(fn func()) {
	w.heartbeat = fn
}

// New builds a Worker. maxFetchAttempts bounds the exponential backoff
// retries in FETCH (spec.md §4.3 step 1); blockTimeout bounds how long one
// XReadGroup call waits for a message before looping back to check for
// shutdown.
func New(rdb *redis.Client, st *store.Store, cache *snapshotcache.Cache, chainProvider provider.ChainProvider, trk *tracker.Tracker, cadence scheduler.Cadence, maxFetchAttempts int, blockTimeout time.Duration, log *logger.Logger) *Worker {
	if maxFetchAttempts <= 0 {
		maxFetchAttempts = 4
	}
	return &Worker{
		rdb: rdb, store: st, cache: cache, provider: chainProvider, tracker: trk,
		cadence: cadence, log: log, maxFetchAttempts: maxFetchAttempts,
		blockTimeout: blockTimeout, stop: make(chan struct{}),
	}
}

// Start launches concurrency pool-members, each pulling from the
// consumer-group shared scan-job stream until ctx is canceled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		utils.GoSafe(func() {
			defer w.wg.Done()
			w.loop(ctx)
		})
	}
}

// Stop signals every pool member to finish its in-flight job and exit.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    common.RedisStreamScanGroup,
			Consumer: common.RedisStreamScanConsumer,
			Streams:  []string{common.RedisStreamScanJobs, ">"},
			Count:    1,
			Block:    w.blockTimeout,
		}).Result()
		if err != nil {
			if err == context.Canceled || err == redis.Nil {
				continue
			}
			w.log.Error("scanner: read scan jobs", logger.ErrorField(err))
			continue
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	defer func() {
		if err := w.rdb.XAck(ctx, common.RedisStreamScanJobs, common.RedisStreamScanGroup, msg.ID).Err(); err != nil {
			w.log.Error("scanner: ack job", logger.ErrorField(err), logger.StringField("message_id", msg.ID))
		}
		if w.heartbeat != nil {
			w.heartbeat()
		}
	}()

	raw, ok := msg.Values["payload"].(string)
	if !ok {
		w.log.Error("scanner: malformed job payload", logger.StringField("message_id", msg.ID))
		return
	}
	var job scheduler.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error("scanner: decode job", logger.ErrorField(err), logger.StringField("message_id", msg.ID))
		return
	}

	cadence := w.cadence.ForTier(job.Tier)
	jobCtx, cancel := context.WithDeadline(ctx, JobDeadline(job.Bucket, cadence))
	defer cancel()

	w.run(jobCtx, job, cadence)
}

// JobDeadline is bucket_start + cadence, per spec.md §5: a job abandoned
// past this point must not enqueue notifications, since a fresher scan of
// the same ticker may already be in flight.
func JobDeadline(bucket int64, cadence time.Duration) time.Time {
	bucketStart := time.Unix(bucket*int64(cadence.Seconds()), 0).UTC()
	return bucketStart.Add(cadence)
}

// run executes the FETCH -> COMPUTE -> TRACK -> PERSIST -> NOTIFY -> DONE
// state machine for one job.
func (w *Worker) run(ctx context.Context, job scheduler.Job, cadence time.Duration) {
	snapshot, ok := w.fetch(ctx, job, cadence)
	if !ok {
		return
	}

	subs, err := w.store.ActiveSubscriptions(ctx, job.Ticker)
	if err != nil {
		w.log.Error("scanner: list subscriptions", logger.ErrorField(err), logger.StringField("ticker", job.Ticker))
		return
	}
	userIDs := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		userIDs = append(userIDs, sub.UserID)
	}
	policies, err := w.store.PoliciesFor(ctx, userIDs)
	if err != nil {
		w.log.Error("scanner: load policies", logger.ErrorField(err), logger.StringField("ticker", job.Ticker))
		return
	}

	for userID, policy := range policies {
		if !policy.Active {
			continue
		}
		// Per-subscriber work is independent: one subscriber's failure
		// must never block another's (spec.md §4.3 failure semantics).
		w.processSubscriber(ctx, snapshot, userID, policy)
	}

	if err := w.store.TouchTickerScan(ctx, job.Ticker, time.Now().UTC()); err != nil {
		w.log.Error("scanner: touch last-scan timestamp", logger.ErrorField(err), logger.StringField("ticker", job.Ticker))
	}
}

func (w *Worker) fetch(ctx context.Context, job scheduler.Job, cadence time.Duration) (domain.ChainSnapshot, bool) {
	if snap, found, err := w.cache.Get(ctx, job.Ticker, job.Bucket); err == nil && found {
		return snap, true
	} else if err != nil {
		w.log.Warn("scanner: snapshot cache read failed, falling back to provider", logger.ErrorField(err))
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxFetchAttempts; attempt++ {
		snap, err := w.provider.GetChainSnapshot(ctx, job.Ticker)
		if err == nil {
			if putErr := w.cache.Put(ctx, job.Ticker, job.Bucket, snap, cadence); putErr != nil {
				w.log.Warn("scanner: cache snapshot write failed", logger.ErrorField(putErr))
			}
			return snap, true
		}
		lastErr = err

		kind, _ := errs.KindOf(err)
		if !errs.Retryable(kind) {
			w.log.Error("scanner: FETCH aborted, permanent provider error",
				logger.ErrorField(err), logger.StringField("ticker", job.Ticker))
			return domain.ChainSnapshot{}, false
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ChainSnapshot{}, false
		case <-timer.C:
		}
	}

	w.log.Error("scanner: FETCH exhausted retries",
		logger.ErrorField(lastErr), logger.StringField("ticker", job.Ticker), logger.IntField("attempts", w.maxFetchAttempts))
	return domain.ChainSnapshot{}, false
}

func (w *Worker) processSubscriber(ctx context.Context, snapshot domain.ChainSnapshot, userID uuid.UUID, policy domain.UserPolicy) {
	result := engine.Compute(snapshot, policy)

	for _, sig := range result.Signals {
		key := tracker.Key(sig.Ticker, sig.FrontExpiry, sig.BackExpiry, userID)
		shouldAlert, reason, err := w.tracker.Check(ctx, key, sig.FFValue, policy)
		if err != nil {
			w.log.Error("scanner: TRACK failed", logger.ErrorField(err), logger.StringField("ticker", sig.Ticker))
			continue
		}

		// The signal row is shared across every subscriber of this ticker;
		// CreateSignal returns the existing row when another subscriber's
		// scan already persisted the same dedupe key.
		persisted, err := w.store.CreateSignal(ctx, sig)
		if err != nil {
			w.log.Error("scanner: PERSIST failed", logger.ErrorField(err), logger.StringField("ticker", sig.Ticker))
			continue
		}

		if !shouldAlert {
			w.log.Info("scanner: signal suppressed", logger.StringField("ticker", sig.Ticker), logger.StringField("reason", string(reason)))
			continue
		}

		w.notify(ctx, persisted.ID, userID)
	}
}

func (w *Worker) notify(ctx context.Context, signalID, userID uuid.UUID) {
	payload, err := json.Marshal(NotificationJob{SignalID: signalID, UserID: userID})
	if err != nil {
		w.log.Error("scanner: marshal notification", logger.ErrorField(err))
		return
	}
	if err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: common.RedisStreamNotifications,
		Values: map[string]interface{}{"payload": payload},
	}).Err(); err != nil {
		w.log.Error("scanner: NOTIFY enqueue failed", logger.ErrorField(err), logger.StringField("signal_id", signalID.String()))
	}
}
