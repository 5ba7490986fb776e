// Package router implements the notification router from spec.md §4.6:
// it dequeues (signal_id, user_id) pairs the scan worker pool enqueued,
// re-validates quiet hours and the FF threshold at dispatch time (not
// just at scan time), dispatches through the Messenger with retry, and
// folds the Messenger's callback stream back into recorded decisions.
package router

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
	"github.com/forwardfactor/scanner/internal/messenger"
	"github.com/forwardfactor/scanner/internal/scanner"
	"github.com/forwardfactor/scanner/internal/store"
	"github.com/forwardfactor/scanner/pkg/common"
	"github.com/forwardfactor/scanner/pkg/logger"
	"github.com/forwardfactor/scanner/pkg/utils"
)

// Router dispatches notifications to subscribers and records their
// decisions. Per-user delivery is sequential (spec.md §5 ordering
// guarantee iii); cross-user delivery is parallel, one goroutine per user
// created lazily on first notification.
type Router struct {
	rdb       *redis.Client
	store     *store.Store
	messenger messenger.Messenger
	log       *logger.Logger

	maxSendAttempts int
	blockTimeout    time.Duration
	heartbeat       func()

	mu      sync.Mutex
	perUser map[uuid.UUID]chan scanner.NotificationJob

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Router. maxSendAttempts bounds messenger retry on
// transient failures (spec.md §4.6 step 4).
func New(rdb *redis.Client, st *store.Store, msgr messenger.Messenger, maxSendAttempts int, blockTimeout time.Duration, log *logger.Logger) *Router {
	if maxSendAttempts <= 0 {
		maxSendAttempts = 4
	}
	return &Router{
		rdb: rdb, store: st, messenger: msgr, log: log,
		maxSendAttempts: maxSendAttempts, blockTimeout: blockTimeout,
		perUser: make(map[uuid.UUID]chan scanner.NotificationJob),
		stop:    make(chan struct{}),
	}
}

// SetHeartbeat registers fn to be called after every dequeued notification
// is processed, so a health checker can tell the reader loop is still
// making progress.
func (r *Router) SetHeartbeat(fn func()) {
	r.heartbeat = fn
}

// Start launches the notification-stream reader and the callback-stream
// listener.
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(1)
	utils.GoSafe(func() {
		defer r.wg.Done()
		r.readLoop(ctx)
	})

	r.wg.Add(1)
	utils.GoSafe(func() {
		defer r.wg.Done()
		r.callbackLoop(ctx)
	})
}

// Stop signals both loops and every per-user dispatcher to exit.
func (r *Router) Stop() {
	close(r.stop)
	r.wg.Wait()

	r.mu.Lock()
	for _, ch := range r.perUser {
		close(ch)
	}
	r.mu.Unlock()
}

func (r *Router) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		streams, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    common.RedisStreamRouterGroup,
			Consumer: common.RedisStreamRouterConsumer,
			Streams:  []string{common.RedisStreamNotifications, ">"},
			Count:    1,
			Block:    r.blockTimeout,
		}).Result()
		if err != nil {
			if err == context.Canceled || err == redis.Nil {
				continue
			}
			r.log.Error("router: read notifications", logger.ErrorField(err))
			continue
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			r.log.Error("router: malformed notification payload", logger.StringField("message_id", msg.ID))
			r.ack(ctx, msg.ID)
			continue
		}
		var job scanner.NotificationJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			r.log.Error("router: decode notification", logger.ErrorField(err), logger.StringField("message_id", msg.ID))
			r.ack(ctx, msg.ID)
			continue
		}

		r.dispatch(ctx, job)
		r.ack(ctx, msg.ID)
		if r.heartbeat != nil {
			r.heartbeat()
		}
	}
}

func (r *Router) ack(ctx context.Context, messageID string) {
	if err := r.rdb.XAck(ctx, common.RedisStreamNotifications, common.RedisStreamRouterGroup, messageID).Err(); err != nil {
		r.log.Error("router: ack notification", logger.ErrorField(err), logger.StringField("message_id", messageID))
	}
}

// dispatch hands job to its user's sequential worker, spawning one lazily
// on first use. The send blocks the reader loop only as long as the
// user's channel buffer is full, preserving per-user FIFO ordering
// without serializing unrelated users behind it.
func (r *Router) dispatch(ctx context.Context, job scanner.NotificationJob) {
	r.mu.Lock()
	ch, ok := r.perUser[job.UserID]
	if !ok {
		ch = make(chan scanner.NotificationJob, 64)
		r.perUser[job.UserID] = ch
		r.wg.Add(1)
		utils.GoSafe(func() {
			defer r.wg.Done()
			r.userLoop(ctx, job.UserID, ch)
		})
	}
	r.mu.Unlock()

	select {
	case ch <- job:
	case <-ctx.Done():
	}
}

func (r *Router) userLoop(ctx context.Context, userID uuid.UUID, ch chan scanner.NotificationJob) {
	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return
			}
			r.process(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// process runs the quiet-hours gate, the threshold re-check, and the
// messenger dispatch for a single (signal, user) pair, per spec.md §4.6.
func (r *Router) process(ctx context.Context, job scanner.NotificationJob) {
	sig, err := r.store.SignalByID(ctx, job.SignalID)
	if err != nil {
		r.log.Error("router: load signal", logger.ErrorField(err), logger.StringField("signal_id", job.SignalID.String()))
		return
	}
	policy, err := r.store.PolicyByID(ctx, job.UserID)
	if err != nil {
		r.log.Error("router: load policy", logger.ErrorField(err), logger.StringField("user_id", job.UserID.String()))
		return
	}
	if !policy.Active {
		return
	}

	localNow, err := utils.UserNow(policy.Timezone, time.Now())
	if err != nil {
		r.log.Error("router: resolve user timezone", logger.ErrorField(err), logger.StringField("user_id", job.UserID.String()))
		localNow = time.Now().UTC()
	}

	if ok, reason := shouldDispatch(*sig, *policy, localNow); !ok {
		r.log.Info("router: dropped, "+reason, logger.StringField("signal_id", job.SignalID.String()), logger.StringField("user_id", job.UserID.String()))
		return
	}

	r.send(ctx, *sig, *policy)
}

// shouldDispatch re-checks the quiet-hours and FF-threshold gates at
// dispatch time, since both may have changed since the signal was scanned.
func shouldDispatch(sig domain.Signal, policy domain.UserPolicy, localNow time.Time) (ok bool, reason string) {
	if qh := policy.QuietHours.Data(); qh.Enabled && utils.InQuietHours(qh, localNow) {
		return false, "quiet hours"
	}
	if sig.FFValue < policy.FFThreshold {
		return false, "threshold no longer met"
	}
	return true, ""
}

func (r *Router) send(ctx context.Context, sig domain.Signal, policy domain.UserPolicy) {
	payload := messenger.Payload{
		SignalID: sig.ID.String(),
		Ticker:   sig.Ticker,
		Text:     formatSignal(sig),
	}
	actions := []messenger.Action{messenger.ActionPlace, messenger.ActionIgnore}

	var lastErr error
	for attempt := 1; attempt <= r.maxSendAttempts; attempt++ {
		_, err := r.messenger.Send(ctx, policy.ChatID, payload, actions)
		if err == nil {
			return
		}
		lastErr = err

		kind, _ := errs.KindOf(err)
		if kind == errs.KindMessengerPermanent {
			if markErr := r.store.MarkUserInactive(ctx, policy.UserID); markErr != nil {
				r.log.Error("router: mark user inactive", logger.ErrorField(markErr), logger.StringField("user_id", policy.UserID.String()))
			}
			r.log.Warn("router: dropped, messenger permanently unreachable", logger.StringField("user_id", policy.UserID.String()))
			return
		}
		if !errs.Retryable(kind) {
			r.log.Error("router: send failed, not retryable", logger.ErrorField(err), logger.StringField("user_id", policy.UserID.String()))
			return
		}

		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	r.log.Error("router: send exhausted retries", logger.ErrorField(lastErr), logger.StringField("user_id", policy.UserID.String()))
}

// callbackLoop translates Messenger decision callbacks into recorded
// decisions, per spec.md §4.7.
func (r *Router) callbackLoop(ctx context.Context) {
	callbacks, err := r.messenger.Callbacks(ctx)
	if err != nil {
		r.log.Error("router: subscribe to messenger callbacks", logger.ErrorField(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case cb, ok := <-callbacks:
			if !ok {
				return
			}
			r.recordCallback(ctx, cb)
		}
	}
}

func (r *Router) recordCallback(ctx context.Context, cb messenger.Callback) {
	signalID, err := uuid.Parse(cb.SignalID)
	if err != nil {
		r.log.Error("router: malformed callback signal id", logger.ErrorField(err), logger.StringField("signal_id", cb.SignalID))
		return
	}
	userID, err := r.store.UserIDByChatID(ctx, cb.ChatID)
	if err != nil {
		r.log.Error("router: resolve callback chat id", logger.ErrorField(err), logger.Field("chat_id", cb.ChatID))
		return
	}

	var kind domain.DecisionKind
	switch cb.Action {
	case messenger.ActionPlace:
		kind = domain.DecisionPlaced
	case messenger.ActionIgnore:
		kind = domain.DecisionIgnored
	default:
		r.log.Error("router: unrecognized callback action", logger.StringField("action", string(cb.Action)))
		return
	}

	if _, err := r.store.RecordDecision(ctx, signalID, userID, kind, nil, nil, ""); err != nil {
		r.log.Error("router: record decision", logger.ErrorField(err), logger.StringField("signal_id", cb.SignalID))
	}
}
