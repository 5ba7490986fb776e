// Package scheduler implements the tiered scan scheduler from spec.md
// §4.2: on each tick it recomputes every ticker's tier, then enqueues one
// scan job per (ticker, scan_bucket) onto the job queue, deduplicating
// across scheduler instances with a short-lived Redis key and applying
// backpressure by skipping (never stacking) a bucket when the worker pool
// looks saturated.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/snapshotcache"
	"github.com/forwardfactor/scanner/internal/store"
	"github.com/forwardfactor/scanner/pkg/common"
	"github.com/forwardfactor/scanner/pkg/logger"
	"github.com/forwardfactor/scanner/pkg/utils"
)

// Cadence configures the scan interval for each tier.
type Cadence struct {
	High   time.Duration
	Medium time.Duration
	Low    time.Duration
}

// DefaultCadence matches the defaults named in spec.md §4.2.
var DefaultCadence = Cadence{High: 3 * time.Minute, Medium: 15 * time.Minute, Low: 60 * time.Minute}

func (c Cadence) ForTier(t domain.Tier) time.Duration {
	switch t {
	case domain.TierHigh:
		return c.High
	case domain.TierMedium:
		return c.Medium
	default:
		return c.Low
	}
}

// Job is the payload enqueued onto the scan-job stream.
type Job struct {
	Ticker string    `json:"ticker"`
	Tier   domain.Tier `json:"tier"`
	Bucket int64     `json:"bucket"`
}

// Scheduler ticks over the ticker registry and fans scan jobs out. The
// scheduler and the scan worker pool are separate processes (separate
// binaries, per spec.md §5's "parallel workers" model), so "is the pool
// saturated" can't be a direct in-process gauge; it's approximated by the
// scan-job stream's current depth, which both sides observe through Redis.
type Scheduler struct {
	store         *store.Store
	rdb           *redis.Client
	snaps         *snapshotcache.Cache
	cadence       Cadence
	maxQueueDepth int64
	log           *logger.Logger

	tickInterval time.Duration
	heartbeat    func()

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Scheduler. maxQueueDepth <= 0 disables backpressure (used
// by tests and deployments small enough that saturation isn't a concern).
func New(st *store.Store, rdb *redis.Client, snaps *snapshotcache.Cache, cadence Cadence, maxQueueDepth int64, log *logger.Logger, tickInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:         st,
		rdb:           rdb,
		snaps:         snaps,
		cadence:       cadence,
		maxQueueDepth: maxQueueDepth,
		log:           log,
		tickInterval:  tickInterval,
		stop:          make(chan struct{}),
	}
}

// SetHeartbeat registers fn to be called after every Tick completes, so a
// health checker can tell the loop is still making progress.
func (s *Scheduler) SetHeartbeat(fn func()) {
	s.heartbeat = fn
}

// Start runs Tick on tickInterval until ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	utils.GoSafe(func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping on context cancellation")
				return
			case <-s.stop:
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.Tick(ctx)
				if s.heartbeat != nil {
					s.heartbeat()
				}
			}
		}
	})
}

// Stop signals Start's loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Tick recomputes every active ticker's tier and enqueues at most one scan
// job per (ticker, bucket), per spec.md §4.2 and §9 "Tiering recomputation".
func (s *Scheduler) Tick(ctx context.Context) {
	tickers, err := s.store.ActiveTickers(ctx)
	if err != nil {
		s.log.Error("scheduler: list active tickers", logger.ErrorField(err))
		return
	}

	now := time.Now().UTC()
	for _, t := range tickers {
		s.processTicker(ctx, t, now)
	}
}

func (s *Scheduler) processTicker(ctx context.Context, t domain.Ticker, now time.Time) {
	subs, err := s.store.ActiveSubscriptions(ctx, t.Symbol)
	if err != nil {
		s.log.Error("scheduler: list subscriptions", logger.ErrorField(err), logger.StringField("ticker", t.Symbol))
		return
	}

	ids := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.UserID)
	}
	policiesByUser, err := s.store.PoliciesFor(ctx, ids)
	if err != nil {
		s.log.Error("scheduler: load policies", logger.ErrorField(err), logger.StringField("ticker", t.Symbol))
		return
	}
	policies := make([]domain.UserPolicy, 0, len(policiesByUser))
	for _, p := range policiesByUser {
		if p.Active {
			policies = append(policies, p)
		}
	}

	tier := TierOf(ctx, s.snaps, t.Symbol, t.ActiveSubscriberCount, t.DiscoveryReferenced, policies)
	if tier != t.Tier {
		t.Tier = tier
		if err := s.store.UpsertTicker(ctx, t); err != nil {
			s.log.Error("scheduler: persist tier change", logger.ErrorField(err), logger.StringField("ticker", t.Symbol))
		}
	}

	cadence := s.cadence.ForTier(tier)
	bucket := snapshotcache.Bucket(now, cadence)

	if s.saturated(ctx) {
		s.log.Warn("scheduler: dropping scan, worker pool saturated",
			logger.StringField("ticker", t.Symbol), logger.Field("bucket", bucket))
		return
	}

	s.enqueue(ctx, t.Symbol, tier, bucket, cadence)
}

func (s *Scheduler) saturated(ctx context.Context) bool {
	if s.maxQueueDepth <= 0 {
		return false
	}
	depth, err := s.rdb.XLen(ctx, common.RedisStreamScanJobs).Result()
	if err != nil {
		s.log.Error("scheduler: check queue depth", logger.ErrorField(err))
		return false
	}
	return depth >= s.maxQueueDepth
}

// enqueue dedups (ticker, bucket) with a short-lived SETNX key, per
// spec.md §9 "Scan-bucket dedup": the key's TTL equals the cadence so it
// resets on bucket rollover rather than on job success.
func (s *Scheduler) enqueue(ctx context.Context, ticker string, tier domain.Tier, bucket int64, cadence time.Duration) {
	lockKey := fmt.Sprintf("%s%s|%d", common.RedisKeyBucketLockPrefix, ticker, bucket)
	acquired, err := s.rdb.SetNX(ctx, lockKey, 1, cadence).Result()
	if err != nil {
		s.log.Error("scheduler: bucket dedup lock", logger.ErrorField(err), logger.StringField("ticker", ticker))
		return
	}
	if !acquired {
		return
	}

	job := Job{Ticker: ticker, Tier: tier, Bucket: bucket}
	payload, err := json.Marshal(job)
	if err != nil {
		s.log.Error("scheduler: marshal job", logger.ErrorField(err), logger.StringField("ticker", ticker))
		return
	}

	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: common.RedisStreamScanJobs,
		Values: map[string]interface{}{"payload": payload},
		MaxLen: s.maxQueueDepth,
		Approx: true,
	}).Err(); err != nil {
		s.log.Error("scheduler: enqueue job", logger.ErrorField(err), logger.StringField("ticker", ticker))
		return
	}

	s.log.Info("scheduler: enqueued scan", logger.StringField("ticker", ticker), logger.Field("tier", tier), logger.Field("bucket", bucket))
}
