// Package health reports whether a binary's dependencies are reachable and
// whether its worker loops are still making progress, for the liveness/
// readiness endpoint every service exposes.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Status is the JSON body the health endpoint returns.
type Status struct {
	OK        bool              `json:"ok"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker pings the database and Redis on demand, and tracks the last
// time each named worker loop reported progress.
type Checker struct {
	db  *gorm.DB
	rdb *redis.Client

	heartbeatTimeout time.Duration

	mu         sync.Mutex
	heartbeats map[string]time.Time
}

// New builds a Checker over an already-connected database and Redis client.
// A worker is considered stalled once more than heartbeatTimeout has passed
// since its last Heartbeat call; a worker that has never called Heartbeat is
// not checked.
func New(db *gorm.DB, rdb *redis.Client, heartbeatTimeout time.Duration) *Checker {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = time.Minute
	}
	return &Checker{db: db, rdb: rdb, heartbeatTimeout: heartbeatTimeout, heartbeats: make(map[string]time.Time)}
}

// Heartbeat records that the named worker loop just completed a unit of
// work. Scan worker goroutines call this after every processed job.
func (c *Checker) Heartbeat(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats[name] = time.Now()
}

// Check pings every dependency with a bounded timeout, checks every
// registered heartbeat against its deadline, and reports the combined
// result.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := make(map[string]string, 2+len(c.heartbeats))
	ok := true

	if sqlDB, err := c.db.DB(); err != nil {
		checks["database"] = err.Error()
		ok = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		ok = false
	} else {
		checks["database"] = "ok"
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		ok = false
	} else {
		checks["redis"] = "ok"
	}

	c.mu.Lock()
	now := time.Now()
	for name, last := range c.heartbeats {
		if age := now.Sub(last); age > c.heartbeatTimeout {
			checks["worker:"+name] = fmt.Sprintf("stalled, last seen %s ago", age.Round(time.Second))
			ok = false
		} else {
			checks["worker:"+name] = "ok"
		}
	}
	c.mu.Unlock()

	return Status{OK: ok, Checks: checks, CheckedAt: now.UTC()}
}

// Healthy is the narrow boolean form of Check, for callers that only need a
// pass/fail signal.
func (c *Checker) Healthy(ctx context.Context) error {
	status := c.Check(ctx)
	if status.OK {
		return nil
	}
	return fmt.Errorf("health: unhealthy: %+v", status.Checks)
}
