// Package common holds Redis key/stream names shared by the scheduler,
// scan worker pool and notification router, so the three binaries never
// drift on a hand-typed string.
package common

const (
	// RedisStreamScanJobs carries one entry per (ticker, bucket) the
	// scheduler enqueues for a scan worker to FETCH/COMPUTE/TRACK/PERSIST.
	RedisStreamScanJobs = "ff.scan.jobs"
	// RedisStreamNotifications carries one entry per signal a scan worker
	// handed to the notification router for quiet-hours gating and dispatch.
	RedisStreamNotifications = "ff.notifications"

	RedisStreamScanGroup    = "ff-scanner-group"
	RedisStreamScanConsumer = "ff-scanner-consumer"

	RedisStreamRouterGroup    = "ff-router-group"
	RedisStreamRouterConsumer = "ff-router-consumer"

	// RedisKeyBucketLockPrefix prefixes the SETNX dedup key the scheduler uses to stop
	// two instances from enqueueing the same (ticker, bucket) twice.
	RedisKeyBucketLockPrefix = "ff.bucket-lock|"
)
