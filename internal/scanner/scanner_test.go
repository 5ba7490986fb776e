package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobDeadline_IsBucketStartPlusCadence(t *testing.T) {
	cadence := 3 * time.Minute
	bucket := int64(100)

	deadline := JobDeadline(bucket, cadence)

	wantStart := time.Unix(bucket*int64(cadence.Seconds()), 0).UTC()
	require.Equal(t, wantStart.Add(cadence), deadline)
}

func TestJobDeadline_LaterBucketIsLaterDeadline(t *testing.T) {
	cadence := 15 * time.Minute
	require.True(t, JobDeadline(5, cadence).Before(JobDeadline(6, cadence)))
}
