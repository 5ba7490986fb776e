package snapshotcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucket_FloorsToWholeCadenceWindows(t *testing.T) {
	cadence := 3 * time.Minute
	t0 := time.Unix(0, 0)

	require.Equal(t, int64(0), Bucket(t0, cadence))
	require.Equal(t, int64(0), Bucket(t0.Add(179*time.Second), cadence))
	require.Equal(t, int64(1), Bucket(t0.Add(180*time.Second), cadence))
}

func TestBucket_DifferentCadencesPartitionIndependently(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	require.NotEqual(t, Bucket(now, 3*time.Minute), Bucket(now, 15*time.Minute))
}
