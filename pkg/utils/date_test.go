package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwardfactor/scanner/internal/domain"
)

func TestUserNow_ConvertsToNamedZone(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	local, err := UserNow("America/Vancouver", now)
	require.NoError(t, err)
	assert.Equal(t, "America/Vancouver", local.Location().String())
}

func TestUserNow_UnknownZoneErrors(t *testing.T) {
	_, err := UserNow("Not/AZone", time.Now())
	require.Error(t, err)
}

func TestInQuietHours_Disabled(t *testing.T) {
	qh := domain.QuietHours{Enabled: false, Start: "22:00", End: "08:00"}
	assert.False(t, InQuietHours(qh, time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_OvernightWindow(t *testing.T) {
	qh := domain.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}
	assert.True(t, InQuietHours(qh, time.Date(2026, 1, 2, 23, 30, 0, 0, time.UTC)))
	assert.True(t, InQuietHours(qh, time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(qh, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_DaytimeWindow(t *testing.T) {
	qh := domain.QuietHours{Enabled: true, Start: "09:00", End: "17:00"}
	assert.True(t, InQuietHours(qh, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(qh, time.Date(2026, 1, 2, 20, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_MalformedClockNeverSuppresses(t *testing.T) {
	qh := domain.QuietHours{Enabled: true, Start: "garbage", End: "08:00"}
	assert.False(t, InQuietHours(qh, time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)))
}
