package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
	"github.com/forwardfactor/scanner/internal/messenger/fake"
	"github.com/forwardfactor/scanner/pkg/logger"
)

func mustLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("error", "json")
	require.NoError(t, err)
	return l
}

func testPolicy(threshold float64, qh domain.QuietHours) domain.UserPolicy {
	return domain.UserPolicy{
		UserID:      uuid.New(),
		FFThreshold: threshold,
		QuietHours:  datatypes.NewJSONType(qh),
		Timezone:    "UTC",
		ChatID:      42,
		Active:      true,
	}
}

func TestShouldDispatch_QuietHoursSuppresses(t *testing.T) {
	policy := testPolicy(0.1, domain.QuietHours{Enabled: true, Start: "22:00", End: "08:00"})
	sig := domain.Signal{FFValue: 0.5}

	ok, reason := shouldDispatch(sig, policy, time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC))

	require.False(t, ok)
	require.Equal(t, "quiet hours", reason)
}

func TestShouldDispatch_BelowThresholdSuppresses(t *testing.T) {
	policy := testPolicy(0.3, domain.QuietHours{Enabled: false})
	sig := domain.Signal{FFValue: 0.1}

	ok, reason := shouldDispatch(sig, policy, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))

	require.False(t, ok)
	require.Equal(t, "threshold no longer met", reason)
}

func TestShouldDispatch_PassesWhenOutsideQuietHoursAndAboveThreshold(t *testing.T) {
	policy := testPolicy(0.1, domain.QuietHours{Enabled: true, Start: "22:00", End: "08:00"})
	sig := domain.Signal{FFValue: 0.5}

	ok, reason := shouldDispatch(sig, policy, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))

	require.True(t, ok)
	require.Empty(t, reason)
}

func TestSend_DeliversOnFirstAttempt(t *testing.T) {
	msgr := fake.New()
	r := &Router{messenger: msgr, log: mustLogger(t), maxSendAttempts: 3}
	policy := testPolicy(0.1, domain.QuietHours{})
	sig := domain.Signal{ID: uuid.New(), Ticker: "SPY", FFValue: 0.4}

	r.send(context.Background(), sig, policy)

	sent := msgr.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, policy.ChatID, sent[0].ChatID)
	require.Equal(t, sig.ID.String(), sent[0].Payload.SignalID)
}

func TestSend_GivesUpAfterExhaustingRetries(t *testing.T) {
	msgr := fake.New()
	msgr.FailAllSends(errs.New(errs.KindMessengerTransient, "boom"))
	r := &Router{messenger: msgr, log: mustLogger(t), maxSendAttempts: 2}
	policy := testPolicy(0.1, domain.QuietHours{})
	sig := domain.Signal{ID: uuid.New(), Ticker: "SPY", FFValue: 0.4}

	r.send(context.Background(), sig, policy)

	require.Len(t, msgr.Sent(), 2)
}

func TestSend_StopsImmediatelyOnContextCancel(t *testing.T) {
	msgr := fake.New()
	msgr.FailAllSends(errs.New(errs.KindMessengerTransient, "boom"))
	r := &Router{messenger: msgr, log: mustLogger(t), maxSendAttempts: 5}
	policy := testPolicy(0.1, domain.QuietHours{})
	sig := domain.Signal{ID: uuid.New(), Ticker: "SPY", FFValue: 0.4}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.send(ctx, sig, policy)

	require.LessOrEqual(t, len(msgr.Sent()), 1)
}

func TestFormatSignal_IncludesTickerAndFFValue(t *testing.T) {
	sig := domain.Signal{
		Ticker: "SPY", FFValue: 1.234,
		FrontExpiry: time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC),
		BackExpiry:  time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC),
	}
	text := formatSignal(sig)
	require.Contains(t, text, "SPY")
	require.Contains(t, text, "1.234")
}
