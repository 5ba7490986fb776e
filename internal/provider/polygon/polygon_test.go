package polygon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwardfactor/scanner/internal/errs"
	"github.com/forwardfactor/scanner/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("error", "json")
	require.NoError(t, err)
	return l
}

func TestGetChainSnapshot_GroupsContractsByExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/prev"):
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{{"c": 500.0}}})
		case strings.Contains(r.URL.Path, "/snapshot/options/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "OK",
				"results": []map[string]any{
					{
						"details":    map[string]any{"ticker": "O:SPY", "strike_price": 500.0, "expiration_date": "2026-02-01", "contract_type": "call"},
						"greeks":     map[string]any{"implied_volatility": 0.3, "delta": 0.5},
						"last_quote": map[string]any{"bid": 3.0, "ask": 3.1},
						"day":        map[string]any{"volume": 120.0},
						"open_interest": 500.0,
					},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := New("test-key", 600, testLogger(t)).WithBaseURL(srv.URL)
	snap, err := p.GetChainSnapshot(context.Background(), "SPY")
	require.NoError(t, err)

	assert.Equal(t, 500.0, snap.UnderlyingPrice)
	require.Len(t, snap.Expiries, 1)
	require.Len(t, snap.Expiries[0].Contracts, 1)
	assert.Equal(t, 0.3, *snap.Expiries[0].Contracts[0].ImpliedVol)
}

func TestGetChainSnapshot_NonOKStatusIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/prev") {
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{{"c": 500.0}}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ERROR"})
	}))
	defer srv.Close()

	p := New("test-key", 600, testLogger(t)).WithBaseURL(srv.URL)
	_, err := p.GetChainSnapshot(context.Background(), "SPY")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProviderPermanent))
}

func TestGetChainSnapshot_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("test-key", 600, testLogger(t)).WithBaseURL(srv.URL)
	_, err := p.GetChainSnapshot(context.Background(), "SPY")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProviderTransient))
}

func TestGetChainSnapshot_RateLimitedStatusIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/prev") {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}))
	defer srv.Close()

	p := New("test-key", 600, testLogger(t)).WithBaseURL(srv.URL)
	_, err := p.GetChainSnapshot(context.Background(), "SPY")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProviderRateLimited))
}
