// Package polygon implements the Chain Provider capability against
// Polygon.io's options snapshot API.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
	"github.com/forwardfactor/scanner/internal/ratelimit"
	"github.com/forwardfactor/scanner/pkg/logger"
)

const baseURL = "https://api.polygon.io"

var apiKeyPattern = regexp.MustCompile(`apiKey=[^&]+`)

func redactAPIKey(url string) string {
	return apiKeyPattern.ReplaceAllString(url, "apiKey=REDACTED")
}

// Provider fetches option chain snapshots from Polygon.io.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	log        *logger.Logger
}

// New builds a Provider rate-limited to requestsPerMinute calls.
func New(apiKey string, requestsPerMinute int, log *logger.Logger) *Provider {
	return &Provider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.New(requestsPerMinute),
		log:        log,
	}
}

// WithBaseURL overrides the Polygon API base URL, for pointing a test
// Provider at an httptest server instead of the live API.
func (p *Provider) WithBaseURL(url string) *Provider {
	p.baseURL = url
	return p
}

type snapshotResponse struct {
	Status  string           `json:"status"`
	Results []snapshotResult `json:"results"`
}

type snapshotResult struct {
	Details struct {
		Ticker         string  `json:"ticker"`
		StrikePrice    float64 `json:"strike_price"`
		ExpirationDate string  `json:"expiration_date"`
		ContractType   string  `json:"contract_type"`
	} `json:"details"`
	Greeks struct {
		ImpliedVolatility float64 `json:"implied_volatility"`
		Delta             float64 `json:"delta"`
	} `json:"greeks"`
	LastQuote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
	Day struct {
		Volume float64 `json:"volume"`
	} `json:"day"`
	OpenInterest float64 `json:"open_interest"`
}

type prevCloseResponse struct {
	Results []struct {
		Close float64 `json:"c"`
	} `json:"results"`
}

// GetChainSnapshot fetches the underlying's previous close and its full
// options chain, then groups contracts by expiry.
func (p *Provider) GetChainSnapshot(ctx context.Context, ticker string) (domain.ChainSnapshot, error) {
	underlying, err := p.underlyingPrice(ctx, ticker)
	if err != nil {
		return domain.ChainSnapshot{}, err
	}

	url := fmt.Sprintf("%s/v3/snapshot/options/%s?apiKey=%s", p.baseURL, ticker, p.apiKey)
	var body snapshotResponse
	if err := p.getJSON(ctx, url, &body); err != nil {
		return domain.ChainSnapshot{}, err
	}
	if body.Status != "OK" {
		return domain.ChainSnapshot{}, errs.New(errs.KindProviderPermanent, fmt.Sprintf("polygon: unexpected status %q", body.Status))
	}

	byExpiry := make(map[string][]domain.Contract)
	for _, r := range body.Results {
		if r.Details.ExpirationDate == "" {
			continue
		}
		right := domain.RightPut
		if r.Details.ContractType == "call" {
			right = domain.RightCall
		}
		c := domain.Contract{
			Strike:       r.Details.StrikePrice,
			Right:        right,
			Volume:       int(r.Day.Volume),
			OpenInterest: int(r.OpenInterest),
		}
		if r.LastQuote.Bid > 0 {
			v := r.LastQuote.Bid
			c.Bid = &v
		}
		if r.LastQuote.Ask > 0 {
			v := r.LastQuote.Ask
			c.Ask = &v
		}
		if r.Greeks.ImpliedVolatility > 0 {
			v := r.Greeks.ImpliedVolatility
			c.ImpliedVol = &v
		}
		if r.Greeks.Delta != 0 {
			v := r.Greeks.Delta
			c.Delta = &v
		}
		byExpiry[r.Details.ExpirationDate] = append(byExpiry[r.Details.ExpirationDate], c)
	}

	expiries := make([]domain.Expiry, 0, len(byExpiry))
	for dateStr, contracts := range byExpiry {
		t, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		expiries = append(expiries, domain.Expiry{ExpiryDate: t, Contracts: contracts})
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].ExpiryDate.Before(expiries[j].ExpiryDate) })

	return domain.ChainSnapshot{
		Ticker:          ticker,
		AsOf:            time.Now().UTC(),
		UnderlyingPrice: underlying,
		Expiries:        expiries,
	}, nil
}

func (p *Provider) underlyingPrice(ctx context.Context, ticker string) (float64, error) {
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?apiKey=%s", p.baseURL, ticker, p.apiKey)
	var body prevCloseResponse
	if err := p.getJSON(ctx, url, &body); err != nil {
		return 0, err
	}
	if len(body.Results) == 0 {
		return 0, errs.New(errs.KindProviderPermanent, fmt.Sprintf("polygon: no price data for %s", ticker))
	}
	return body.Results[0].Close, nil
}

func (p *Provider) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.KindProviderTransient, "polygon: rate limiter wait", err)
	}
	p.log.DebugContext(ctx, "polygon: request", logger.StringField("url", redactAPIKey(url)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.KindProviderPermanent, "polygon: build request", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindProviderTransient, "polygon: request failed", err)
	}
	defer resp.Body.Close()

	p.limiter.ApplyRetryAfter(resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.New(errs.KindProviderRateLimited, "polygon: rate limited")
	}
	if resp.StatusCode >= 500 {
		return errs.New(errs.KindProviderTransient, fmt.Sprintf("polygon: server error %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errs.New(errs.KindProviderPermanent, fmt.Sprintf("polygon: client error %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindProviderTransient, "polygon: read response", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.KindProviderPermanent, "polygon: decode response", err)
	}
	return nil
}
