// Package replay is a fixture-driven Chain Provider: it serves canned
// ChainSnapshots (or errors) instead of calling a live vendor, for tests
// that exercise the scheduler/scanner without a network dependency.
package replay

import (
	"context"
	"sync"

	"github.com/forwardfactor/scanner/internal/domain"
	"github.com/forwardfactor/scanner/internal/errs"
)

// Provider serves pre-loaded snapshots keyed by ticker.
type Provider struct {
	mu        sync.Mutex
	snapshots map[string]domain.ChainSnapshot
	errs      map[string]error
	calls     map[string]int
}

// New builds an empty Provider; use Seed/SeedError to load fixtures.
func New() *Provider {
	return &Provider{
		snapshots: make(map[string]domain.ChainSnapshot),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Seed registers the snapshot to return for ticker.
func (p *Provider) Seed(ticker string, snap domain.ChainSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[ticker] = snap
}

// SeedError registers the error to return for ticker instead of a snapshot.
func (p *Provider) SeedError(ticker string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[ticker] = err
}

// Calls reports how many times GetChainSnapshot was called for ticker.
func (p *Provider) Calls(ticker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ticker]
}

// GetChainSnapshot returns the seeded snapshot or error for ticker, or a
// permanent not-found error if neither was seeded.
func (p *Provider) GetChainSnapshot(ctx context.Context, ticker string) (domain.ChainSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ticker]++

	if err, ok := p.errs[ticker]; ok {
		return domain.ChainSnapshot{}, err
	}
	if snap, ok := p.snapshots[ticker]; ok {
		return snap, nil
	}
	return domain.ChainSnapshot{}, errs.New(errs.KindProviderPermanent, "replay: no fixture seeded for "+ticker)
}
