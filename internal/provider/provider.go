// Package provider defines the Chain Provider capability: fetching a
// point-in-time option chain snapshot for a ticker. internal/provider/polygon
// is the live implementation; internal/provider/replay is a fixture-driven
// stand-in for tests.
package provider

import (
	"context"

	"github.com/forwardfactor/scanner/internal/domain"
)

// ChainProvider fetches the current option chain for ticker. Implementations
// translate vendor-specific failures into *errs.Error with KindProviderTransient,
// KindProviderPermanent or KindProviderRateLimited so callers can decide
// whether to retry.
type ChainProvider interface {
	GetChainSnapshot(ctx context.Context, ticker string) (domain.ChainSnapshot, error)
}
