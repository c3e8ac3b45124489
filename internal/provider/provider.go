// Package provider defines the adapter contract that every external
// prediction-market source implements, and a registry keyed by provider
// name. Adapters do plain HTTP and normalization only; rate limiting,
// circuit breaking, and retries are layered on by callers through
// resilience.Caller.
package provider

import (
	"context"
	"net/http"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// HeaderObserver receives the response headers of every completed provider
// call. The rate governor uses it to adapt budgets from provider quota
// headers.
type HeaderObserver func(h http.Header)

// Adapter is the uniform surface over one external provider API.
type Adapter interface {
	// Name returns the provider this adapter serves.
	Name() domain.Provider

	// ListActive returns one page of active markets, already normalized to
	// canonical form, plus the token for the next page ("" when exhausted).
	// An empty pageToken requests the first page.
	ListActive(ctx context.Context, pageToken string) ([]domain.Market, string, error)

	// GetOne fetches and normalizes a single market by its provider-native
	// ID. It returns domain.ErrNotFound when the provider has no such
	// market.
	GetOne(ctx context.Context, nativeID string) (domain.Market, error)

	// GetOutcome reports whether the market has a definitive resolution and
	// which side won. resolved is false while the provider has not settled.
	GetOutcome(ctx context.Context, nativeID string) (outcome domain.Outcome, resolved bool, err error)

	// GetTrades returns the recent trade tape for the market in canonical
	// units.
	GetTrades(ctx context.Context, nativeID string) ([]domain.Trade, error)
}

// Set is a registry of adapters keyed by provider name.
type Set map[domain.Provider]Adapter

// NewSet builds a Set from the given adapters.
func NewSet(adapters ...Adapter) Set {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		s[a.Name()] = a
	}
	return s
}

// For returns the adapter for p, or nil when the provider is unknown.
func (s Set) For(p domain.Provider) Adapter {
	return s[p]
}
