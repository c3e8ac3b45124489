package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies one of the external prediction-market data sources.
type Provider string

const (
	ProviderPolymarket Provider = "polymarket"
	ProviderKalshi     Provider = "kalshi"
	ProviderManifold   Provider = "manifold"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderPolymarket, ProviderKalshi, ProviderManifold}
}

// MarketStatus represents the lifecycle state of a canonical market.
// Transitions are monotonic: Unopened -> Active -> Closed -> Resolved.
type MarketStatus string

const (
	MarketStatusUnopened MarketStatus = "unopened"
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// statusRank orders statuses along the lifecycle so the reconciler can
// refuse backward transitions while always accepting a later status.
var statusRank = map[MarketStatus]int{
	MarketStatusUnopened: 0,
	MarketStatusActive:   1,
	MarketStatusClosed:   2,
	MarketStatusResolved: 3,
}

// Before reports whether s comes earlier in the lifecycle than other.
func (s MarketStatus) Before(other MarketStatus) bool {
	return statusRank[s] < statusRank[other]
}

// Outcome is the resolved result of a binary market.
type Outcome string

const (
	OutcomeUnset   Outcome = ""
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

// FullScaleBps is the basis-point representation of probability 1.0.
// A canonical market's yes and no prices always sum to this value.
const FullScaleBps = 10000

// MarketKey is the composite identity of a canonical market: the provider
// plus the provider-native market ID.
type MarketKey struct {
	Provider Provider
	ID       string
}

// Market is the provider-agnostic canonical representation of one
// prediction-market instrument.
type Market struct {
	Provider     Provider
	ID           string // provider-native ID
	Question     string
	Category     string
	Tags         []string
	YesPriceBps  int // 0..10000, YesPriceBps + NoPriceBps == 10000
	NoPriceBps   int
	Volume       decimal.Decimal
	Liquidity    decimal.Decimal
	EndTime      *time.Time
	Status       MarketStatus
	Outcome      Outcome
	Metadata     map[string]string // provider-specific fields kept verbatim
	LastSyncedAt time.Time
}

// Key returns the composite identity of the market.
func (m Market) Key() MarketKey {
	return MarketKey{Provider: m.Provider, ID: m.ID}
}

// DataEquals reports whether the sync-relevant fields of m and other are
// identical. The reconciler skips the write entirely when this holds, so
// re-running a sync against unchanged provider data produces no writes.
func (m Market) DataEquals(other Market) bool {
	if m.YesPriceBps != other.YesPriceBps || m.NoPriceBps != other.NoPriceBps {
		return false
	}
	if !m.Volume.Equal(other.Volume) || !m.Liquidity.Equal(other.Liquidity) {
		return false
	}
	if m.Status != other.Status || m.Outcome != other.Outcome {
		return false
	}
	if m.Question != other.Question {
		return false
	}
	if (m.EndTime == nil) != (other.EndTime == nil) {
		return false
	}
	if m.EndTime != nil && !m.EndTime.Equal(*other.EndTime) {
		return false
	}
	return true
}
