package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbLeg is one side of a cross-provider arbitrage pair.
type ArbLeg struct {
	Provider    Provider
	MarketID    string
	Question    string
	YesPriceBps int
	NoPriceBps  int
}

// Opportunity is an ephemeral cross-provider pricing discrepancy: buying YES
// on one provider and NO on another for a combined cost below 1.0 locks in
// the gap if both legs execute. Opportunities are not persisted; once
// ExpiresAt passes they must be re-detected, never reused.
type Opportunity struct {
	BuyYes          ArbLeg // leg on which YES is bought
	BuyNo           ArbLeg // leg on which NO is bought
	CombinedCostBps int    // BuyYes.YesPriceBps + BuyNo.NoPriceBps
	SpreadBps       int    // FullScaleBps - CombinedCostBps
	ProfitPerPair   decimal.Decimal
	Similarity      float64
	DetectedAt      time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the opportunity is stale at the given time.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
