package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the aggressor direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is one entry from a provider's trade tape, already converted to
// canonical units: price as a 0..1 probability, shares and notional as
// decimal amounts.
type Trade struct {
	Provider    Provider
	TradeID     string // provider-native trade ID
	MarketID    string // provider-native market ID
	Side        TradeSide
	Outcome     Outcome // which side of the book the trade was on (yes/no)
	Price       decimal.Decimal
	Shares      decimal.Decimal
	NotionalUSD decimal.Decimal
	Trader      string // optional; not every provider exposes one
	ExecutedAt  time.Time
}

// WhaleTrade is a trade whose USD notional met or exceeded the configured
// large-trade threshold. Identity is (Provider, TradeID); upserts are
// idempotent.
type WhaleTrade struct {
	Provider    Provider
	TradeID     string
	MarketID    string
	Side        TradeSide
	Outcome     Outcome
	NotionalUSD decimal.Decimal
	Shares      decimal.Decimal
	Price       decimal.Decimal
	Trader      string
	ExecutedAt  time.Time
	DetectedAt  time.Time
}
