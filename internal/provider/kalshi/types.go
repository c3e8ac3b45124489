package kalshi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// apiMarket is one market from the exchange API. Prices are integer cents
// in 0..100.
type apiMarket struct {
	Ticker    string    `json:"ticker"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	Result    string    `json:"result"`
	YesBid    int       `json:"yes_bid"`
	YesAsk    int       `json:"yes_ask"`
	LastPrice int       `json:"last_price"`
	Volume    int64     `json:"volume"`
	Liquidity int64     `json:"liquidity"`
	CloseTime time.Time `json:"close_time"`
}

// apiTrade is one fill from the trades endpoint. count is contracts, prices
// are cents.
type apiTrade struct {
	TradeID     string    `json:"trade_id"`
	Ticker      string    `json:"ticker"`
	Count       int64     `json:"count"`
	YesPrice    int       `json:"yes_price"`
	NoPrice     int       `json:"no_price"`
	TakerSide   string    `json:"taker_side"`
	CreatedTime time.Time `json:"created_time"`
}

// normalize converts cents to basis points. A market quoting no price at
// all, or in unopened status, gets the even 5000/5000 prior.
func normalize(m apiMarket, now time.Time) domain.Market {
	out := domain.Market{
		Provider: domain.ProviderKalshi,
		ID:       m.Ticker,
		Question: m.Title,
		Category: m.Category,
		Volume:   decimal.NewFromInt(m.Volume),
		// Liquidity arrives in cents.
		Liquidity:    decimal.NewFromInt(m.Liquidity).Div(decimal.NewFromInt(100)),
		LastSyncedAt: now,
	}

	switch {
	case m.LastPrice > 0:
		out.YesPriceBps = centsToBps(m.LastPrice)
	case m.YesBid > 0 || m.YesAsk > 0:
		out.YesPriceBps = centsToBps((m.YesBid + m.YesAsk) / 2)
	default:
		out.YesPriceBps = domain.FullScaleBps / 2
	}
	out.NoPriceBps = domain.FullScaleBps - out.YesPriceBps

	switch m.Status {
	case "settled", "finalized":
		out.Status = domain.MarketStatusResolved
	case "closed":
		out.Status = domain.MarketStatusClosed
	case "open", "active":
		out.Status = domain.MarketStatusActive
	default:
		out.Status = domain.MarketStatusUnopened
	}

	if !m.CloseTime.IsZero() {
		t := m.CloseTime.UTC()
		out.EndTime = &t
	}
	return out
}

// outcomeOf derives the settled side from the result field. Markets that
// settled without a yes/no result are voided.
func outcomeOf(m apiMarket) (domain.Outcome, bool, error) {
	if m.Status != "settled" && m.Status != "finalized" {
		return "", false, nil
	}
	switch m.Result {
	case "yes":
		return domain.OutcomeYes, true, nil
	case "no":
		return domain.OutcomeNo, true, nil
	default:
		return domain.OutcomeInvalid, true, nil
	}
}

func normalizeTrade(t apiTrade) (domain.Trade, error) {
	if t.TradeID == "" {
		return domain.Trade{}, fmt.Errorf("kalshi: trade missing id")
	}

	outcome := domain.OutcomeYes
	priceCents := t.YesPrice
	if t.TakerSide == "no" {
		outcome = domain.OutcomeNo
		priceCents = t.NoPrice
	}
	price := decimal.NewFromInt(int64(priceCents)).Div(decimal.NewFromInt(100))
	shares := decimal.NewFromInt(t.Count)

	return domain.Trade{
		Provider:    domain.ProviderKalshi,
		TradeID:     t.TradeID,
		MarketID:    t.Ticker,
		Side:        domain.TradeSideBuy, // the tape reports taker fills
		Outcome:     outcome,
		Price:       price,
		Shares:      shares,
		NotionalUSD: price.Mul(shares),
		ExecutedAt:  t.CreatedTime.UTC(),
	}, nil
}

func centsToBps(cents int) int {
	bps := cents * 100
	if bps < 0 {
		return 0
	}
	if bps > domain.FullScaleBps {
		return domain.FullScaleBps
	}
	return bps
}
