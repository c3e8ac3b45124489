package polymarket

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// apiMarket is one market object from the Gamma markets endpoint. Numeric
// fields arrive as decimal strings.
type apiMarket struct {
	ID                  string   `json:"id"`
	Question            string   `json:"question"`
	Category            string   `json:"category"`
	BestBid             string   `json:"bestBid"`
	BestAsk             string   `json:"bestAsk"`
	Volume              string   `json:"volume"`
	Liquidity           string   `json:"liquidity"`
	EndDate             string   `json:"endDate"`
	Active              flexBool `json:"active"`
	Closed              flexBool `json:"closed"`
	UmaResolutionStatus string   `json:"umaResolutionStatus"`
	OutcomePrices       string   `json:"outcomePrices"`
}

// apiTrade is one fill from the data-api trades endpoint.
type apiTrade struct {
	TransactionHash string  `json:"transactionHash"`
	Market          string  `json:"market"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Price           string  `json:"price"`
	Size            string  `json:"size"`
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       float64 `json:"timestamp"`
}

// flexBool accepts true/false as JSON booleans or as the strings the Gamma
// API sometimes emits.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`, "null", `""`:
		*b = false
	default:
		return fmt.Errorf("polymarket: bad bool %q", data)
	}
	return nil
}

// normalize converts an API market into canonical form. Prices are the
// bid/ask midpoint scaled to basis points; a market quoting no book at all
// gets the even 5000/5000 prior and is reported as unopened so downstream
// consumers can tell "no information" from "the market thinks 50%".
func normalize(m apiMarket, now time.Time) domain.Market {
	out := domain.Market{
		Provider:     domain.ProviderPolymarket,
		ID:           m.ID,
		Question:     m.Question,
		Category:     m.Category,
		Volume:       parseDecimal(m.Volume),
		Liquidity:    parseDecimal(m.Liquidity),
		LastSyncedAt: now,
	}

	bid, okBid := parsePrice(m.BestBid)
	ask, okAsk := parsePrice(m.BestAsk)
	switch {
	case okBid && okAsk:
		out.YesPriceBps = toBps((bid + ask) / 2)
	case okBid:
		out.YesPriceBps = toBps(bid)
	case okAsk:
		out.YesPriceBps = toBps(ask)
	default:
		out.YesPriceBps = domain.FullScaleBps / 2
	}
	out.NoPriceBps = domain.FullScaleBps - out.YesPriceBps

	switch {
	case m.UmaResolutionStatus == "resolved":
		out.Status = domain.MarketStatusResolved
	case bool(m.Closed):
		out.Status = domain.MarketStatusClosed
	case bool(m.Active):
		out.Status = domain.MarketStatusActive
	default:
		out.Status = domain.MarketStatusUnopened
	}
	if !okBid && !okAsk && out.Status == domain.MarketStatusActive {
		out.Status = domain.MarketStatusUnopened
	}

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			out.EndTime = &t
		}
	}
	return out
}

// outcomeOf derives the settled side from the terminal outcome prices. The
// Gamma API reports resolved markets with outcomePrices pinned to ["1","0"]
// or ["0","1"].
func outcomeOf(m apiMarket) (domain.Outcome, bool) {
	if m.UmaResolutionStatus != "resolved" {
		return "", false
	}
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) < 2 {
		return domain.OutcomeInvalid, true
	}
	yes, okYes := parsePrice(prices[0])
	no, okNo := parsePrice(prices[1])
	if !okYes || !okNo {
		return domain.OutcomeInvalid, true
	}
	switch {
	case yes >= 0.99 && no <= 0.01:
		return domain.OutcomeYes, true
	case no >= 0.99 && yes <= 0.01:
		return domain.OutcomeNo, true
	default:
		return domain.OutcomeInvalid, true
	}
}

func normalizeTrade(t apiTrade, now time.Time) (domain.Trade, error) {
	price := parseDecimal(t.Price)
	shares := parseDecimal(t.Size)

	side := domain.TradeSideBuy
	if t.Side == "SELL" {
		side = domain.TradeSideSell
	}
	outcome := domain.OutcomeYes
	if t.Outcome == "No" || t.Outcome == "NO" {
		outcome = domain.OutcomeNo
	}

	executed := now
	if t.Timestamp > 0 {
		executed = time.Unix(int64(t.Timestamp), 0).UTC()
	}

	if t.TransactionHash == "" {
		return domain.Trade{}, fmt.Errorf("polymarket: trade missing transaction hash")
	}
	return domain.Trade{
		Provider:    domain.ProviderPolymarket,
		TradeID:     t.TransactionHash,
		MarketID:    t.Market,
		Side:        side,
		Outcome:     outcome,
		Price:       price,
		Shares:      shares,
		NotionalUSD: price.Mul(shares),
		Trader:      t.ProxyWallet,
		ExecutedAt:  executed,
	}, nil
}

// parsePrice parses a 0..1 probability string, rejecting values outside the
// unit interval.
func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toBps(p float64) int {
	bps := int(math.Round(p * float64(domain.FullScaleBps)))
	if bps < 0 {
		return 0
	}
	if bps > domain.FullScaleBps {
		return domain.FullScaleBps
	}
	return bps
}
