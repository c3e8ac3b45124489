package manifold

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// apiMarket is one LiteMarket from the Manifold API. Probability is the raw
// 0..1 market probability; a nil pointer means the field was absent.
type apiMarket struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	OutcomeType    string   `json:"outcomeType"`
	Probability    *float64 `json:"probability"`
	Volume         float64  `json:"volume"`
	TotalLiquidity float64  `json:"totalLiquidity"`
	CloseTime      int64    `json:"closeTime"`
	CreatedTime    int64    `json:"createdTime"`
	IsResolved     bool     `json:"isResolved"`
	Resolution     string   `json:"resolution"`
	GroupSlugs     []string `json:"groupSlugs"`
}

// apiBet is one bet from the bets endpoint. Amounts are in mana, which the
// pipeline treats at par with USD.
type apiBet struct {
	ID          string  `json:"id"`
	ContractID  string  `json:"contractId"`
	UserID      string  `json:"userId"`
	Outcome     string  `json:"outcome"`
	Amount      float64 `json:"amount"`
	Shares      float64 `json:"shares"`
	CreatedTime int64   `json:"createdTime"`
}

// normalize converts the raw probability to basis points. A market with no
// probability field gets the even 5000/5000 prior and is reported unopened.
func normalize(m apiMarket, now time.Time) domain.Market {
	out := domain.Market{
		Provider:     domain.ProviderManifold,
		ID:           m.ID,
		Question:     m.Question,
		Volume:       decimal.NewFromFloat(m.Volume),
		Liquidity:    decimal.NewFromFloat(m.TotalLiquidity),
		LastSyncedAt: now,
	}
	if len(m.GroupSlugs) > 0 {
		out.Category = m.GroupSlugs[0]
	}

	switch {
	case m.IsResolved:
		out.Status = domain.MarketStatusResolved
	case m.CloseTime > 0 && msTime(m.CloseTime).Before(now):
		out.Status = domain.MarketStatusClosed
	case m.Probability == nil:
		out.Status = domain.MarketStatusUnopened
	default:
		out.Status = domain.MarketStatusActive
	}

	if m.Probability != nil {
		out.YesPriceBps = probToBps(*m.Probability)
	} else {
		out.YesPriceBps = domain.FullScaleBps / 2
	}
	out.NoPriceBps = domain.FullScaleBps - out.YesPriceBps

	if m.CloseTime > 0 {
		t := msTime(m.CloseTime)
		out.EndTime = &t
	}
	return out
}

func normalizeBet(b apiBet) (domain.Trade, error) {
	if b.ID == "" {
		return domain.Trade{}, fmt.Errorf("manifold: bet missing id")
	}

	outcome := domain.OutcomeYes
	if b.Outcome == "NO" {
		outcome = domain.OutcomeNo
	}
	side := domain.TradeSideBuy
	amount := b.Amount
	if amount < 0 {
		// Negative amounts are sells of existing shares.
		side = domain.TradeSideSell
		amount = -amount
	}

	shares := decimal.NewFromFloat(math.Abs(b.Shares))
	notional := decimal.NewFromFloat(amount)
	price := decimal.Zero
	if !shares.IsZero() {
		price = notional.DivRound(shares, 6)
	}

	return domain.Trade{
		Provider:    domain.ProviderManifold,
		TradeID:     b.ID,
		MarketID:    b.ContractID,
		Side:        side,
		Outcome:     outcome,
		Price:       price,
		Shares:      shares,
		NotionalUSD: notional,
		Trader:      b.UserID,
		ExecutedAt:  msTime(b.CreatedTime),
	}, nil
}

func probToBps(p float64) int {
	bps := int(math.Round(p * float64(domain.FullScaleBps)))
	if bps < 0 {
		return 0
	}
	if bps > domain.FullScaleBps {
		return domain.FullScaleBps
	}
	return bps
}
