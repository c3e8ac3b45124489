package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeMidpointPricing(t *testing.T) {
	m := normalize(apiMarket{
		ID:       "0xabc",
		Question: "Will X happen?",
		BestBid:  "0.40",
		BestAsk:  "0.44",
		Active:   true,
	}, testNow)

	assert.Equal(t, domain.ProviderPolymarket, m.Provider)
	assert.Equal(t, 4200, m.YesPriceBps)
	assert.Equal(t, 5800, m.NoPriceBps)
	assert.Equal(t, domain.FullScaleBps, m.YesPriceBps+m.NoPriceBps)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestNormalizeOneSidedBook(t *testing.T) {
	m := normalize(apiMarket{ID: "1", BestBid: "0.30", Active: true}, testNow)
	assert.Equal(t, 3000, m.YesPriceBps)

	m = normalize(apiMarket{ID: "1", BestAsk: "0.70", Active: true}, testNow)
	assert.Equal(t, 7000, m.YesPriceBps)
}

func TestNormalizeMissingBookDefaultsToEvenUnopened(t *testing.T) {
	m := normalize(apiMarket{ID: "1", Active: true}, testNow)

	assert.Equal(t, 5000, m.YesPriceBps)
	assert.Equal(t, 5000, m.NoPriceBps)
	assert.Equal(t, domain.MarketStatusUnopened, m.Status,
		"no book means no information, not a live 50% market")
}

func TestNormalizeRejectsOutOfRangePrices(t *testing.T) {
	m := normalize(apiMarket{ID: "1", BestBid: "1.5", BestAsk: "-0.2", Active: true}, testNow)

	assert.Equal(t, 5000, m.YesPriceBps)
	assert.Equal(t, domain.MarketStatusUnopened, m.Status)
}

func TestNormalizeStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		in   apiMarket
		want domain.MarketStatus
	}{
		{"resolved wins over closed", apiMarket{UmaResolutionStatus: "resolved", Closed: true}, domain.MarketStatusResolved},
		{"closed wins over active", apiMarket{Closed: true, Active: true, BestBid: "0.5", BestAsk: "0.5"}, domain.MarketStatusClosed},
		{"active with book", apiMarket{Active: true, BestBid: "0.5", BestAsk: "0.5"}, domain.MarketStatusActive},
		{"neither flag", apiMarket{}, domain.MarketStatusUnopened},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalize(tc.in, testNow).Status)
		})
	}
}

func TestNormalizeParsesEndDate(t *testing.T) {
	m := normalize(apiMarket{ID: "1", EndDate: "2026-06-01T00:00:00Z"}, testNow)

	require.NotNil(t, m.EndTime)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), m.EndTime.UTC())
}

func TestFlexBoolAcceptsStringsAndBooleans(t *testing.T) {
	var m apiMarket
	require.NoError(t, json.Unmarshal([]byte(`{"active":"true","closed":false}`), &m))
	assert.True(t, bool(m.Active))
	assert.False(t, bool(m.Closed))

	assert.Error(t, json.Unmarshal([]byte(`{"active":"maybe"}`), &m))
}

func TestOutcomeOf(t *testing.T) {
	yes, ok := outcomeOf(apiMarket{UmaResolutionStatus: "resolved", OutcomePrices: `["1","0"]`})
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeYes, yes)

	no, ok := outcomeOf(apiMarket{UmaResolutionStatus: "resolved", OutcomePrices: `["0","1"]`})
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeNo, no)

	inv, ok := outcomeOf(apiMarket{UmaResolutionStatus: "resolved", OutcomePrices: `["0.5","0.5"]`})
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeInvalid, inv)

	_, ok = outcomeOf(apiMarket{UmaResolutionStatus: "pending", OutcomePrices: `["1","0"]`})
	assert.False(t, ok)
}

func TestNormalizeTrade(t *testing.T) {
	tr, err := normalizeTrade(apiTrade{
		TransactionHash: "0xdeadbeef",
		Market:          "0xabc",
		Side:            "SELL",
		Outcome:         "No",
		Price:           "0.25",
		Size:            "40000",
		ProxyWallet:     "0xwallet",
		Timestamp:       1750000000,
	}, testNow)

	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", tr.TradeID)
	assert.Equal(t, domain.TradeSideSell, tr.Side)
	assert.Equal(t, domain.OutcomeNo, tr.Outcome)
	assert.True(t, tr.NotionalUSD.Equal(decimal.NewFromInt(10000)), "0.25 * 40000 = 10000")
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), tr.ExecutedAt)
}

func TestNormalizeTradeRequiresID(t *testing.T) {
	_, err := normalizeTrade(apiTrade{Market: "0xabc", Price: "0.5", Size: "10"}, testNow)
	assert.Error(t, err)
}
