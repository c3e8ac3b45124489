package manifold

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func probPtr(p float64) *float64 { return &p }

func TestNormalizeProbabilityToBps(t *testing.T) {
	m := normalize(apiMarket{ID: "m1", Question: "q?", Probability: probPtr(0.735)}, testNow)

	assert.Equal(t, 7350, m.YesPriceBps)
	assert.Equal(t, 2650, m.NoPriceBps)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestNormalizeMissingProbability(t *testing.T) {
	m := normalize(apiMarket{ID: "m1"}, testNow)

	assert.Equal(t, 5000, m.YesPriceBps)
	assert.Equal(t, 5000, m.NoPriceBps)
	assert.Equal(t, domain.MarketStatusUnopened, m.Status)
}

func TestNormalizePastCloseTimeIsClosed(t *testing.T) {
	closed := testNow.Add(-time.Hour).UnixMilli()
	m := normalize(apiMarket{ID: "m1", Probability: probPtr(0.5), CloseTime: closed}, testNow)

	assert.Equal(t, domain.MarketStatusClosed, m.Status)
	require.NotNil(t, m.EndTime)
	assert.Equal(t, testNow.Add(-time.Hour), m.EndTime.UTC())
}

func TestNormalizeResolvedWinsOverClose(t *testing.T) {
	m := normalize(apiMarket{ID: "m1", IsResolved: true, Probability: probPtr(1)}, testNow)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
}

func TestNormalizeClampsProbability(t *testing.T) {
	m := normalize(apiMarket{ID: "m1", Probability: probPtr(1.2)}, testNow)
	assert.Equal(t, domain.FullScaleBps, m.YesPriceBps)
	assert.Equal(t, 0, m.NoPriceBps)
}

func TestNormalizeBetBuy(t *testing.T) {
	tr, err := normalizeBet(apiBet{
		ID: "b1", ContractID: "m1", UserID: "u1", Outcome: "YES",
		Amount: 120, Shares: 200, CreatedTime: testNow.UnixMilli(),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.TradeSideBuy, tr.Side)
	assert.Equal(t, domain.OutcomeYes, tr.Outcome)
	assert.True(t, tr.NotionalUSD.Equal(decimal.NewFromInt(120)))
	assert.True(t, tr.Price.Equal(decimal.RequireFromString("0.6")), "120 mana / 200 shares")
	assert.Equal(t, testNow, tr.ExecutedAt.UTC())
}

func TestNormalizeBetNegativeAmountIsSell(t *testing.T) {
	tr, err := normalizeBet(apiBet{ID: "b2", ContractID: "m1", Outcome: "NO", Amount: -50, Shares: -100})

	require.NoError(t, err)
	assert.Equal(t, domain.TradeSideSell, tr.Side)
	assert.Equal(t, domain.OutcomeNo, tr.Outcome)
	assert.True(t, tr.NotionalUSD.Equal(decimal.NewFromInt(50)))
	assert.True(t, tr.Shares.Equal(decimal.NewFromInt(100)))
}

func TestNormalizeBetZeroShares(t *testing.T) {
	tr, err := normalizeBet(apiBet{ID: "b3", ContractID: "m1", Amount: 10})

	require.NoError(t, err)
	assert.True(t, tr.Price.IsZero())
}

func TestNormalizeBetRequiresID(t *testing.T) {
	_, err := normalizeBet(apiBet{ContractID: "m1"})
	assert.Error(t, err)
}
