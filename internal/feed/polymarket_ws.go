// Package feed streams live trade activity over WebSocket so whale
// detection reacts in seconds instead of waiting for the next polling pass.
// The stream and the poller feed the same idempotent detector, so overlap
// between the two paths is harmless.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// TradeHandler is called for each trade received on the stream.
type TradeHandler func(ctx context.Context, t domain.Trade)

// PolymarketWSFeed connects to the Polymarket CLOB WebSocket, subscribes to
// the trades channel for the given asset IDs, and invokes the handler on
// each fill. It reconnects with backoff on disconnect.
type PolymarketWSFeed struct {
	wsURL     string
	assetIDs  []string
	onTrade   TradeHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewPolymarketWSFeed creates a feed for the given asset IDs.
func NewPolymarketWSFeed(wsURL string, assetIDs []string, onTrade TradeHandler, logger *slog.Logger) *PolymarketWSFeed {
	return &PolymarketWSFeed{
		wsURL:    wsURL,
		assetIDs: assetIDs,
		onTrade:  onTrade,
		logger:   logger.With(slog.String("component", "polymarket_ws_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with
// backoff on disconnect.
func (f *PolymarketWSFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no asset IDs to subscribe, exiting")
		return nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type wsSubscribe struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

type wsTradeMsg struct {
	EventType string `json:"event_type"`
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Outcome   string `json:"outcome"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

func (f *PolymarketWSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := wsSubscribe{Type: "subscribe", Channel: "trades", AssetIDs: f.assetIDs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("ws subscribed", slog.Int("assets", len(f.assetIDs)))

	// Close the socket when ctx ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg wsTradeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("skipping malformed ws message", slog.String("error", err.Error()))
			continue
		}
		if msg.EventType != "trade" || msg.ID == "" {
			continue
		}
		if f.onTrade != nil {
			f.onTrade(ctx, wsTradeToDomain(msg))
		}
	}
}

func wsTradeToDomain(msg wsTradeMsg) domain.Trade {
	price, _ := decimal.NewFromString(msg.Price)
	shares, _ := decimal.NewFromString(msg.Size)

	side := domain.TradeSideBuy
	if msg.Side == "SELL" {
		side = domain.TradeSideSell
	}
	outcome := domain.OutcomeYes
	if msg.Outcome == "No" || msg.Outcome == "NO" {
		outcome = domain.OutcomeNo
	}

	executed := time.Now().UTC()
	if msg.Timestamp > 0 {
		executed = time.UnixMilli(msg.Timestamp).UTC()
	}

	return domain.Trade{
		Provider:    domain.ProviderPolymarket,
		TradeID:     msg.ID,
		MarketID:    msg.Market,
		Side:        side,
		Outcome:     outcome,
		Price:       price,
		Shares:      shares,
		NotionalUSD: price.Mul(shares),
		ExecutedAt:  executed,
	}
}

// Close stops the feed.
func (f *PolymarketWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
