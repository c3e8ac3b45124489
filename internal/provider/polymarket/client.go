// Package polymarket adapts the Polymarket Gamma and data APIs to the
// provider contract. Gamma serves market metadata and order-book midpoints;
// the data API serves the trade tape. Both are public, no auth required.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/provider"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

const defaultPageSize = 100

// Client talks to the Polymarket APIs.
type Client struct {
	gammaURL   string
	dataURL    string
	httpClient *http.Client
	onResponse provider.HeaderObserver
	pageSize   int
	now        func() time.Time
	logger     *slog.Logger
}

var _ provider.Adapter = (*Client)(nil)

// NewClient creates a Polymarket adapter. onResponse may be nil.
func NewClient(gammaURL, dataURL string, hc *http.Client, onResponse provider.HeaderObserver, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		gammaURL:   gammaURL,
		dataURL:    dataURL,
		httpClient: hc,
		onResponse: onResponse,
		pageSize:   defaultPageSize,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "polymarket")),
	}
}

// Name implements provider.Adapter.
func (c *Client) Name() domain.Provider { return domain.ProviderPolymarket }

// ListActive returns one page of open markets. Pagination is offset-based;
// the page token is the next offset.
func (c *Client) ListActive(ctx context.Context, pageToken string) ([]domain.Market, string, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("polymarket: bad page token %q", pageToken)
		}
		offset = n
	}

	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))

	var raw []apiMarket
	if err := c.getJSON(ctx, c.gammaURL+"/markets?"+q.Encode(), &raw); err != nil {
		return nil, "", err
	}

	now := c.now().UTC()
	markets := make([]domain.Market, 0, len(raw))
	for _, m := range raw {
		markets = append(markets, normalize(m, now))
	}

	next := ""
	if len(raw) == c.pageSize {
		next = strconv.Itoa(offset + c.pageSize)
	}
	return markets, next, nil
}

// GetOne fetches a single market by Gamma ID.
func (c *Client) GetOne(ctx context.Context, nativeID string) (domain.Market, error) {
	var raw apiMarket
	if err := c.getJSON(ctx, c.gammaURL+"/markets/"+url.PathEscape(nativeID), &raw); err != nil {
		return domain.Market{}, err
	}
	return normalize(raw, c.now().UTC()), nil
}

// GetOutcome reports resolution from the UMA status and terminal prices.
func (c *Client) GetOutcome(ctx context.Context, nativeID string) (domain.Outcome, bool, error) {
	var raw apiMarket
	if err := c.getJSON(ctx, c.gammaURL+"/markets/"+url.PathEscape(nativeID), &raw); err != nil {
		return "", false, err
	}
	outcome, resolved := outcomeOf(raw)
	return outcome, resolved, nil
}

// GetTrades returns the recent tape for one market from the data API.
func (c *Client) GetTrades(ctx context.Context, nativeID string) ([]domain.Trade, error) {
	q := url.Values{}
	q.Set("market", nativeID)
	q.Set("limit", strconv.Itoa(c.pageSize))

	var raw []apiTrade
	if err := c.getJSON(ctx, c.dataURL+"/trades?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	trades := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		trade, err := normalizeTrade(t, now)
		if err != nil {
			c.logger.Warn("skipping malformed trade", slog.String("error", err.Error()))
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("polymarket: %w", err))
	}
	defer resp.Body.Close()

	if c.onResponse != nil {
		c.onResponse(resp.Header)
	}
	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("polymarket: decode response: %w: %w", domain.ErrBadResponse, err)
	}
	return nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("polymarket: %w", domain.ErrNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return resilience.MarkTransient(fmt.Errorf("polymarket: status %d", code))
	default:
		return fmt.Errorf("polymarket: status %d", code)
	}
}
