// Package manifold adapts the Manifold Markets API to the provider
// contract. Auth is a static bearer token; only binary markets are carried,
// other outcome types are skipped during normalization.
package manifold

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

// Client talks to the Manifold API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	onResponse provider.HeaderObserver
	pageSize   int
	now        func() time.Time
	logger     *slog.Logger
}

var _ provider.Adapter = (*Client)(nil)

// NewClient creates a Manifold adapter. onResponse may be nil.
func NewClient(baseURL, apiKey string, hc *http.Client, onResponse provider.HeaderObserver, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: hc,
		onResponse: onResponse,
		pageSize:   defaultPageSize,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "manifold")),
	}
}

// Name implements provider.Adapter.
func (c *Client) Name() domain.Provider { return domain.ProviderManifold }

// ListActive returns one page of open binary markets. Pagination is
// keyset-based; the page token is the ID of the last market on the previous
// page.
func (c *Client) ListActive(ctx context.Context, pageToken string) ([]domain.Market, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("before", pageToken)
	}

	var raw []apiMarket
	if err := c.getJSON(ctx, "/v0/markets?"+q.Encode(), &raw); err != nil {
		return nil, "", err
	}

	now := c.now().UTC()
	markets := make([]domain.Market, 0, len(raw))
	for _, m := range raw {
		if m.OutcomeType != "BINARY" {
			continue
		}
		if m.IsResolved || (m.CloseTime > 0 && msTime(m.CloseTime).Before(now)) {
			continue
		}
		markets = append(markets, normalize(m, now))
	}

	next := ""
	if len(raw) == c.pageSize {
		next = raw[len(raw)-1].ID
	}
	return markets, next, nil
}

// GetOne fetches a single market by ID.
func (c *Client) GetOne(ctx context.Context, nativeID string) (domain.Market, error) {
	var raw apiMarket
	if err := c.getJSON(ctx, "/v0/market/"+url.PathEscape(nativeID), &raw); err != nil {
		return domain.Market{}, err
	}
	if raw.OutcomeType != "BINARY" {
		return domain.Market{}, fmt.Errorf("manifold: market %s is %s, not binary", nativeID, raw.OutcomeType)
	}
	return normalize(raw, c.now().UTC()), nil
}

// GetOutcome reports resolution from the isResolved and resolution fields.
func (c *Client) GetOutcome(ctx context.Context, nativeID string) (domain.Outcome, bool, error) {
	var raw apiMarket
	if err := c.getJSON(ctx, "/v0/market/"+url.PathEscape(nativeID), &raw); err != nil {
		return "", false, err
	}
	if !raw.IsResolved {
		return "", false, nil
	}
	switch raw.Resolution {
	case "YES":
		return domain.OutcomeYes, true, nil
	case "NO":
		return domain.OutcomeNo, true, nil
	default: // CANCEL, MKT, or missing
		return domain.OutcomeInvalid, true, nil
	}
}

// GetTrades returns the recent bets on one market.
func (c *Client) GetTrades(ctx context.Context, nativeID string) ([]domain.Trade, error) {
	q := url.Values{}
	q.Set("contractId", nativeID)
	q.Set("limit", strconv.Itoa(c.pageSize))

	var raw []apiBet
	if err := c.getJSON(ctx, "/v0/bets?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	trades := make([]domain.Trade, 0, len(raw))
	for _, b := range raw {
		trade, err := normalizeBet(b)
		if err != nil {
			c.logger.Warn("skipping malformed bet", slog.String("error", err.Error()))
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("manifold: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.MarkTransient(fmt.Errorf("manifold: %w", err))
	}
	defer resp.Body.Close()

	if c.onResponse != nil {
		c.onResponse(resp.Header)
	}
	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("manifold: decode response: %w: %w", domain.ErrBadResponse, err)
	}
	return nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("manifold: %w", domain.ErrNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return resilience.MarkTransient(fmt.Errorf("manifold: status %d", code))
	default:
		return fmt.Errorf("manifold: status %d", code)
	}
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
