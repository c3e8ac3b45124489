// Package kalshi adapts the Kalshi exchange API to the provider contract.
// Every request is individually signed with RSA-PSS-SHA256 over the
// timestamp + method + path message; signatures are never reused across
// requests.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
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

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	onResponse provider.HeaderObserver
	pageSize   int
	now        func() time.Time
	logger     *slog.Logger
}

var _ provider.Adapter = (*Client)(nil)

// NewClient creates a Kalshi adapter. The private key must be set with
// SetRSAPrivateKey before any call is made. onResponse may be nil.
func NewClient(baseURL, apiKeyID string, hc *http.Client, onResponse provider.HeaderObserver, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKeyID:   apiKeyID,
		httpClient: hc,
		onResponse: onResponse,
		pageSize:   defaultPageSize,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "kalshi")),
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes. PKCS#8
// and PKCS#1 encodings are both accepted.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// Name implements provider.Adapter.
func (c *Client) Name() domain.Provider { return domain.ProviderKalshi }

// ListActive returns one page of open markets. Pagination is cursor-based;
// the page token is the opaque cursor from the previous page.
func (c *Client) ListActive(ctx context.Context, pageToken string) ([]domain.Market, string, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		params.Set("cursor", pageToken)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}

	var resp struct {
		Markets []apiMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w: %w", domain.ErrBadResponse, err)
	}

	now := c.now().UTC()
	markets := make([]domain.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		markets = append(markets, normalize(m, now))
	}
	return markets, resp.Cursor, nil
}

// GetOne fetches a single market by ticker.
func (c *Client) GetOne(ctx context.Context, nativeID string) (domain.Market, error) {
	m, err := c.getMarket(ctx, nativeID)
	if err != nil {
		return domain.Market{}, err
	}
	return normalize(m, c.now().UTC()), nil
}

// GetOutcome reports settlement from the market's status and result fields.
func (c *Client) GetOutcome(ctx context.Context, nativeID string) (domain.Outcome, bool, error) {
	m, err := c.getMarket(ctx, nativeID)
	if err != nil {
		return "", false, err
	}
	return outcomeOf(m)
}

// GetTrades returns the recent tape for one market.
func (c *Client) GetTrades(ctx context.Context, nativeID string) ([]domain.Trade, error) {
	params := url.Values{}
	params.Set("ticker", nativeID)
	params.Set("limit", strconv.Itoa(c.pageSize))

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets/trades?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get trades %s: %w", nativeID, err)
	}

	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode trades: %w: %w", domain.ErrBadResponse, err)
	}

	trades := make([]domain.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		trade, err := normalizeTrade(t)
		if err != nil {
			c.logger.Warn("skipping malformed trade", slog.String("error", err.Error()))
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (c *Client) getMarket(ctx context.Context, ticker string) (apiMarket, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil)
	if err != nil {
		return apiMarket{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market apiMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return apiMarket{}, fmt.Errorf("kalshi: decode market: %w: %w", domain.ErrBadResponse, err)
	}
	return resp.Market, nil
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against
// the Kalshi API. Signing happens here, per request, so the timestamp and
// signature are always fresh.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method, path); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.MarkTransient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if c.onResponse != nil {
		c.onResponse(resp.Header)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.MarkTransient(fmt.Errorf("read response: %w", err))
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds the RSA authentication headers. The message signed is
// timestamp + method + path, hashed with SHA-256 and signed RSA-PSS with
// salt length equal to the hash length.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("kalshi: RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return resilience.MarkTransient(fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code))
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
