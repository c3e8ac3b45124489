package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
	"github.com/oddsmesh/oddsmesh/internal/resilience"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, pemBytes
}

func newTestClient(t *testing.T, serverURL string, pemBytes []byte) *Client {
	t.Helper()
	c := NewClient(serverURL, "key-id-1", nil, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, c.SetRSAPrivateKey(pemBytes))
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestSignedRequestHeaders(t *testing.T) {
	key, pemBytes := testKey(t)

	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Write([]byte(`{"markets": [], "cursor": ""}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, pemBytes)
	_, _, err := c.ListActive(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, gotReq)

	assert.Equal(t, "key-id-1", gotReq.Header.Get("KALSHI-ACCESS-KEY"))

	ts := gotReq.Header.Get("KALSHI-ACCESS-TIMESTAMP")
	wantTs := strconv.FormatInt(c.now().UnixMilli(), 10)
	assert.Equal(t, wantTs, ts)

	// The signature must verify as RSA-PSS over timestamp + method + path.
	sig, err := base64.StdEncoding.DecodeString(gotReq.Header.Get("KALSHI-ACCESS-SIGNATURE"))
	require.NoError(t, err)

	path := "/markets?limit=100&status=open"
	hash := sha256.Sum256([]byte(ts + http.MethodGet + path))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	assert.NoError(t, err, "signature must verify against the public key")
}

func TestListActivePagination(t *testing.T) {
	_, pemBytes := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"markets": [{"ticker": "A", "title": "a?", "status": "open", "last_price": 40}], "cursor": "next-1"}`))
			return
		}
		w.Write([]byte(`{"markets": [{"ticker": "B", "title": "b?", "status": "open", "last_price": 60}], "cursor": ""}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, pemBytes)

	page1, cursor, err := c.ListActive(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, page1, 1)
	assert.Equal(t, "A", page1[0].ID)
	assert.Equal(t, 4000, page1[0].YesPriceBps)
	assert.Equal(t, "next-1", cursor)

	page2, cursor, err := c.ListActive(context.Background(), cursor)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "B", page2[0].ID)
	assert.Empty(t, cursor)
}

func TestErrorClassification(t *testing.T) {
	_, pemBytes := testKey(t)

	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"code": "not_found", "message": "no such market"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, pemBytes)

	_, err := c.GetOne(context.Background(), "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, resilience.IsTransient(err))

	status = http.StatusTooManyRequests
	_, err = c.GetOne(context.Background(), "X")
	assert.True(t, resilience.IsTransient(err))

	status = http.StatusInternalServerError
	_, err = c.GetOne(context.Background(), "X")
	assert.True(t, resilience.IsTransient(err))

	status = http.StatusForbidden
	_, err = c.GetOne(context.Background(), "X")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err), "client errors never retry")
}

func TestMalformedResponseIsBadResponse(t *testing.T) {
	_, pemBytes := testKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markets": not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, pemBytes)
	_, _, err := c.ListActive(context.Background(), "")

	assert.ErrorIs(t, err, domain.ErrBadResponse)
	assert.False(t, resilience.IsTransient(err), "schema failures must not burn retries")
}

func TestSetRSAPrivateKeyPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	c := NewClient("http://unused", "k", nil, nil, slog.New(slog.DiscardHandler))
	assert.NoError(t, c.SetRSAPrivateKey(pemBytes))
}

func TestRequestFailsWithoutKey(t *testing.T) {
	c := NewClient("http://unused", "k", nil, nil, slog.New(slog.DiscardHandler))
	_, _, err := c.ListActive(context.Background(), "")
	assert.ErrorContains(t, err, "private key not configured")
}
