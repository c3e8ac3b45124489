package manifold

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

func TestListActiveFiltersNonBinaryAndResolved(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[
			{"id": "a", "question": "a?", "outcomeType": "BINARY", "probability": 0.4},
			{"id": "b", "question": "b?", "outcomeType": "MULTIPLE_CHOICE", "probability": 0.5},
			{"id": "c", "question": "c?", "outcomeType": "BINARY", "isResolved": true, "resolution": "YES"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", nil, nil, slog.New(slog.DiscardHandler))
	markets, next, err := c.ListActive(context.Background(), "")

	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "a", markets[0].ID)
	assert.Equal(t, 4000, markets[0].YesPriceBps)
	assert.Empty(t, next, "short page ends pagination")
	assert.Equal(t, "Key test-key", gotAuth)
}

func TestListActiveKeysetPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "last-id", r.URL.Query().Get("before"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil, slog.New(slog.DiscardHandler))
	_, _, err := c.ListActive(context.Background(), "last-id")
	require.NoError(t, err)
}

func TestGetOutcome(t *testing.T) {
	body := `{"id": "m1", "outcomeType": "BINARY", "isResolved": true, "resolution": "NO"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil, slog.New(slog.DiscardHandler))

	out, resolved, err := c.GetOutcome(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.OutcomeNo, out)

	body = `{"id": "m1", "outcomeType": "BINARY", "isResolved": true, "resolution": "CANCEL"}`
	out, resolved, err = c.GetOutcome(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.OutcomeInvalid, out)

	body = `{"id": "m1", "outcomeType": "BINARY", "probability": 0.5}`
	_, resolved, err = c.GetOutcome(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestGetOneRejectsNonBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "m1", "outcomeType": "POLL"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil, slog.New(slog.DiscardHandler))
	_, err := c.GetOne(context.Background(), "m1")
	assert.ErrorContains(t, err, "not binary")
}

func TestNotFoundMapsToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil, slog.New(slog.DiscardHandler))
	_, err := c.GetOne(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
