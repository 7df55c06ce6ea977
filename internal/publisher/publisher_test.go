package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/souq-assistant/internal/domain"
)

func testListing() domain.Listing {
	return domain.Listing{
		UserID:      "user-1",
		Title:       "تويوتا كامري 2015",
		Description: "سيارة نظيفة جدا ومكيفة",
		City:        "صنعاء",
		Category:    "cars",
		Price:       5000,
		Currency:    domain.CurrencyUSD,
		Phone:       "771234567",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHTTPPublisherSendsListing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "user-1", r.Header.Get(UserIDHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got domain.Listing
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, 5000.0, got.Price)
		assert.Equal(t, domain.CurrencyUSD, got.Currency)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"lst_42"}`))
	}))
	defer server.Close()

	id, err := NewHTTPPublisher(server.URL, time.Second).Publish(context.Background(), testListing())
	require.NoError(t, err)
	assert.Equal(t, "lst_42", id)
}

func TestHTTPPublisherRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPPublisher(server.URL, time.Second).Publish(context.Background(), testListing())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPPublisherRequiresID(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewHTTPPublisher(server.URL, time.Second).Publish(context.Background(), testListing())
	require.Error(t, err)
}

func TestNewFallsBackToLogPublisher(t *testing.T) {
	t.Parallel()

	p := New("", 0, slog.Default())
	_, ok := p.(*LogPublisher)
	require.True(t, ok)

	id, err := p.Publish(context.Background(), testListing())
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	_, ok = New("http://example.invalid/listings", 0, nil).(*HTTPPublisher)
	assert.True(t, ok)
}
