// Package publisher hands completed listings to the marketplace.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/souq-assistant/internal/domain"
)

// UserIDHeader carries the listing owner on publish requests.
const UserIDHeader = "X-User-ID"

const maxResponseBytes = 64 << 10

// Publisher creates a listing from a completed draft and returns its id.
type Publisher interface {
	Publish(ctx context.Context, listing domain.Listing) (string, error)
}

// New returns an HTTPPublisher for url, or a LogPublisher when url is empty.
func New(url string, timeout time.Duration, logger *slog.Logger) Publisher {
	if strings.TrimSpace(url) == "" {
		return NewLogPublisher(logger)
	}
	return NewHTTPPublisher(url, timeout)
}

// HTTPPublisher POSTs listings as JSON to the marketplace API.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher creates a publisher for the listing-creation endpoint.
func NewHTTPPublisher(url string, timeout time.Duration) *HTTPPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPublisher{url: url, client: &http.Client{Timeout: timeout}}
}

type publishResponse struct {
	ID string `json:"id"`
}

// Publish sends the listing. Any non-2xx status is an error.
func (p *HTTPPublisher) Publish(ctx context.Context, listing domain.Listing) (string, error) {
	body, err := json.Marshal(listing)
	if err != nil {
		return "", fmt.Errorf("marshaling listing: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserIDHeader, listing.UserID)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending listing: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("marketplace rejected listing (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out publishResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("marketplace response has no listing id")
	}
	return out.ID, nil
}

// LogPublisher assigns a random id and only logs the listing. It is used
// when no marketplace URL is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the listing and returns a new uuid.
func (p *LogPublisher) Publish(_ context.Context, listing domain.Listing) (string, error) {
	id := uuid.NewString()
	p.logger.Info("Listing published",
		"listing_id", id,
		"user_id", listing.UserID,
		"category", listing.Category,
		"city", listing.City,
		"price", listing.Price,
		"currency", listing.Currency,
		"images", len(listing.Images),
	)
	return id, nil
}
