// Package agent implements the listing-draft assistant: the dialogue that
// turns free-form messages into a complete marketplace listing.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/extract"
)

var (
	// ErrPersistence is returned when the draft or idempotency store fails.
	// It is the only error that aborts a turn; the client should resend.
	ErrPersistence = errors.New("draft storage unavailable")

	// ErrInvalidInput is returned for messages without a user id.
	ErrInvalidInput = errors.New("invalid input")
)

// Inbound is one user message.
type Inbound struct {
	UserID      string
	SessionID   string
	Text        string
	ClientToken string
	Meta        *extract.Meta
	RequestID   string
}

// DraftSnapshot is the client view of a draft.
type DraftSnapshot struct {
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	City         string           `json:"city,omitempty"`
	District     string           `json:"district,omitempty"`
	Category     string           `json:"category,omitempty"`
	CategoryName string           `json:"category_name,omitempty"`
	Price        *float64         `json:"price,omitempty"`
	Currency     domain.Currency  `json:"currency,omitempty"`
	Phone        string           `json:"phone,omitempty"`
	Images       []string         `json:"images,omitempty"`
	Location     *domain.Location `json:"location,omitempty"`
	Skipped      []domain.Step    `json:"skipped,omitempty"`
	Missing      []domain.Step    `json:"missing,omitempty"`
	Complete     bool             `json:"complete"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

// Turn is the assistant's answer to one message.
type Turn struct {
	Reply        string        `json:"reply"`
	Draft        DraftSnapshot `json:"draft"`
	Step         domain.Step   `json:"step"`
	RetryAfterMs int64         `json:"retry_after_ms,omitempty"`
	ListingID    string        `json:"listing_id,omitempty"`
}

// outcome labels a turn for metrics and logs.
type outcome string

const (
	outcomeCommand       outcome = "command"
	outcomeExtracted     outcome = "extracted"
	outcomeInvalid       outcome = "invalid"
	outcomeFAQ           outcome = "faq"
	outcomeLLM           outcome = "llm"
	outcomeNotUnderstood outcome = "not_understood"
	outcomeRateLimited   outcome = "rate_limited"
	outcomePublished     outcome = "published"
	outcomePublishFailed outcome = "publish_failed"
	outcomeConfirm       outcome = "confirm"
	outcomeReplayed      outcome = "replayed"
)

func (s *Service) snapshot(d *domain.Draft) DraftSnapshot {
	snap := DraftSnapshot{
		Title:       d.Title,
		Description: d.Description,
		City:        d.City,
		District:    d.District,
		Category:    d.Category,
		Price:       d.Price,
		Currency:    d.Currency,
		Phone:       d.Phone,
		Images:      d.Images,
		Location:    d.Location,
		Skipped:     d.Skipped,
		Complete:    d.Complete(),
	}
	if d.Category != "" {
		snap.CategoryName = s.catalog.CategoryName(d.Category)
	}
	if !d.UpdatedAt.IsZero() {
		t := d.UpdatedAt.UTC()
		snap.UpdatedAt = &t
	}
	for _, st := range domain.StepOrder {
		if st.IsField() && !d.Filled(st) {
			snap.Missing = append(snap.Missing, st)
		}
	}
	return snap
}
