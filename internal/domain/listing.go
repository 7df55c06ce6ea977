package domain

import (
	"slices"
	"time"
)

// Listing is a completed draft handed to the marketplace for publishing.
type Listing struct {
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	City        string    `json:"city"`
	District    string    `json:"district,omitempty"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Currency    Currency  `json:"currency"`
	Phone       string    `json:"phone"`
	Images      []string  `json:"images,omitempty"`
	Location    *Location `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToListing converts a complete draft into a listing. It returns false when
// a required field is still missing.
func (d *Draft) ToListing(now time.Time) (Listing, bool) {
	if !d.Complete() || d.Price == nil {
		return Listing{}, false
	}
	l := Listing{
		UserID:      d.UserID,
		Title:       d.Title,
		Description: d.Description,
		City:        d.City,
		District:    d.District,
		Category:    d.Category,
		Price:       *d.Price,
		Currency:    d.Currency,
		Phone:       d.Phone,
		Images:      slices.Clone(d.Images),
		CreatedAt:   now,
	}
	if d.Location != nil {
		loc := *d.Location
		l.Location = &loc
	}
	return l, true
}

// IdempotencyRecord stores the response produced for a client request token
// so a retried request replays it instead of being processed again.
type IdempotencyRecord struct {
	Key       string
	UserID    string
	Response  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its TTL at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
