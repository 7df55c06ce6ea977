// Package domain contains core domain types for the listing assistant.
package domain

import (
	"slices"
	"time"
)

// MaxImages caps the number of image URLs kept on a draft.
const MaxImages = 10

// Step identifies the field the dialogue is currently collecting.
type Step string

const (
	StepTitle       Step = "title"
	StepDescription Step = "description"
	StepCity        Step = "city"
	StepCategory    Step = "category"
	StepPrice       Step = "price"
	StepCurrency    Step = "currency"
	StepPhone       Step = "phone"
	StepImages      Step = "images"
	StepLocation    Step = "location"
	StepConfirm     Step = "confirm"

	// StepPublished and StepCancelled are terminal response states. They are
	// reported to the client but never stored on a draft.
	StepPublished Step = "published"
	StepCancelled Step = "cancelled"
)

// StepOrder is the canonical order in which fields are collected.
var StepOrder = []Step{
	StepTitle,
	StepDescription,
	StepCity,
	StepCategory,
	StepPrice,
	StepCurrency,
	StepPhone,
	StepImages,
	StepLocation,
	StepConfirm,
}

// IsOptional reports whether a step may be skipped by the user.
func (s Step) IsOptional() bool {
	return s == StepImages || s == StepLocation
}

// IsField reports whether the step maps to a draft field (everything but
// confirm and the terminal states).
func (s Step) IsField() bool {
	switch s {
	case StepConfirm, StepPublished, StepCancelled, "":
		return false
	}
	return slices.Contains(StepOrder, s)
}

// ParseStep returns the step with the given English name.
func ParseStep(name string) (Step, bool) {
	s := Step(name)
	if slices.Contains(StepOrder, s) {
		return s, true
	}
	return "", false
}

// Currency is one of the supported ISO currency codes.
type Currency string

const (
	CurrencyYER Currency = "YER"
	CurrencyUSD Currency = "USD"
	CurrencySAR Currency = "SAR"
)

// DefaultCurrency applies when a price is given without a currency.
const DefaultCurrency = CurrencyYER

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyYER, CurrencyUSD, CurrencySAR:
		return true
	}
	return false
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are within range and not the
// null island placeholder some clients send.
func (l Location) Valid() bool {
	if l.Lat == 0 && l.Lng == 0 {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Draft is the partially completed listing being built through dialogue.
// There is at most one draft per user.
type Draft struct {
	UserID      string    `json:"user_id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	City        string    `json:"city,omitempty"`
	District    string    `json:"district,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Currency    Currency  `json:"currency,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Step        Step      `json:"step"`
	Editing     Step      `json:"editing,omitempty"`
	Skipped     []Step    `json:"skipped,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewDraft returns the empty default draft for a user.
func NewDraft(userID string) *Draft {
	return &Draft{UserID: userID, Step: StepTitle}
}

// IsEmpty reports whether no field has been collected yet.
func (d *Draft) IsEmpty() bool {
	for _, s := range StepOrder {
		if s.IsField() && d.Filled(s) {
			return false
		}
	}
	return true
}

// Filled reports whether the field behind step has a value. Skipped optional
// steps count as filled.
func (d *Draft) Filled(s Step) bool {
	switch s {
	case StepTitle:
		return d.Title != ""
	case StepDescription:
		return d.Description != ""
	case StepCity:
		return d.City != ""
	case StepCategory:
		return d.Category != ""
	case StepPrice:
		return d.Price != nil
	case StepCurrency:
		return d.Currency != ""
	case StepPhone:
		return d.Phone != ""
	case StepImages:
		return len(d.Images) > 0 || d.IsSkipped(StepImages)
	case StepLocation:
		return d.Location != nil || d.IsSkipped(StepLocation)
	}
	return false
}

// IsSkipped reports whether the user skipped an optional step.
func (d *Draft) IsSkipped(s Step) bool {
	return slices.Contains(d.Skipped, s)
}

// Complete reports whether every field step is filled.
func (d *Draft) Complete() bool {
	for _, s := range StepOrder {
		if s.IsField() && !d.Filled(s) {
			return false
		}
	}
	return true
}

// NextStep returns the step the dialogue should ask for: the field being
// edited if any, else the first unfilled field, else confirm.
func (d *Draft) NextStep() Step {
	if d.Editing != "" {
		return d.Editing
	}
	for _, s := range StepOrder {
		if s.IsField() && !d.Filled(s) {
			return s
		}
	}
	return StepConfirm
}

// Skip marks an optional step as skipped. It returns false for required
// steps.
func (d *Draft) Skip(s Step) bool {
	if !s.IsOptional() {
		return false
	}
	if !d.IsSkipped(s) {
		d.Skipped = append(d.Skipped, s)
	}
	if d.Editing == s {
		d.Editing = ""
	}
	d.Step = d.NextStep()
	return true
}

// StartEdit jumps back to a field so it is asked again even though it
// already has a value.
func (d *Draft) StartEdit(s Step) {
	if !s.IsField() {
		return
	}
	d.Skipped = slices.DeleteFunc(d.Skipped, func(x Step) bool { return x == s })
	d.Editing = s
	d.Step = s
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	if d.Price != nil {
		p := *d.Price
		c.Price = &p
	}
	if d.Location != nil {
		l := *d.Location
		c.Location = &l
	}
	c.Images = slices.Clone(d.Images)
	c.Skipped = slices.Clone(d.Skipped)
	return &c
}
