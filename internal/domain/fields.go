package domain

import "slices"

// Fields is a partial set of draft values yielded by extractors or the
// language model. Zero values mean "no value".
type Fields struct {
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
}

// IsEmpty reports whether f carries no value at all.
func (f Fields) IsEmpty() bool {
	return f.Title == "" && f.Description == "" && f.City == "" && f.District == "" &&
		f.Category == "" && f.Price == nil && f.Currency == "" && f.Phone == "" &&
		len(f.Images) == 0 && f.Location == nil
}

// Has reports whether f carries a value for the field behind step.
func (f Fields) Has(s Step) bool {
	switch s {
	case StepTitle:
		return f.Title != ""
	case StepDescription:
		return f.Description != ""
	case StepCity:
		return f.City != ""
	case StepCategory:
		return f.Category != ""
	case StepPrice:
		return f.Price != nil
	case StepCurrency:
		return f.Currency != ""
	case StepPhone:
		return f.Phone != ""
	case StepImages:
		return len(f.Images) > 0
	case StepLocation:
		return f.Location != nil
	}
	return false
}

// Overlay returns f with every empty value filled from other. Values already
// present in f win.
func (f Fields) Overlay(other Fields) Fields {
	out := f
	if out.Title == "" {
		out.Title = other.Title
	}
	if out.Description == "" {
		out.Description = other.Description
	}
	if out.City == "" {
		out.City = other.City
		if out.District == "" {
			out.District = other.District
		}
	}
	if out.Category == "" {
		out.Category = other.Category
	}
	if out.Price == nil && other.Price != nil {
		out.Price = other.Price
		if out.Currency == "" {
			out.Currency = other.Currency
		}
	}
	if out.Currency == "" && out.Price == nil {
		out.Currency = other.Currency
	}
	if out.Phone == "" {
		out.Phone = other.Phone
	}
	if len(out.Images) == 0 {
		out.Images = other.Images
	}
	if out.Location == nil {
		out.Location = other.Location
	}
	return out
}

// Merge applies f to d additively: empty values never clear a field, a new
// value overwrites the previous one. It recomputes d.Step and returns the
// steps whose field changed.
func Merge(d *Draft, f Fields) []Step {
	var changed []Step
	set := func(s Step, dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = append(changed, s)
		}
	}

	set(StepTitle, &d.Title, f.Title)
	set(StepDescription, &d.Description, f.Description)
	if f.City != "" {
		if f.City != d.City {
			d.City = f.City
			d.District = f.District
			changed = append(changed, StepCity)
		} else if f.District != "" {
			d.District = f.District
		}
	}
	set(StepCategory, &d.Category, f.Category)

	if f.Price != nil && *f.Price > 0 {
		if d.Price == nil || *d.Price != *f.Price {
			p := *f.Price
			d.Price = &p
			changed = append(changed, StepPrice)
		}
		if d.Currency == "" && f.Currency == "" {
			d.Currency = DefaultCurrency
			changed = append(changed, StepCurrency)
		}
	}
	if f.Currency.Valid() && d.Currency != f.Currency {
		d.Currency = f.Currency
		changed = append(changed, StepCurrency)
	}

	set(StepPhone, &d.Phone, f.Phone)

	if len(f.Images) > 0 {
		if d.Editing == StepImages {
			d.Images = nil
		}
		before := len(d.Images)
		for _, u := range f.Images {
			if len(d.Images) >= MaxImages {
				break
			}
			if !slices.Contains(d.Images, u) {
				d.Images = append(d.Images, u)
			}
		}
		if len(d.Images) != before || d.Editing == StepImages {
			changed = append(changed, StepImages)
		}
	}

	if f.Location != nil && f.Location.Valid() {
		if d.Location == nil || *d.Location != *f.Location {
			l := *f.Location
			d.Location = &l
			changed = append(changed, StepLocation)
		}
	}

	if d.Editing != "" && (slices.Contains(changed, d.Editing) || f.Has(d.Editing)) {
		d.Editing = ""
	}
	d.Step = d.NextStep()
	return changed
}
