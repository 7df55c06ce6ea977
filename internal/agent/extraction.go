package agent

import (
	"log/slog"
	"strings"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/extract"
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/llm"
)

// extraction is what the lexical extractors found in one message.
type extraction struct {
	fields   domain.Fields
	problems []string
}

// guard runs fn and turns a panic into "no value".
func guard(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			extractorPanicsTotal.WithLabelValues(name).Inc()
			logger.Error("Extractor panicked", "extractor", name, "panic", r)
		}
	}()
	fn()
}

// extractDirect runs every lexical extractor over text. Step-dependent rules
// use step, the field the dialogue is currently asking for.
func extractDirect(logger *slog.Logger, catalog *kb.Catalog, text string, meta *extract.Meta, step domain.Step) extraction {
	var ex extraction
	f := &ex.fields

	guard(logger, "price", func() {
		p := extract.ParsePriceAndCurrency(text)
		if p == nil || p.Amount <= 0 {
			return
		}
		if p.Explicit || step == domain.StepPrice || extract.HasPriceCue(text) {
			amount := p.Amount
			f.Price = &amount
			if p.Explicit {
				f.Currency = p.Currency
			}
		}
	})

	guard(logger, "currency", func() {
		if f.Currency != "" || (step != domain.StepCurrency && step != domain.StepPrice) {
			return
		}
		f.Currency = extract.FindCurrency(text)
	})

	guard(logger, "phone", func() {
		phone, found := extract.FindPhone(text)
		switch {
		case found && extract.IsValidPhone(phone):
			f.Phone = phone
		case found:
			ex.problems = append(ex.problems, msgInvalidPhone)
		case step == domain.StepPhone && countDigits(text) >= 5 && f.Price == nil:
			ex.problems = append(ex.problems, msgInvalidPhone)
		}
	})

	guard(logger, "images", func() {
		urls := extract.FindImageURLs(text)
		if meta != nil {
			for _, u := range meta.Images {
				if isHTTPURL(u) {
					urls = append(urls, u)
				}
			}
		}
		f.Images = dedupe(urls)
	})

	guard(logger, "location", func() {
		f.Location = extract.ParseLocationFromTextOrMeta(text, meta)
	})

	guard(logger, "city", func() {
		f.City, f.District = extract.FindCityAndDistrict(text, catalog)
		if f.City == "" && step == domain.StepCity {
			f.City, f.District = catalog.ResolveCity(text)
		}
	})

	guard(logger, "category", func() {
		f.Category = extract.DetectCategorySlug(text, catalog)
		if f.Category == "" && step == domain.StepCategory {
			f.Category = catalog.ResolveCategory(text)
		}
	})

	return ex
}

// extractContextual reads the whole message as the free-text field the
// dialogue is asking for. It runs after the FAQ check.
func extractContextual(logger *slog.Logger, text, normalized string, step domain.Step, found domain.Fields) domain.Fields {
	var f domain.Fields
	if isChatter(normalized) {
		return f
	}
	switch step {
	case domain.StepTitle:
		guard(logger, "title", func() {
			title := extract.ExtractTitle(text)
			if title == "" {
				return
			}
			// A lone city or category word is not a title.
			if len(strings.Fields(title)) == 1 && (found.City != "" || found.Category != "") {
				return
			}
			f.Title = title
		})
	case domain.StepDescription:
		guard(logger, "description", func() {
			if extract.ExtractDescription(extract.StripNoise(text)) == "" {
				return
			}
			f.Description = extract.ExtractDescription(text)
		})
	}
	return f
}

// fromModel revalidates model output with the same rules applied to
// directly extracted values. Anything that fails is dropped.
func fromModel(raw *llm.RawFields, catalog *kb.Catalog, message string) domain.Fields {
	var f domain.Fields
	if raw == nil {
		return f
	}

	f.Title = extract.ExtractTitle(raw.Title)
	f.Description = extract.ExtractDescription(raw.Description)

	if raw.City != "" {
		f.City, f.District = extract.FindCityAndDistrict(strings.TrimSpace(raw.City+" "+raw.District), catalog)
		if f.City == "" {
			f.City, f.District = catalog.ResolveCity(raw.City)
		}
		if f.City != "" && f.District == "" && raw.District != "" {
			if city, district := catalog.ResolveCity(raw.District); city == f.City {
				f.District = district
			}
		}
	}

	if raw.Category != "" {
		if _, ok := catalog.CategoryBySlug(strings.ToLower(strings.TrimSpace(raw.Category))); ok {
			f.Category = strings.ToLower(strings.TrimSpace(raw.Category))
		} else {
			f.Category = catalog.ResolveCategory(raw.Category)
		}
	}

	if raw.Price != "" {
		if p := extract.ParsePriceAndCurrency(string(raw.Price)); p != nil && p.Amount > 0 {
			amount := p.Amount
			f.Price = &amount
			if p.Explicit {
				f.Currency = p.Currency
			}
		}
	}
	if c := domain.Currency(strings.ToUpper(strings.TrimSpace(raw.Currency))); c.Valid() {
		f.Currency = c
	} else if raw.Currency != "" {
		if c := extract.FindCurrency(raw.Currency); c != "" {
			f.Currency = c
		}
	}

	if phone := extract.NormalizePhone(string(raw.Phone)); extract.IsValidPhone(phone) {
		f.Phone = phone
	}

	// Only URLs the user actually sent are kept.
	for _, u := range extract.FindImageURLs(strings.Join(raw.Images, " ")) {
		if strings.Contains(message, u) {
			f.Images = append(f.Images, u)
		}
	}

	if raw.Lat != nil && raw.Lng != nil {
		loc := domain.Location{Lat: *raw.Lat, Lng: *raw.Lng}
		if loc.Valid() {
			f.Location = &loc
		}
	}
	return f
}

func countDigits(s string) int {
	n := 0
	for _, r := range extract.NormalizeDigits(s) {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func isHTTPURL(u string) bool {
	l := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "http://")
}

func dedupe(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
