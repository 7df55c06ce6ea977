package extract

import (
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/textnorm"
)

// FindCityAndDistrict matches text against the catalog's city and district
// names. A district implies its city and beats a bare city; between equally
// specific matches the last one in the text wins.
func FindCityAndDistrict(text string, cat *kb.Catalog) (city, district string) {
	norm := NormalizeText(text)
	if norm == "" || cat == nil {
		return "", ""
	}
	bestRank, bestPos := 0, -1
	consider := func(rank int, names []string, c, d string) {
		for _, n := range names {
			pos := textnorm.PhraseIndex(norm, NormalizeText(n))
			if pos < 0 {
				continue
			}
			if rank > bestRank || (rank == bestRank && pos > bestPos) {
				bestRank, bestPos = rank, pos
				city, district = c, d
			}
		}
	}
	for _, c := range cat.Cities {
		consider(1, append([]string{c.Name}, c.Aliases...), c.Name, "")
		for _, d := range c.Districts {
			consider(2, append([]string{d.Name}, d.Aliases...), c.Name, d.Name)
		}
	}
	return city, district
}

// DetectCategorySlug returns the slug of the only category named in text.
// It returns "" when no category or more than one is mentioned.
func DetectCategorySlug(text string, cat *kb.Catalog) string {
	norm := NormalizeText(text)
	if norm == "" || cat == nil {
		return ""
	}
	found := ""
	for _, c := range cat.Categories {
		names := append([]string{c.Name}, c.Aliases...)
		for _, n := range names {
			if textnorm.ContainsPhrase(norm, NormalizeText(n)) {
				if found != "" && found != c.Slug {
					return ""
				}
				found = c.Slug
				break
			}
		}
	}
	return found
}
