// Package kb holds the static marketplace catalog (categories, cities and
// FAQ entries) and the fuzzy matcher that resolves misspelled names against
// it.
package kb

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Category is a listing category.
type Category struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// District is a named area inside a city.
type District struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// City is a city with its districts.
type City struct {
	Name      string     `yaml:"name"`
	Aliases   []string   `yaml:"aliases"`
	Districts []District `yaml:"districts"`
}

// FAQEntry is a canned answer to a frequently asked question.
type FAQEntry struct {
	Question string   `yaml:"question"`
	Aliases  []string `yaml:"aliases"`
	Answer   string   `yaml:"answer"`
}

// Catalog is the parsed knowledge base.
type Catalog struct {
	Categories []Category `yaml:"categories"`
	Cities     []City     `yaml:"cities"`
	FAQ        []FAQEntry `yaml:"faq"`

	matcher        *Matcher
	categoryCands  []Candidate
	placeCands     []Candidate
	placeDistricts []string
	faqCands       []Candidate
}

// Parse decodes a YAML catalog and prepares its match candidates.
func Parse(data []byte, threshold float64) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.matcher = NewMatcher(threshold)
	c.index()
	return &c, nil
}

// Load reads a catalog file. An empty path loads the embedded catalog.
func Load(path string, threshold float64) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog, threshold)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data, threshold)
}

var defaultOnce = sync.OnceValue(func() *Catalog {
	c, err := Parse(defaultCatalog, DefaultThreshold)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
})

// Default returns the embedded catalog with the default threshold.
func Default() *Catalog {
	return defaultOnce()
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Slug == "" || cat.Name == "" {
			return fmt.Errorf("category %d: slug and name are required", i)
		}
		if seen[cat.Slug] {
			return fmt.Errorf("category %q declared twice", cat.Slug)
		}
		seen[cat.Slug] = true
	}
	for i, city := range c.Cities {
		if city.Name == "" {
			return fmt.Errorf("city %d: name is required", i)
		}
		for j, d := range city.Districts {
			if d.Name == "" {
				return fmt.Errorf("city %q district %d: name is required", city.Name, j)
			}
		}
	}
	for i, f := range c.FAQ {
		if f.Question == "" || f.Answer == "" {
			return fmt.Errorf("faq %d: question and answer are required", i)
		}
	}
	return nil
}

func (c *Catalog) index() {
	for _, cat := range c.Categories {
		c.categoryCands = append(c.categoryCands, Candidate{
			ID:      cat.Slug,
			Label:   cat.Name,
			Aliases: append([]string{strings.ReplaceAll(cat.Slug, "-", " ")}, cat.Aliases...),
		})
	}
	// Districts come first so that "خور مكسر عدن" resolves to the district.
	for _, city := range c.Cities {
		for _, d := range city.Districts {
			c.placeCands = append(c.placeCands, Candidate{ID: city.Name, Label: d.Name, Aliases: d.Aliases})
			c.placeDistricts = append(c.placeDistricts, d.Name)
		}
	}
	for _, city := range c.Cities {
		c.placeCands = append(c.placeCands, Candidate{ID: city.Name, Label: city.Name, Aliases: city.Aliases})
		c.placeDistricts = append(c.placeDistricts, "")
	}
	for i, f := range c.FAQ {
		c.faqCands = append(c.faqCands, Candidate{ID: fmt.Sprint(i), Label: f.Question, Aliases: f.Aliases})
	}
}

// Matcher returns the catalog's matcher.
func (c *Catalog) Matcher() *Matcher {
	return c.matcher
}

// CategoryBySlug looks up a category.
func (c *Catalog) CategoryBySlug(slug string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}

// CategoryName returns the display name for slug, or slug itself.
func (c *Catalog) CategoryName(slug string) string {
	if cat, ok := c.CategoryBySlug(slug); ok {
		return cat.Name
	}
	return slug
}

// ResolveCategory fuzzy-matches query against category names and aliases
// and returns the category slug, or "".
func (c *Catalog) ResolveCategory(query string) string {
	if m := c.matcher.FindBestMatch(query, c.categoryCands); m != nil {
		return m.ID
	}
	return ""
}

// ResolveCity fuzzy-matches query against cities and districts. A matched
// district also yields its city.
func (c *Catalog) ResolveCity(query string) (city, district string) {
	idx, _ := c.matcher.best(query, c.placeCands)
	if idx < 0 {
		return "", ""
	}
	return c.placeCands[idx].ID, c.placeDistricts[idx]
}

// AnswerFAQ returns the answer of the FAQ entry matching query.
func (c *Catalog) AnswerFAQ(query string) (string, bool) {
	idx, _ := c.matcher.best(query, c.faqCands)
	if idx < 0 {
		return "", false
	}
	return c.FAQ[idx].Answer, true
}
