// Package extract turns free-form listing messages into candidate draft
// field values. Every function is pure and safe for concurrent use.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/souq-assistant/internal/textnorm"
)

const (
	minTitleLen       = 3
	maxTitleLen       = 80
	minDescriptionLen = 10
	maxDescriptionLen = 2000
)

// NormalizeText lowercases, folds digits, strips diacritics and
// punctuation, and collapses whitespace.
func NormalizeText(s string) string {
	return textnorm.Normalize(s)
}

// NormalizeDigits maps Arabic-Indic digits and separators to ASCII.
func NormalizeDigits(s string) string {
	return textnorm.Digits(s)
}

var (
	imageURLRe = regexp.MustCompile(`(?i)https?://[^\s"'<>]+?\.(?:jpe?g|png|webp|gif|heic)(?:\?[^\s"'<>]*)?(?:\s|$)`)

	currencyWords = `ريال يمني|ريال سعودي|ريالات|ريال|دولارات|دولار|سعودي|يمني|usd|sar|yer|ر\.ي|ر\.س|\$`
	amount        = `\$?\s*\d[\d,.]*\s*(?:k|ألف|الف|آلاف|الاف|مليون)?`
	priceClauseRe = regexp.MustCompile(`(?i)(?:(?:بسعره|بسعر|السعر|سعره|سعر|الثمن|price)\s*[:\-]?\s*` + amount + `\s*(?:` + currencyWords + `)?` +
		`|` + amount + `\s*(?:` + currencyWords + `)` +
		`|\$\s*\d[\d,.]*)`)
	spaceRe = regexp.MustCompile(`\s+`)

	contactCueRe = regexp.MustCompile(`(?i)(?:للتواصل|التواصل|تواصل|للاتصال|اتصال|واتساب|واتس|whatsapp|call)\s*[:\-]?\s*$`)
)

// FindImageURLs returns the http(s) image URLs in text, de-duplicated, in
// order of appearance.
func FindImageURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, m := range imageURLRe.FindAllString(text, -1) {
		u := strings.TrimSpace(m)
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// StripNoise removes URLs, phone numbers and price clauses from text and
// trims separators.
func StripNoise(text string) string {
	s := urlRe.ReplaceAllString(NormalizeDigits(text), " ")
	s = maskPhones(s)
	s = priceClauseRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " \t\n-:،,.")
}

// maskPhones blanks phone numbers together with a contact word right before
// them ("للتواصل 771234567").
func maskPhones(s string) string {
	b := []byte(s)
	for _, loc := range phoneRunRe.FindAllStringIndex(s, -1) {
		run := s[loc[0]:loc[1]]
		for _, sp := range phoneSpans(run) {
			start, end := loc[0]+sp[0], loc[0]+sp[1]
			if m := contactCueRe.FindStringIndex(s[:start]); m != nil {
				start = m[0]
			}
			for i := start; i < end; i++ {
				b[i] = ' '
			}
		}
	}
	return string(b)
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

// ExtractTitle reads the whole message as a listing title once URLs and
// price clauses are removed. It returns "" unless the remainder is 3 to 80
// characters long and contains letters.
func ExtractTitle(text string) string {
	s := StripNoise(text)
	n := utf8.RuneCountInString(s)
	if n < minTitleLen || n > maxTitleLen || !hasLetter(s) {
		return ""
	}
	return s
}

// ExtractDescription reads the whole message as a description of 10 to 2000
// characters.
func ExtractDescription(text string) string {
	s := strings.TrimSpace(urlRe.ReplaceAllString(text, " "))
	s = spaceRe.ReplaceAllString(s, " ")
	n := utf8.RuneCountInString(s)
	if n < minDescriptionLen || n > maxDescriptionLen || !hasLetter(s) {
		return ""
	}
	return s
}
