// Package textnorm normalizes Arabic and Latin user text before matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Digits maps Arabic-Indic and Extended Arabic-Indic digits to ASCII and the
// Arabic thousands/decimal separators to ',' and '.'. Everything else is
// left untouched.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r == '٬':
			return ','
		case r == '٫':
			return '.'
		}
		return r
	}, s)
}

// StripMarks removes combining marks (Arabic tashkeel, hamza and madda
// carried by alef/waw/yeh, Latin accents).
func StripMarks(s string) string {
	// transform.Chain is stateful, so a fresh chain is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases, folds digits, strips diacritics, unifies common
// Arabic letter variants, turns punctuation into spaces and collapses
// whitespace.
func Normalize(s string) string {
	s = StripMarks(strings.ToLower(Digits(s)))
	s = strings.Map(func(r rune) rune {
		switch r {
		case 'ـ':
			return -1
		case 'ى':
			return 'ي'
		case 'ة':
			return 'ه'
		case 'ٱ':
			return 'ا'
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the whitespace separated tokens of Normalize(s).
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

var articlePrefixes = []string{"وال", "بال", "فال", "كال", "لل", "ال"}

// Stem drops a leading Arabic definite article (optionally preceded by a
// one-letter conjunction or preposition) when enough of the word remains.
func Stem(token string) string {
	for _, p := range articlePrefixes {
		if rest, ok := strings.CutPrefix(token, p); ok && len([]rune(rest)) >= 3 {
			return rest
		}
	}
	return token
}

// ContainsPhrase reports whether the normalized text contains phrase as a
// whole-token sequence.
func ContainsPhrase(normalized, phrase string) bool {
	return PhraseIndex(normalized, phrase) >= 0
}

// PhraseIndex returns the token index of the last whole-token occurrence of
// phrase in normalized text, comparing stemmed tokens, or -1.
func PhraseIndex(normalized, phrase string) int {
	text := strings.Fields(normalized)
	want := strings.Fields(phrase)
	if len(want) == 0 || len(want) > len(text) {
		return -1
	}
	last := -1
	for i := 0; i+len(want) <= len(text); i++ {
		match := true
		for j, w := range want {
			tok := text[i+j]
			if tok != w && Stem(tok) != Stem(w) {
				match = false
				break
			}
		}
		if match {
			last = i
		}
	}
	return last
}
