package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/textnorm"
)

// maxBarePriceDigits is the longest integer part accepted as a price when
// no currency alias backs it. Longer runs are phone numbers or ids.
const maxBarePriceDigits = 8

// Price is an amount with its currency. Explicit is false when the currency
// was defaulted because the text carried no currency alias.
type Price struct {
	Amount   float64
	Currency domain.Currency
	Explicit bool
}

type currencyAlias struct {
	alias    string
	currency domain.Currency
}

// currencyAliases is matched longest first against lowercased text with
// combining marks stripped.
var currencyAliases = func() []currencyAlias {
	list := []currencyAlias{
		{"ريال يمني", domain.CurrencyYER},
		{"ريال سعودي", domain.CurrencySAR},
		{"دولار امريكي", domain.CurrencyUSD},
		{"ريالات", domain.CurrencyYER},
		{"ريال", domain.CurrencyYER},
		{"يمني", domain.CurrencyYER},
		{"ر.ي", domain.CurrencyYER},
		{"yer", domain.CurrencyYER},
		{"rial", domain.CurrencyYER},
		{"دولارات", domain.CurrencyUSD},
		{"دولار", domain.CurrencyUSD},
		{"dollars", domain.CurrencyUSD},
		{"dollar", domain.CurrencyUSD},
		{"usd", domain.CurrencyUSD},
		{"$", domain.CurrencyUSD},
		{"سعودي", domain.CurrencySAR},
		{"ر.س", domain.CurrencySAR},
		{"sar", domain.CurrencySAR},
	}
	sort.SliceStable(list, func(i, j int) bool {
		return utf8.RuneCountInString(list[i].alias) > utf8.RuneCountInString(list[j].alias)
	})
	return list
}()

var prefixCurrencies = []currencyAlias{
	{"$", domain.CurrencyUSD},
	{"usd", domain.CurrencyUSD},
	{"sar", domain.CurrencySAR},
	{"yer", domain.CurrencyYER},
}

var multipliers = []struct {
	word   string
	factor float64
}{
	{"ملايين", 1_000_000},
	{"مليون", 1_000_000},
	{"الاف", 1_000},
	{"الف", 1_000},
	{"k", 1_000},
}

var (
	numberRe     = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d{1,3}(?:\.\d{3}){2,}|\d+(?:\.\d+)?`)
	dotGroupRe   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	urlRe        = regexp.MustCompile(`(?i)https?://\S+`)
	coordPairRe  = regexp.MustCompile(`-?\d{1,3}\.\d+\s*,\s*-?\d{1,3}\.\d+`)
	priceCueRe   = regexp.MustCompile(`(?:^|\s)بـ?\s*\d`)
	priceCueWord = []string{"سعر", "بسعر", "السعر", "سعره", "بسعره", "ثمن", "بثمن", "الثمن", "price", "cost"}
)

// prepare folds digits, lowercases and strips combining marks while keeping
// punctuation that currency aliases rely on.
func prepare(text string) string {
	return textnorm.StripMarks(strings.ToLower(NormalizeDigits(text)))
}

// maskNonPrices blanks URLs, coordinate pairs and phone numbers so their
// digits are not read as prices.
func maskNonPrices(s string) string {
	blank := func(m string) string { return strings.Repeat(" ", len(m)) }
	s = urlRe.ReplaceAllStringFunc(s, blank)
	s = coordPairRe.ReplaceAllStringFunc(s, blank)
	return phoneRunRe.ReplaceAllStringFunc(s, func(run string) string {
		b := []byte(run)
		for _, sp := range phoneSpans(run) {
			copy(b[sp[0]:sp[1]], blank(run[sp[0]:sp[1]]))
		}
		return string(b)
	})
}

// ParsePriceAndCurrency returns the last price mentioned in text, or nil.
// A currency alias may follow the number ("5000 دولار", "300 ر.س") or
// precede it ("$250"). Without an alias the currency defaults to YER.
func ParsePriceAndCurrency(text string) *Price {
	s := maskNonPrices(prepare(text))
	var last *Price
	for _, loc := range numberRe.FindAllStringIndex(s, -1) {
		if p := priceAt(s, loc[0], loc[1]); p != nil {
			last = p
		}
	}
	return last
}

// groupedDigits reports whether raw uses dots as thousands separators:
// "1.500.000" always, "1.500" only when a currency alias follows it
// directly. "2.5" and "1.500 مليون" stay decimals.
func groupedDigits(raw, rest string) bool {
	if !dotGroupRe.MatchString(raw) {
		return false
	}
	if strings.Count(raw, ".") > 1 {
		return true
	}
	_, ok := currencyAt(rest)
	return ok
}

func priceAt(s string, start, end int) *Price {
	raw := s[start:end]
	rest := s[end:]
	if groupedDigits(raw, rest) {
		raw = strings.ReplaceAll(raw, ".", "")
	}
	intPart, _, _ := strings.Cut(raw, ".")
	intDigits := len(strings.ReplaceAll(intPart, ",", ""))

	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || amount <= 0 {
		return nil
	}

	if factor, n := multiplierAt(rest); n > 0 {
		amount *= factor
		rest = rest[n:]
	}

	currency, ok := currencyAt(rest)
	if !ok {
		currency, ok = currencyBefore(s[:start])
	}
	if !ok {
		if intDigits > maxBarePriceDigits {
			return nil
		}
		return &Price{Amount: amount, Currency: domain.DefaultCurrency}
	}
	return &Price{Amount: amount, Currency: currency, Explicit: true}
}

func multiplierAt(rest string) (float64, int) {
	trimmed := strings.TrimLeft(rest, " ")
	skipped := len(rest) - len(trimmed)
	for _, m := range multipliers {
		if strings.HasPrefix(trimmed, m.word) && boundaryAfter(trimmed, len(m.word)) {
			return m.factor, skipped + len(m.word)
		}
	}
	return 0, 0
}

// currencyAt matches a currency alias at the start of rest, ignoring
// leading spaces.
func currencyAt(rest string) (domain.Currency, bool) {
	trimmed := strings.TrimLeft(rest, " ")
	for _, a := range currencyAliases {
		if strings.HasPrefix(trimmed, a.alias) && (a.alias == "$" || boundaryAfter(trimmed, len(a.alias))) {
			return a.currency, true
		}
	}
	return "", false
}

func currencyBefore(head string) (domain.Currency, bool) {
	trimmed := strings.TrimRight(head, " ")
	for _, a := range prefixCurrencies {
		if !strings.HasSuffix(trimmed, a.alias) {
			continue
		}
		if a.alias == "$" {
			return a.currency, true
		}
		before := trimmed[:len(trimmed)-len(a.alias)]
		if r, _ := utf8.DecodeLastRuneInString(before); before == "" || !isWordRune(r) {
			return a.currency, true
		}
	}
	return "", false
}

func boundaryAfter(s string, n int) bool {
	if n >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[n:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// FindCurrency returns the currency named last in text, with or without an
// amount, or "".
func FindCurrency(text string) domain.Currency {
	norm := NormalizeText(text)
	var found domain.Currency
	best := -1
	for _, a := range currencyAliases {
		alias := NormalizeText(a.alias)
		if alias == "" {
			continue
		}
		if i := textnorm.PhraseIndex(norm, alias); i > best {
			best, found = i, a.currency
		}
	}
	if found == "" && strings.Contains(text, "$") {
		return domain.CurrencyUSD
	}
	return found
}

// HasPriceCue reports whether text signals that a number is a price
// ("بسعر 500", "price: 20", "ب5000").
func HasPriceCue(text string) bool {
	for _, tok := range textnorm.Tokens(text) {
		for _, cue := range priceCueWord {
			if tok == cue {
				return true
			}
		}
	}
	return priceCueRe.MatchString(NormalizeDigits(text))
}
