package extract

import (
	"regexp"
	"strings"
)

var (
	validPhoneRe = regexp.MustCompile(`^7[01378]\d{7}$`)
	phoneRunRe   = regexp.MustCompile(`\+?\d[\d \-]{6,}\d`)
	digitGroupRe = regexp.MustCompile(`\+?\d+`)
)

// NormalizePhone keeps the digits of s and strips a leading international
// (00967, +967, 967) or trunk (0) prefix, giving the local 9 digit form.
// It is idempotent.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range NormalizeDigits(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 14 && strings.HasPrefix(d, "00967"):
		return d[5:]
	case len(d) == 12 && strings.HasPrefix(d, "967"):
		return d[3:]
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return d[1:]
	}
	return d
}

// IsValidPhone reports whether s is a Yemeni mobile number.
func IsValidPhone(s string) bool {
	return validPhoneRe.MatchString(NormalizePhone(s))
}

// phoneLike reports whether a digit run looks like a phone number rather
// than a price: a local 9 digit number starting with 7, or a number written
// with a country or trunk prefix.
func phoneLike(run string) bool {
	n := NormalizePhone(run)
	if len(n) != 9 {
		return false
	}
	if n[0] == '7' {
		return true
	}
	trimmed := strings.TrimSpace(run)
	return strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "00") ||
		strings.HasPrefix(trimmed, "967") || strings.HasPrefix(trimmed, "0")
}

// phoneSpans returns the byte spans of phone-like digit group sequences
// inside a digit run, left to right, preferring the longest at each start.
// "5000 771234567" yields only the second group.
func phoneSpans(run string) [][2]int {
	groups := digitGroupRe.FindAllStringIndex(run, -1)
	var spans [][2]int
	for i := 0; i < len(groups); {
		next := i + 1
		for j := len(groups) - 1; j >= i; j-- {
			span := [2]int{groups[i][0], groups[j][1]}
			if phoneLike(run[span[0]:span[1]]) {
				spans = append(spans, span)
				next = j + 1
				break
			}
		}
		i = next
	}
	return spans
}

// FindPhone returns the last phone number in text in normalized form.
// found is true when something phone-like was present; the caller must
// still check IsValidPhone.
func FindPhone(text string) (phone string, found bool) {
	s := urlRe.ReplaceAllString(NormalizeDigits(text), " ")
	for _, run := range phoneRunRe.FindAllString(s, -1) {
		for _, sp := range phoneSpans(run) {
			phone, found = NormalizePhone(run[sp[0]:sp[1]]), true
		}
	}
	return phone, found
}
