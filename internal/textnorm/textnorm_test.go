package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5000", Digits("٥٠٠٠"))
	assert.Equal(t, "1,250.5", Digits("١٬٢٥٠٫٥"))
	assert.Equal(t, "0771", Digits("۰۷۷۱"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  إلغاء  ":          "الغاء",
		"مُحَمَّد":           "محمد",
		"سيّارة للبيـــع!!":  "سياره للبيع",
		"Café, PRICE: ٥٠٠":   "cafe price 500",
		"مستشفى":             "مستشفي",
		"edit:price":         "edit price",
		"آلاف\tالريالات\n": "الاف الريالات",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestStem(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "سياره", Stem("السياره"))
	assert.Equal(t, "سياره", Stem("بالسياره"))
	assert.Equal(t, "ال", Stem("ال"))
	assert.Equal(t, "لحم", Stem("اللحم"))
}

func TestPhraseIndex(t *testing.T) {
	t.Parallel()

	text := Normalize("شقة في خور مكسر قريب من خور مكسر")
	assert.Equal(t, 6, PhraseIndex(text, "خور مكسر"))
	assert.True(t, ContainsPhrase(Normalize("بيع السيارة"), "سياره"))
	assert.False(t, ContainsPhrase(text, "كريتر"))
}
