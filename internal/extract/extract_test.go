package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/kb"
)

func TestParsePriceAndCurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		amount   float64
		currency domain.Currency
		explicit bool
	}{
		{"dollar after", "سيارة تويوتا للبيع بسعر 5000 دولار", 5000, domain.CurrencyUSD, true},
		{"arabic digits", "السعر ٧٥٠٠٠ ريال", 75000, domain.CurrencyYER, true},
		{"saudi riyal", "5000 ريال سعودي", 5000, domain.CurrencySAR, true},
		{"saudi abbreviation", "300 ر.س", 300, domain.CurrencySAR, true},
		{"dollar sign before", "only $250 today", 250, domain.CurrencyUSD, true},
		{"usd before", "price USD 1,200", 1200, domain.CurrencyUSD, true},
		{"thousands separator", "بسعر 1,250,000 ريال يمني", 1250000, domain.CurrencyYER, true},
		{"thousands word", "5 آلاف ريال", 5000, domain.CurrencyYER, true},
		{"million word", "2.5 مليون", 2500000, domain.CurrencyYER, false},
		{"k suffix", "15k usd", 15000, domain.CurrencyUSD, true},
		{"bare number defaults to yer", "120000", 120000, domain.CurrencyYER, false},
		{"dot grouped millions", "1.500.000 ريال", 1500000, domain.CurrencyYER, true},
		{"dot grouped bare", "السعر 2.500.000", 2500000, domain.CurrencyYER, false},
		{"dot grouped thousands with currency", "بسعر 1.500 دولار", 1500, domain.CurrencyUSD, true},
		{"decimal with currency", "سعره 2.5 دولار", 2.5, domain.CurrencyUSD, true},
		{"last price wins", "كان 100 دولار والآن 80 دولار", 80, domain.CurrencyUSD, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := ParsePriceAndCurrency(tt.text)
			require.NotNil(t, p)
			assert.Equal(t, tt.amount, p.Amount)
			assert.Equal(t, tt.currency, p.Currency)
			assert.Equal(t, tt.explicit, p.Explicit)
		})
	}
}

func TestParsePriceIgnoresNonPrices(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ParsePriceAndCurrency("لا يوجد سعر"))
	assert.Nil(t, ParsePriceAndCurrency("تواصل 777123456"))
	assert.Nil(t, ParsePriceAndCurrency("https://example.com/img/2024.jpg"))
	assert.Nil(t, ParsePriceAndCurrency("الموقع 15.3694, 44.1910"))
	assert.Nil(t, ParsePriceAndCurrency("رقم الطلب 123456789012"))

	p := ParsePriceAndCurrency("بسعر 5000 للتواصل 771234567")
	require.NotNil(t, p)
	assert.Equal(t, 5000.0, p.Amount)
}

func TestHasPriceCue(t *testing.T) {
	t.Parallel()

	assert.True(t, HasPriceCue("بسعر 500"))
	assert.True(t, HasPriceCue("Price: 20"))
	assert.True(t, HasPriceCue("ب5000"))
	assert.False(t, HasPriceCue("ايفون 13"))
}

func TestFindCurrency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.CurrencyUSD, FindCurrency("دولار"))
	assert.Equal(t, domain.CurrencySAR, FindCurrency("بالريال السعودي"))
	assert.Equal(t, domain.CurrencyYER, FindCurrency("ريال يمني"))
	assert.Equal(t, domain.CurrencyUSD, FindCurrency("in $ please"))
	assert.Equal(t, domain.Currency(""), FindCurrency("مرحبا"))
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"771234567",
		"0771234567",
		"+967 771 234 567",
		"00967771234567",
		"967-771-234-567",
		"٧٧١٢٣٤٥٦٧",
		"12345",
		"0",
		"0967771234567",
	}
	for _, in := range inputs {
		once := NormalizePhone(in)
		assert.Equal(t, once, NormalizePhone(once), "input %q", in)
	}
	assert.Equal(t, "771234567", NormalizePhone("+967 771 234 567"))
	assert.Equal(t, "771234567", NormalizePhone("0771234567"))
}

func TestIsValidPhone(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidPhone("771234567"))
	assert.True(t, IsValidPhone("00967 733 123 456"))
	assert.True(t, IsValidPhone("0711234567"))
	assert.False(t, IsValidPhone("761234567"))
	assert.False(t, IsValidPhone("77123456"))
	assert.False(t, IsValidPhone("01234567"))
}

func TestFindPhone(t *testing.T) {
	t.Parallel()

	phone, found := FindPhone("رقمي 777 123 456 واتساب")
	assert.True(t, found)
	assert.Equal(t, "777123456", phone)

	phone, found = FindPhone("بسعر 5000 771234567")
	assert.True(t, found)
	assert.Equal(t, "771234567", phone)

	phone, found = FindPhone("+967 761234567")
	assert.True(t, found)
	assert.False(t, IsValidPhone(phone))

	_, found = FindPhone("السعر 150000000 ريال")
	assert.False(t, found)
}

func TestParseLocationFromTextOrMeta(t *testing.T) {
	t.Parallel()

	loc := ParseLocationFromTextOrMeta("https://www.google.com/maps/@15.3694,44.1910,15z", nil)
	require.NotNil(t, loc)
	assert.InDelta(t, 15.3694, loc.Lat, 1e-9)
	assert.InDelta(t, 44.1910, loc.Lng, 1e-9)

	loc = ParseLocationFromTextOrMeta("https://maps.google.com/?q=12.7855,45.0187", nil)
	require.NotNil(t, loc)
	assert.InDelta(t, 12.7855, loc.Lat, 1e-9)

	loc = ParseLocationFromTextOrMeta("الموقع ١٥٫٣٥, ٤٤٫٢", nil)
	require.NotNil(t, loc)
	assert.InDelta(t, 44.2, loc.Lng, 1e-9)

	gps := &domain.Location{Lat: 13.58, Lng: 44.02}
	loc = ParseLocationFromTextOrMeta("@15.3694,44.1910", &Meta{GPS: gps})
	require.NotNil(t, loc)
	assert.Equal(t, *gps, *loc)

	assert.Nil(t, ParseLocationFromTextOrMeta("95.1, 44.2", nil))
	assert.Nil(t, ParseLocationFromTextOrMeta("السعر 1,250", nil))
}

func TestFindCityAndDistrict(t *testing.T) {
	t.Parallel()

	cat := kb.Default()

	city, district := FindCityAndDistrict("شقة في خور مكسر", cat)
	assert.Equal(t, "عدن", city)
	assert.Equal(t, "خور مكسر", district)

	city, district = FindCityAndDistrict("موجود في صنعاء حدة", cat)
	assert.Equal(t, "صنعاء", city)
	assert.Equal(t, "حدة", district)

	city, district = FindCityAndDistrict("كنت في عدن والآن في تعز", cat)
	assert.Equal(t, "تعز", city)
	assert.Empty(t, district)

	city, _ = FindCityAndDistrict("بالمكلا", cat)
	assert.Equal(t, "المكلا", city)

	city, _ = FindCityAndDistrict("لا شيء هنا", cat)
	assert.Empty(t, city)
}

func TestDetectCategorySlug(t *testing.T) {
	t.Parallel()

	cat := kb.Default()
	assert.Equal(t, "cars", DetectCategorySlug("سيارة تويوتا للبيع", cat))
	assert.Equal(t, "phones", DetectCategorySlug("ايفون 13 نظيف", cat))
	assert.Equal(t, "", DetectCategorySlug("سيارة أو شقة للبيع", cat))
	assert.Equal(t, "", DetectCategorySlug("للبيع", cat))
}

func TestFindImageURLs(t *testing.T) {
	t.Parallel()

	urls := FindImageURLs("صور: https://cdn.example.com/a.jpg https://cdn.example.com/b.PNG?w=200 https://cdn.example.com/a.jpg https://example.com/page")
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/b.PNG?w=200",
	}, urls)
}

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "سيارة تويوتا للبيع", ExtractTitle("سيارة تويوتا للبيع بسعر 5000 دولار"))
	assert.Equal(t, "ايفون 13 برو", ExtractTitle("ايفون 13 برو"))
	assert.Empty(t, ExtractTitle("ok"))
	assert.Empty(t, ExtractTitle("771234567"))
	assert.Equal(t, "ابيع جوال ايفون 13", ExtractTitle("ابيع جوال ايفون 13 للتواصل 771234567"))
	assert.Equal(t, "غسالة سامسونج", ExtractTitle("غسالة سامسونج 00967771234567"))
}

func TestExtractDescription(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "سيارة نظيفة جدا موديل 2015 ماشية 80 ألف", ExtractDescription("  سيارة نظيفة جدا\nموديل 2015 ماشية 80 ألف "))
	assert.Empty(t, ExtractDescription("قصير"))
}
