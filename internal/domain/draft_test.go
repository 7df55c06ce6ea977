package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func firstUnfilled(d *Draft) Step {
	for _, s := range StepOrder {
		if s.IsField() && !d.Filled(s) {
			return s
		}
	}
	return StepConfirm
}

func TestNewDraftStartsAtTitle(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	assert.Equal(t, StepTitle, d.Step)
	assert.True(t, d.IsEmpty())
	assert.False(t, d.Complete())
}

func TestMergeIsAdditiveOnly(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	Merge(d, Fields{Title: "Toyota Hilux", Price: price(5000), Currency: CurrencyUSD})
	before := d.Clone()

	changed := Merge(d, Fields{})
	assert.Empty(t, changed)
	assert.Equal(t, before.Title, d.Title)
	require.NotNil(t, d.Price)
	assert.Equal(t, 5000.0, *d.Price)
	assert.Equal(t, CurrencyUSD, d.Currency)
}

func TestMergeBarePriceDefaultsToYER(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	changed := Merge(d, Fields{Price: price(120000)})
	assert.Contains(t, changed, StepPrice)
	assert.Contains(t, changed, StepCurrency)
	assert.Equal(t, CurrencyYER, d.Currency)
}

func TestMergeBarePriceKeepsExistingCurrency(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	Merge(d, Fields{Price: price(100), Currency: CurrencySAR})
	Merge(d, Fields{Price: price(250)})
	assert.Equal(t, CurrencySAR, d.Currency)
	assert.Equal(t, 250.0, *d.Price)
}

func TestStepIsFirstUnfilledAfterEveryMerge(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	steps := []Fields{
		{Price: price(10)},
		{Title: "Sofa set"},
		{City: "صنعاء", District: "حده"},
		{Description: "Seven seat sofa in good condition"},
		{Category: "furniture"},
		{Phone: "771234567"},
		{Images: []string{"https://cdn.example.com/a.jpg"}},
		{Location: &Location{Lat: 15.35, Lng: 44.2}},
	}
	for _, f := range steps {
		Merge(d, f)
		assert.Equal(t, firstUnfilled(d), d.Step)
	}
	assert.Equal(t, StepConfirm, d.Step)
	assert.True(t, d.Complete())
}

func TestSkipOnlyOptionalSteps(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	assert.False(t, d.Skip(StepTitle))
	assert.True(t, d.Skip(StepImages))
	assert.True(t, d.Filled(StepImages))
	assert.Equal(t, StepTitle, d.Step)
}

func TestEditJumpsBackAndClearsOnNewValue(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	Merge(d, Fields{Title: "Old title", Description: "A long enough description"})
	require.Equal(t, StepCity, d.Step)

	d.StartEdit(StepTitle)
	assert.Equal(t, StepTitle, d.Step)
	assert.Equal(t, StepTitle, d.NextStep())

	Merge(d, Fields{Title: "New title"})
	assert.Equal(t, "New title", d.Title)
	assert.Empty(t, d.Editing)
	assert.Equal(t, StepCity, d.Step)
}

func TestEditImagesReplacesList(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	Merge(d, Fields{Images: []string{"https://x/a.jpg", "https://x/b.jpg"}})
	d.StartEdit(StepImages)
	Merge(d, Fields{Images: []string{"https://x/c.jpg"}})
	assert.Equal(t, []string{"https://x/c.jpg"}, d.Images)
}

func TestMergeCapsImages(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	var urls []string
	for i := 0; i < MaxImages+5; i++ {
		urls = append(urls, "https://x/"+string(rune('a'+i))+".jpg")
	}
	Merge(d, Fields{Images: urls})
	assert.Len(t, d.Images, MaxImages)
}

func TestCityChangeResetsDistrict(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	Merge(d, Fields{City: "صنعاء", District: "حده"})
	Merge(d, Fields{City: "عدن"})
	assert.Equal(t, "عدن", d.City)
	assert.Empty(t, d.District)
}

func TestOverlayPrefersReceiver(t *testing.T) {
	t.Parallel()

	direct := Fields{Price: price(5000), Currency: CurrencyUSD}
	model := Fields{Price: price(9999), Currency: CurrencySAR, Title: "Car"}
	got := direct.Overlay(model)
	assert.Equal(t, 5000.0, *got.Price)
	assert.Equal(t, CurrencyUSD, got.Currency)
	assert.Equal(t, "Car", got.Title)
}

func TestToListingRequiresCompleteDraft(t *testing.T) {
	t.Parallel()

	d := NewDraft("u1")
	_, ok := d.ToListing(d.UpdatedAt)
	assert.False(t, ok)
}
