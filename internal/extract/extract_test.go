package extract

import (
	"errors"
	"testing"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func floatp(f float64) *float64 { return &f }

func TestMerge_RicherFieldMapWins(t *testing.T) {
	html := domain.FieldMap{Title: "Audi A6", Brand: "Audi", Model: "A6"}
	parsed := domain.FieldMap{Title: "Audi A6", Brand: "Audi", Model: "A6", Price: floatp(22000), Currency: "local"}

	merged, err := Merge(html, nil, parsed, true)
	require.NoError(t, err)
	assert.Equal(t, parsed.NonNullCount(), merged.NonNullCount())
	require.NotNil(t, merged.Price)
	assert.Equal(t, 22000.0, *merged.Price)
}

func TestMerge_TiesBreakToHTML(t *testing.T) {
	html := domain.FieldMap{Title: "Audi A6", Brand: "Audi"}
	parsed := domain.FieldMap{Title: "Audi A6", Model: "A6"}

	merged, err := Merge(html, nil, parsed, true)
	require.NoError(t, err)
	assert.Equal(t, "Audi", merged.Brand, "equal field counts should prefer html")
}

func TestMerge_FallsBackToParsedOnHTMLError(t *testing.T) {
	parsed := domain.FieldMap{Brand: "BMW", Model: "3 Series", Price: floatp(10000)}
	merged, err := Merge(domain.FieldMap{}, errors.New("boom"), parsed, true)
	require.NoError(t, err)
	assert.Equal(t, "BMW", merged.Brand)
}

func TestMerge_FailsWhenNeitherSourceUsable(t *testing.T) {
	_, err := Merge(domain.FieldMap{}, errors.New("boom"), domain.FieldMap{}, false)
	require.Error(t, err)
}

func TestValidate_RejectsMissingBrandAndModel(t *testing.T) {
	err := Validate(domain.FieldMap{Price: floatp(5000)})
	require.Error(t, err)
}

func TestValidate_RejectsMissingOrNonPositivePrice(t *testing.T) {
	err := Validate(domain.FieldMap{Brand: "Audi"})
	require.Error(t, err)

	err = Validate(domain.FieldMap{Brand: "Audi", Price: floatp(0)})
	require.Error(t, err)
}

func TestValidate_AcceptsMinimumViableFields(t *testing.T) {
	err := Validate(domain.FieldMap{Model: "A6", Price: floatp(1)})
	require.NoError(t, err)
}

func TestMobileBGExtract_ParsesCoreFields(t *testing.T) {
	html := `
	<h1 class="obshtab title">Audi A6 3.0 TDI</h1>
	<span class="price-value price">22 000</span>
	<div>Година: 2019</div>
	<div>Пробег: 80 000 км</div>
	<img src="https://img.mobile.bg/1.jpg">
	<img src="https://img.mobile.bg/2.jpg">
	Тел: 0888123456
	`
	var e MobileBG
	f, err := e.Extract(html, "https://mobile.bg/ad-1")
	require.NoError(t, err)

	assert.Equal(t, "Audi", f.Brand)
	assert.Equal(t, "A6", f.Model)
	require.NotNil(t, f.Price)
	assert.Equal(t, 22000.0, *f.Price)
	require.NotNil(t, f.Year)
	assert.Equal(t, 2019, *f.Year)
	require.NotNil(t, f.MileageKM)
	assert.Equal(t, 80000, *f.MileageKM)
	assert.Len(t, f.ImageURLs, 2)
	assert.Equal(t, "0888123456", f.Phone)
}
