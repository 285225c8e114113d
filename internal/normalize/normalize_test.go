package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFuel(t *testing.T) {
	assert.Equal(t, "diesel", NormalizeFuel("bg", "Дизел"))
	assert.Equal(t, "diesel", NormalizeFuel("bg", "diesel"))
	assert.Equal(t, "", NormalizeFuel("bg", "unknown-fuel"))
	assert.Equal(t, "", NormalizeFuel("fr", "diesel"), "no fr locale table registered")
}

func TestNormalizeGearbox(t *testing.T) {
	assert.Equal(t, "automatic", NormalizeGearbox("bg", "автоматична"))
	assert.Equal(t, "manual", NormalizeGearbox("bg", "Ръчна"))
}

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "hatchback", NormalizeBody("bg", "хечбек"))
	assert.Equal(t, "suv", NormalizeBody("bg", "джип"))
}

func TestJaccardSimilar(t *testing.T) {
	assert.True(t, jaccardSimilar("3 series", "3 series 320i", 0.3))
	assert.False(t, jaccardSimilar("a6", "x5", 0.8))
	assert.False(t, jaccardSimilar("", "a6", 0.8))
}

func TestConvertPrice(t *testing.T) {
	assert.Equal(t, 1000.0, ConvertPrice(1000, "local"))
	assert.Equal(t, 1960.0, ConvertPrice(1000, "EUR"))
	assert.Equal(t, 1800.0, ConvertPrice(1000, "USD"))
	assert.Equal(t, 1000.0, ConvertPrice(1000, "unknown-currency"))
}

func TestDescriptionHash_StableAcrossWhitespaceAndCase(t *testing.T) {
	a := DescriptionHash("Great  Car   For Sale")
	b := DescriptionHash("great car for sale")
	assert.Equal(t, a, b)

	c := DescriptionHash("Different description")
	assert.NotEqual(t, a, c)
}

func TestValidateYear(t *testing.T) {
	y2019 := 2019
	got := validateYear(&y2019)
	assert.NotNil(t, got)
	assert.Equal(t, 2019, *got)

	y1800 := 1800
	assert.Nil(t, validateYear(&y1800))

	assert.Nil(t, validateYear(nil))
}

func TestValidateMileage(t *testing.T) {
	km := 80000
	got := validateMileage(&km)
	assert.NotNil(t, got)

	tooHigh := 2_000_000
	assert.Nil(t, validateMileage(&tooHigh))
}
