package normalize

import "strings"

// CanonicalCurrency is the currency every stored price is converted into.
const CanonicalCurrency = "local"

// fxRates converts a source currency into CanonicalCurrency, grounded on
// original_source's FieldNormalizer.convert_price_to_bgn rate table (the
// teacher's "local" currency is BGN; the rates are the same approximate
// pegs). "local" itself always maps to 1.0.
var fxRates = map[string]float64{
	"local": 1.0,
	"bgn":   1.0,
	"eur":   1.96,
	"usd":   1.80,
}

// ConvertPrice converts amount in currency into CanonicalCurrency. Unknown
// currencies fall back to a 1:1 rate rather than erroring -- a missing FX
// rate is a data-quality issue the Scorer downstream treats no worse than
// a currency that genuinely trades at parity.
func ConvertPrice(amount float64, currency string) float64 {
	rate, ok := fxRates[strings.ToLower(strings.TrimSpace(currency))]
	if !ok {
		rate = 1.0
	}
	return round2(amount * rate)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
