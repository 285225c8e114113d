package normalize

import "strings"

// fuelSynonyms, gearboxSynonyms, and bodySynonyms are the locale-aware
// synonym tables used to canonicalize free-text field values (spec §4.4
// step 3), mirroring the Bulgarian-locale mappings the pipeline ships with.
// Keyed by lowercase locale; add a locale's map to extend coverage without
// touching the lookup logic.
var fuelSynonyms = map[string]map[string]string{
	"bg": {
		"дизел":   "diesel",
		"diesel":  "diesel",
		"бензин":  "petrol",
		"petrol":  "petrol",
		"gasoline": "petrol",
		"газ":     "lpg",
		"lpg":     "lpg",
		"cng":     "cng",
		"електро": "electric",
		"electric": "electric",
		"хибрид":  "hybrid",
		"hybrid":  "hybrid",
	},
}

var gearboxSynonyms = map[string]map[string]string{
	"bg": {
		"автоматична":    "automatic",
		"automatic":      "automatic",
		"auto":           "automatic",
		"ръчна":          "manual",
		"manual":         "manual",
		"полуавтоматична": "semi-automatic",
		"semi-automatic":  "semi-automatic",
	},
}

var bodySynonyms = map[string]map[string]string{
	"bg": {
		"седан":   "sedan",
		"sedan":   "sedan",
		"хечбек":  "hatchback",
		"hatchback": "hatchback",
		"комби":   "wagon",
		"wagon":   "wagon",
		"estate":  "wagon",
		"джип":    "suv",
		"suv":     "suv",
		"кабрио":  "convertible",
		"convertible": "convertible",
		"купе":    "coupe",
		"coupe":   "coupe",
		"ван":     "van",
		"van":     "van",
		"пикап":   "pickup",
		"pickup":  "pickup",
	},
}

func lookupSynonym(table map[string]map[string]string, locale, value string) string {
	if value == "" {
		return ""
	}
	locale = strings.ToLower(strings.TrimSpace(locale))
	byLocale, ok := table[locale]
	if !ok {
		return ""
	}
	return byLocale[strings.ToLower(strings.TrimSpace(value))]
}

// NormalizeFuel canonicalizes a fuel string for the given locale. Unknown
// values return "" (the Normalizer sets the field to null, never an error).
func NormalizeFuel(locale, value string) string { return lookupSynonym(fuelSynonyms, locale, value) }

// NormalizeGearbox canonicalizes a gearbox string for the given locale.
func NormalizeGearbox(locale, value string) string { return lookupSynonym(gearboxSynonyms, locale, value) }

// NormalizeBody canonicalizes a body-type string for the given locale.
func NormalizeBody(locale, value string) string { return lookupSynonym(bodySynonyms, locale, value) }
