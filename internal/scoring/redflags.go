package scoring

import (
	"strings"
	"time"
)

// Red-flag keyword families, localized for the Bulgarian target market
// (spec §12 "Supplemented features": literal lists from
// original_source/libs/domain/market_aware_scoring.py's RedFlag class).
var (
	leasingKeywords = []string{
		"лизинг", "лиз.", "leasing", "месечна вноска", "първоначална вноска",
		"авансово", "на вноски", "кредит", "финансиране",
	}
	rightHandDriveKeywords = []string{
		"десен волан", "дясна кормилница", "right hand", "rhd", "английски",
		"от англия", "japanese", "от япония",
	}
	notInBulgariaKeywords = []string{
		"внос", "увоз", "германия", "deutschland", "франция", "италия",
		"холандия", "нидерландия", "czech", "чехия", "от чужбина",
		"на път", "идва", "очаква се",
	}
	accidentKeywords = []string{
		"катастрофирал", "удряна", "ударен", "счупен", "повредена",
		"за части", "за ремонт", "без документи", "без регистрация",
	}
	suspiciousPhrases = []string{
		"спешно", "бърза продажба", "навлизам", "напускам държавата",
		"не отговарям на смс", "само обаждане", "последна цена",
	}

	premiumBrands = map[string]bool{
		"bmw": true, "mercedes": true, "mercedes-benz": true, "audi": true, "lexus": true,
	}
)

// detectLeasing fires on a leasing/financing keyword, or the heuristic
// secondary check: a premium brand at a near-new year priced implausibly low.
func detectLeasing(description string, price float64, year int, brand string) string {
	lower := strings.ToLower(description)
	for _, kw := range leasingKeywords {
		if strings.Contains(lower, kw) {
			return "leasing detected"
		}
	}

	currentYear := time.Now().UTC().Year()
	if year >= currentYear-2 && price > 0 && price < 20000 && premiumBrands[strings.ToLower(brand)] {
		return "leasing detected"
	}
	return ""
}

func detectRightHandDrive(description, title string) string {
	combined := strings.ToLower(description + " " + title)
	for _, kw := range rightHandDriveKeywords {
		if strings.Contains(combined, kw) {
			return "right-hand drive"
		}
	}
	return ""
}

func detectNotInBulgaria(description, title string) string {
	combined := strings.ToLower(description + " " + title)
	for _, kw := range notInBulgariaKeywords {
		if strings.Contains(combined, kw) {
			return "not yet imported"
		}
	}
	return ""
}

func detectAccidentDamage(description string) string {
	lower := strings.ToLower(description)
	for _, kw := range accidentKeywords {
		if strings.Contains(lower, kw) {
			return "accident or salvage damage"
		}
	}
	return ""
}

func detectSuspiciousLanguage(description string) string {
	lower := strings.ToLower(description)
	count := 0
	for _, phrase := range suspiciousPhrases {
		if strings.Contains(lower, phrase) {
			count++
		}
	}
	if count >= 2 {
		return "urgency/pressure language"
	}
	return ""
}

// checkRedFlags runs every family in spec §4.7 step 1's order and returns
// every flag that fired. The Scorer treats the first entry as the blocking
// reason.
func checkRedFlags(title, description string, price float64, year int, brand string) []string {
	var flags []string
	for _, f := range []string{
		detectLeasing(description, price, year, brand),
		detectRightHandDrive(description, title),
		detectNotInBulgaria(description, title),
		detectAccidentDamage(description),
		detectSuspiciousLanguage(description),
	} {
		if f != "" {
			flags = append(flags, f)
		}
	}
	return flags
}
