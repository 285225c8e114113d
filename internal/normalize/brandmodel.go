package normalize

import "strings"

// jaccardSimilar reports whether two space-split token sets meet the
// similarity threshold, grounded on original_source's
// BrandModelNormalizer._is_similar: intersection / union over space-split
// tokens.
func jaccardSimilar(a, b string, threshold float64) bool {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return false
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return false
	}
	return float64(intersection)/float64(union) >= threshold
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(strings.TrimSpace(s))) {
		out[tok] = true
	}
	return out
}

// cleanText mirrors BrandModelNormalizer._clean_text: collapse whitespace,
// lowercase, strip anything that isn't a word character, space, or hyphen.
func cleanText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = stripNonWord(f)
	}
	return strings.Join(fields, " ")
}

func stripNonWord(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '-' || r == '_' || isWordRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 'а' && r <= 'я') || r == 'ѝ'
}
