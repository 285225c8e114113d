package dedupe

import (
	"math"
	"strings"
)

// trigrams returns the set of 3-character shingles of a normalized string,
// the Go equivalent of the pg_trgm signatures original_source relies on
// (workers/pipeline/tasks/dedupe.py's DeduplicationEngine.check_text_similarity).
func trigrams(s string) map[string]bool {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	out := map[string]bool{}
	runes := []rune(s)
	if len(runes) < 3 {
		if len(runes) > 0 {
			out[string(runes)] = true
		}
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = true
	}
	return out
}

// TitleSignature computes the trigram shingle signature persisted as
// DedupeSignature.TitleTrigram, a sorted, space-joined rendering of the
// 3-gram set so equal titles always produce equal strings.
func TitleSignature(title string) string {
	set := trigrams(title)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sortStrings(out)
	return strings.Join(out, " ")
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// trigramSimilarity returns the Jaccard similarity between two titles' 3-gram
// shingle sets, used for the Deduplicator's title-similarity tier (spec §4.5
// tier 3).
func trigramSimilarity(a, b string) float64 {
	setA := trigrams(a)
	setB := trigrams(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// cosineSimilarity computes the cosine similarity between two equal-length
// embedding vectors, used for the Deduplicator's optional embedding tier
// (spec §4.5 tier 4).
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
