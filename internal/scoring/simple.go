package scoring

import (
	"math"
	"strings"
	"time"
)

// SimplePriceOnlyScorer is the abstract baseline named in spec §9's Open
// Question, grounded on original_source/libs/domain/simple_scoring.py's
// SimpleRatingEngine. It judges a listing purely from price-vs-expected-range
// heuristics, without any database comparables lookup. It is never wired
// into the orchestrator (spec §9: "the simpler engine is an abstract
// baseline for tests but not the system's behavior") -- its only use in this
// repository is in scoring_test.go, which checks its range filter and that
// it rates a listing without any market data; the tests do not run both
// scorers on shared fixtures.
type SimplePriceOnlyScorer struct {
	PostingThreshold float64
	MinPrice         float64
	MaxPrice         float64
	MinYear          int
}

// NewSimplePriceOnlyScorer constructs the baseline with the defaults from
// simple_scoring.py's SimpleRatingEngine.
func NewSimplePriceOnlyScorer() *SimplePriceOnlyScorer {
	return &SimplePriceOnlyScorer{
		PostingThreshold: 8.0,
		MinPrice:         5000,
		MaxPrice:         100000,
		MinYear:          2015,
	}
}

// SimpleInput is the flat set of fields simple_scoring.py's rate_listing
// takes directly, rather than reading them off a stored entity.
type SimpleInput struct {
	Price           float64
	Year            int
	MileageKM       *int
	Brand           string
	DescriptionLen  int
	ImageCount      int
	FirstSeenAt     time.Time
}

// SimpleResult mirrors simple_scoring.py's return shape.
type SimpleResult struct {
	Score       float64
	ShouldPost  bool
	Reasons     []string
	Filtered    bool
}

var simplePremiumBrands = map[string]bool{
	"mercedes-benz": true, "bmw": true, "audi": true, "lexus": true, "porsche": true,
}

func (s *SimplePriceOnlyScorer) Rate(in SimpleInput) SimpleResult {
	if in.Price < s.MinPrice || in.Price > s.MaxPrice || in.Year < s.MinYear {
		return SimpleResult{Filtered: true}
	}

	priceScore := s.priceScore(in.Price, in.Year, in.Brand)
	ageScore := ageComponent(in.Year)
	mileageScore := simpleMileageScore(in.MileageKM, in.Year)
	qualityScore := simpleQualityScore(in.DescriptionLen, in.ImageCount)
	freshnessScore := simpleFreshnessScore(in.FirstSeenAt)

	total := priceScore + ageScore + mileageScore + qualityScore + freshnessScore
	total = math.Max(0, math.Min(10, total))
	total = math.Round(total*100) / 100

	var reasons []string
	if priceScore >= 3.5 {
		reasons = append(reasons, "excellent price")
	} else if priceScore >= 2.5 {
		reasons = append(reasons, "fair price")
	}
	if ageScore >= 1.8 {
		reasons = append(reasons, "recent year")
	}
	if mileageScore >= 1.7 {
		reasons = append(reasons, "low mileage")
	}

	return SimpleResult{
		Score:      total,
		ShouldPost: total >= s.PostingThreshold,
		Reasons:    reasons,
	}
}

func (s *SimplePriceOnlyScorer) priceScore(price float64, year int, brand string) float64 {
	age := time.Now().UTC().Year() - year
	isPremium := simplePremiumBrands[strings.ToLower(brand)]

	var expectedMin, expectedMax float64
	switch {
	case age <= 3:
		expectedMax = pick(isPremium, 50000, 35000)
	case age <= 5:
		expectedMax = pick(isPremium, 35000, 25000)
	case age <= 8:
		expectedMax = pick(isPremium, 25000, 18000)
	default:
		expectedMax = pick(isPremium, 15000, 12000)
	}
	_ = expectedMin

	switch {
	case price <= expectedMax*0.7:
		return 3.5
	case price <= expectedMax:
		return 2.5
	case price <= expectedMax*1.2:
		return 1.5
	default:
		return 0.5
	}
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

func simpleMileageScore(mileageKM *int, year int) float64 {
	if mileageKM == nil {
		return 1.0
	}
	age := time.Now().UTC().Year() - year
	if age <= 0 {
		age = 1
	}
	expected := float64(age) * 15000
	ratio := float64(*mileageKM) / expected
	switch {
	case ratio < 0.5:
		return 2.0
	case ratio < 0.8:
		return 1.7
	case ratio < 1.2:
		return 1.3
	case ratio < 1.5:
		return 0.8
	default:
		return 0.3
	}
}

func simpleQualityScore(descLen, imageCount int) float64 {
	q := 0.0
	switch {
	case descLen > 500:
		q += 0.5
	case descLen > 200:
		q += 0.3
	case descLen > 50:
		q += 0.1
	}
	switch {
	case imageCount >= 10:
		q += 0.5
	case imageCount >= 5:
		q += 0.3
	case imageCount >= 2:
		q += 0.1
	}
	return q
}

func simpleFreshnessScore(firstSeenAt time.Time) float64 {
	if firstSeenAt.IsZero() {
		return 0
	}
	ageHours := time.Since(firstSeenAt).Hours()
	switch {
	case ageHours <= 1:
		return 1.0
	case ageHours <= 6:
		return 0.7
	case ageHours <= 24:
		return 0.4
	case ageHours <= 48:
		return 0.2
	default:
		return 0
	}
}
