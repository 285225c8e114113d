package scoring

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aristath/sentinel/internal/comparables"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{
		ApprovalThreshold:    7.5,
		DraftFloor:           6.0,
		MinComparablesSample: 5,
		RequireComparables:   true,
		MinApprovalDiscount:  10,
	}
}

func TestMarketAwareScorer_ExcellentSweetSpotDeal(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)
	source, err := gw.Sources.GetByName("mobile.bg")
	require.NoError(t, err)

	brand, model := "audi", "a6"
	year := 2019
	prices := make([]float64, 22)
	for i := range prices {
		prices[i] = 29000
	}
	for i, price := range prices {
		raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "peer-" + string(rune('a'+i)), URL: "https://x"}
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))
		mileage := 75000
		p := price
		nl := &domain.NormalizedListing{
			RawID: raw.ID, Title: "peer audi a6", Currency: "local",
			CanonicalBrand: &brand, CanonicalModel: &model, Year: &year, MileageKM: &mileage, PriceAmount: &p,
		}
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
			_, err := gw.NormalizedListings.Upsert(tx, nl)
			return err
		}))
		require.NoError(t, gw.NormalizedListings.MarkCanonical(nl.ID))
	}

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "subject", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))

	mileage := 80000
	price := 22000.0
	description := make([]byte, 600)
	for i := range description {
		description[i] = 'x'
	}
	images := make([]string, 8)
	for i := range images {
		images[i] = "https://img/" + string(rune('a'+i))
	}
	subject := &domain.NormalizedListing{
		RawID: raw.ID, Title: "Audi A6 3.0 TDI", Description: string(description), Currency: "local",
		CanonicalBrand: &brand, CanonicalModel: &model, Year: &year, MileageKM: &mileage, PriceAmount: &price,
		ImageURLs: images,
	}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, subject)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(subject.ID))

	compsEngine := comparables.New(gw, comparables.Config{MinComparablesSample: 5, FullConfidenceSample: 30, ComparablesFreshnessDays: 180, CacheTTLHours: 24}, zerolog.Nop())
	scorer := New(gw, compsEngine, nil, defaultConfig(), zerolog.Nop())

	score, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateApproved, score.FinalState)
	assert.Greater(t, score.Score, 7.5)
	assert.NotEmpty(t, score.Reasons)
}

func TestMarketAwareScorer_LeasingRedFlagRejects(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)
	source, err := gw.Sources.GetByName("mobile.bg")
	require.NoError(t, err)

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "leasing-1", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))

	brand, model := "bmw", "x5"
	year := 2024
	price := 18000.0
	subject := &domain.NormalizedListing{
		RawID: raw.ID, Title: "BMW X5 2024", Description: "продава се с първоначална вноска", Currency: "local",
		CanonicalBrand: &brand, CanonicalModel: &model, Year: &year, PriceAmount: &price,
	}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, subject)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(subject.ID))

	compsEngine := comparables.New(gw, comparables.Config{MinComparablesSample: 5, FullConfidenceSample: 30, ComparablesFreshnessDays: 180, CacheTTLHours: 24}, zerolog.Nop())
	scorer := New(gw, compsEngine, nil, defaultConfig(), zerolog.Nop())

	score, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateRejected, score.FinalState)
	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, "leasing detected", score.Reasons[0])
}

func TestMarketAwareScorer_InsufficientComparablesRejects(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)
	source, err := gw.Sources.GetByName("mobile.bg")
	require.NoError(t, err)

	brand, model := "lancia", "thesis"
	year := 2005
	price := 4000.0

	for i := 0; i < 2; i++ {
		raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "peer-" + string(rune('a'+i)), URL: "https://x"}
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))
		p := price
		nl := &domain.NormalizedListing{
			RawID: raw.ID, Title: "peer", Currency: "local",
			CanonicalBrand: &brand, CanonicalModel: &model, Year: &year, PriceAmount: &p,
		}
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
			_, err := gw.NormalizedListings.Upsert(tx, nl)
			return err
		}))
		require.NoError(t, gw.NormalizedListings.MarkCanonical(nl.ID))
	}

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "subject", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))
	subject := &domain.NormalizedListing{
		RawID: raw.ID, Title: "Lancia Thesis", Currency: "local",
		CanonicalBrand: &brand, CanonicalModel: &model, Year: &year, PriceAmount: &price,
	}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, subject)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(subject.ID))

	compsEngine := comparables.New(gw, comparables.Config{MinComparablesSample: 5, FullConfidenceSample: 30, ComparablesFreshnessDays: 180, CacheTTLHours: 24}, zerolog.Nop())
	scorer := New(gw, compsEngine, nil, defaultConfig(), zerolog.Nop())

	score, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateRejected, score.FinalState)
	assert.Equal(t, "insufficient market data", score.Reasons[0])
}

func TestMarketAwareScorer_InvalidPriceRejects(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)
	source, err := gw.Sources.GetByName("mobile.bg")
	require.NoError(t, err)

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "no-price", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))
	subject := &domain.NormalizedListing{RawID: raw.ID, Title: "mystery car", Currency: "local"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, subject)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(subject.ID))

	compsEngine := comparables.New(gw, comparables.Config{MinComparablesSample: 5, FullConfidenceSample: 30, ComparablesFreshnessDays: 180, CacheTTLHours: 24}, zerolog.Nop())
	scorer := New(gw, compsEngine, nil, defaultConfig(), zerolog.Nop())

	score, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, score.FinalState)
	assert.Equal(t, "invalid price", score.Reasons[0])
}

func TestMarketAwareScorer_IdempotentRescoring(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)
	source, err := gw.Sources.GetByName("mobile.bg")
	require.NoError(t, err)

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "idempotent", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))
	subject := &domain.NormalizedListing{RawID: raw.ID, Title: "car", Currency: "local"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, subject)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(subject.ID))

	compsEngine := comparables.New(gw, comparables.Config{MinComparablesSample: 5, FullConfidenceSample: 30, ComparablesFreshnessDays: 180, CacheTTLHours: 24}, zerolog.Nop())
	scorer := New(gw, compsEngine, nil, defaultConfig(), zerolog.Nop())

	first, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), subject.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.FinalState, second.FinalState)
	assert.Equal(t, first.Reasons, second.Reasons)
}

func TestSimplePriceOnlyScorer_FiltersOutOfRange(t *testing.T) {
	s := NewSimplePriceOnlyScorer()
	result := s.Rate(SimpleInput{Price: 1000, Year: 2018})
	assert.True(t, result.Filtered)
}

func TestSimplePriceOnlyScorer_LacksMarketContextVersusMarketAware(t *testing.T) {
	// The baseline has no notion of "insufficient market data" -- it will
	// happily score a listing the market-aware scorer rejects outright,
	// which is exactly the behavioral gap spec §9's Open Question asks
	// this repository to document rather than paper over.
	s := NewSimplePriceOnlyScorer()
	mileage := 120000
	result := s.Rate(SimpleInput{Price: 12000, Year: 2018, MileageKM: &mileage, Brand: "lancia"})
	assert.False(t, result.Filtered)
}
