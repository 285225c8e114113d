// Package comparables implements the Comparables Engine (spec §4.6):
// market-aware percentile pricing computed from peer listings.
package comparables

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	modelVersion          = "comparables-v1"
	minSubjectPrice       = 500.0
	mileageToleranceFrac  = 0.30
	yearTolerance         = 2
	confidenceSampleDenom = 30.0
)

// Config mirrors the tunables in spec §6.
type Config struct {
	MinComparablesSample     int
	FullConfidenceSample     int
	ComparablesFreshnessDays int
	CacheTTLHours            int
}

// Engine computes and caches Comparables for a NormalizedListing.
type Engine struct {
	gw  *storage.Gateway
	cfg Config
	log zerolog.Logger
}

func New(gw *storage.Gateway, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{gw: gw, cfg: cfg, log: log.With().Str("component", "comparables").Logger()}
}

// Analyze returns the Comparables for listing, recomputing when the cached
// entry is stale (older than the TTL or the subject's price has changed)
// and returning InsufficientError when the peer sample is below the
// configured minimum (spec §4.6).
func (e *Engine) Analyze(listing *domain.NormalizedListing) (*domain.Comparables, error) {
	if listing.PriceAmount == nil {
		return nil, &pipeline.InsufficientError{Cause: fmt.Errorf("listing has no price")}
	}

	cached, err := e.gw.Comparables.Get(listing.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup cached comparables: %w", err)}
	}
	if cached != nil {
		priced, err := e.gw.Comparables.PricedAt(listing.ID)
		if err != nil {
			return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup priced_at: %w", err)}
		}
		ttl := time.Duration(e.cfg.CacheTTLHours) * time.Hour
		if !e.gw.Comparables.IsStale(cached, *listing.PriceAmount, priced, ttl) {
			return cached, nil
		}
	}

	result, err := e.compute(listing)
	if err != nil {
		return nil, err
	}
	if err := e.gw.Comparables.Upsert(result, *listing.PriceAmount); err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("cache comparables: %w", err)}
	}
	return result, nil
}

func (e *Engine) compute(listing *domain.NormalizedListing) (*domain.Comparables, error) {
	if listing.CanonicalBrand == nil || listing.CanonicalModel == nil || listing.Year == nil {
		return nil, &pipeline.InsufficientError{Cause: fmt.Errorf("listing lacks canonical brand/model/year")}
	}

	freshnessHorizon := time.Now().UTC().AddDate(0, 0, -e.cfg.ComparablesFreshnessDays).Format(time.RFC3339Nano)
	peers, err := e.gw.NormalizedListings.ComparablesCandidates(
		*listing.CanonicalBrand, *listing.CanonicalModel,
		*listing.Year-yearTolerance, *listing.Year+yearTolerance,
		freshnessHorizon, listing.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("query comparables candidates: %w", err)}
	}

	peers = filterByMileage(peers, listing)

	withFuelGearbox := filterByFuelGearbox(peers, listing)
	if len(withFuelGearbox) >= e.cfg.MinComparablesSample {
		peers = withFuelGearbox
	}

	if len(peers) < e.cfg.MinComparablesSample {
		return nil, &pipeline.InsufficientError{Cause: fmt.Errorf("sample size %d below minimum %d", len(peers), e.cfg.MinComparablesSample)}
	}

	prices := make([]float64, 0, len(peers))
	for _, p := range peers {
		if p.PriceAmount != nil {
			prices = append(prices, *p.PriceAmount)
		}
	}
	sort.Float64s(prices)

	mean := stat.Mean(prices, nil)
	stdDev := stat.StdDev(prices, nil)
	p10 := stat.Quantile(0.10, stat.Empirical, prices, nil)
	p25 := stat.Quantile(0.25, stat.Empirical, prices, nil)
	p50 := stat.Quantile(0.50, stat.Empirical, prices, nil)
	p75 := stat.Quantile(0.75, stat.Empirical, prices, nil)
	p90 := stat.Quantile(0.90, stat.Empirical, prices, nil)

	discountPct := 0.0
	if p50 > 0 {
		discountPct = (p50 - *listing.PriceAmount) / p50 * 100
	}

	confidence := computeConfidence(len(prices), mean, stdDev, e.cfg.FullConfidenceSample)

	return &domain.Comparables{
		ListingID:    listing.ID,
		SampleSize:   len(prices),
		Mean:         mean,
		StdDev:       stdDev,
		P10:          p10,
		P25:          p25,
		P50:          p50,
		P75:          p75,
		P90:          p90,
		DiscountPct:  discountPct,
		Confidence:   confidence,
		ModelVersion: modelVersion,
		ComputedAt:   time.Now().UTC(),
	}, nil
}

// computeConfidence implements spec §4.6's confidence formula:
// min(1, sample_size / full_sample) * max(0.5, 1 - coefficient_of_variation).
func computeConfidence(sampleSize int, mean, stdDev float64, fullSample int) float64 {
	if fullSample <= 0 {
		fullSample = int(confidenceSampleDenom)
	}
	sizeFactor := math.Min(1, float64(sampleSize)/float64(fullSample))
	cv := 0.0
	if mean != 0 {
		cv = stdDev / mean
	}
	spreadFactor := math.Max(0.5, 1-cv)
	return sizeFactor * spreadFactor
}

// filterByMileage drops peers outside +-30% of the subject's mileage, only
// when the subject itself has a mileage value.
func filterByMileage(peers []domain.NormalizedListing, subject *domain.NormalizedListing) []domain.NormalizedListing {
	if subject.MileageKM == nil {
		return peers
	}
	lo := float64(*subject.MileageKM) * (1 - mileageToleranceFrac)
	hi := float64(*subject.MileageKM) * (1 + mileageToleranceFrac)
	out := peers[:0:0]
	for _, p := range peers {
		if p.MileageKM == nil {
			continue
		}
		km := float64(*p.MileageKM)
		if km >= lo && km <= hi {
			out = append(out, p)
		}
	}
	return out
}

// filterByFuelGearbox narrows to peers matching the subject's fuel and
// gearbox, when the subject has them. Callers drop this filter entirely if
// it would push the sample below the minimum (spec §4.6).
func filterByFuelGearbox(peers []domain.NormalizedListing, subject *domain.NormalizedListing) []domain.NormalizedListing {
	out := peers[:0:0]
	for _, p := range peers {
		if subject.Fuel != nil {
			if p.Fuel == nil || *p.Fuel != *subject.Fuel {
				continue
			}
		}
		if subject.Gearbox != nil {
			if p.Gearbox == nil || *p.Gearbox != *subject.Gearbox {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
