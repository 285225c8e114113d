// Package scoring implements the Scorer (spec §4.7), the most
// behaviorally-dense component: red-flag gate, market-data gate,
// price-bracket selection, weighted component scoring, and the final
// approve/draft/reject decision.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/sentinel/internal/comparables"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/llmeval"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
)

// ruleConfidenceLLMThreshold is the rule-confidence floor below which the
// optional LLM collaborator is consulted (spec §6).
const ruleConfidenceLLMThreshold = 0.7

// Config mirrors the scoring-relevant tunables in spec §6.
type Config struct {
	ApprovalThreshold    float64
	DraftFloor           float64
	MinComparablesSample int
	RequireComparables   bool
	MinApprovalDiscount  float64 // spec §4.7 step 5: discount >= 10% required to approve
}

// MarketAwareScorer is the production scorer (spec §9 Open Question:
// canonicalized as the production path over the simpler price-only engine).
type MarketAwareScorer struct {
	gw    *storage.Gateway
	comps *comparables.Engine
	llm   *llmeval.DescriptionHashCache // optional; nil disables LLM consultation
	cfg   Config
	log   zerolog.Logger
}

func New(gw *storage.Gateway, comps *comparables.Engine, llm *llmeval.DescriptionHashCache, cfg Config, log zerolog.Logger) *MarketAwareScorer {
	return &MarketAwareScorer{gw: gw, comps: comps, llm: llm, cfg: cfg, log: log.With().Str("component", "scoring").Logger()}
}

// Score evaluates listingID and upserts its Score (and Evaluation) row.
// Idempotent: repeated calls with unchanged inputs produce identical output
// modulo ScoredAt (spec §4.7 "Idempotency", spec §8 round-trip property).
func (s *MarketAwareScorer) Score(ctx context.Context, listingID string) (*domain.Score, error) {
	listing, err := s.gw.NormalizedListings.GetByID(listingID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup listing: %w", err)}
	}
	if listing == nil {
		return nil, &pipeline.InvariantError{Cause: fmt.Errorf("listing %s not found", listingID)}
	}
	if listing.IsDuplicate {
		return nil, &pipeline.InvariantError{Cause: fmt.Errorf("listing %s is a duplicate; duplicates are not scored", listingID)}
	}

	raw, err := s.gw.RawListings.GetByID(listing.RawID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup raw listing: %w", err)}
	}
	if raw == nil {
		return nil, &pipeline.InvariantError{Cause: fmt.Errorf("raw listing %s not found", listing.RawID)}
	}

	score := &domain.Score{ListingID: listingID, ScoredAt: time.Now().UTC()}

	// Step 1: red-flag gate.
	brand := ""
	if listing.CanonicalBrand != nil {
		brand = *listing.CanonicalBrand
	}
	year := 0
	if listing.Year != nil {
		year = *listing.Year
	}
	price := 0.0
	if listing.PriceAmount != nil {
		price = *listing.PriceAmount
	}
	flags := checkRedFlags(listing.Title, listing.Description, price, year, brand)

	ruleConfidence := ruleConfidenceFor(listing)
	riskLevel := riskLevelFor(flags)

	if price <= 0 {
		score.Reasons = []string{"invalid price"}
		score.FinalState = domain.StateRejected
		if err := s.persist(score, flags, riskLevel, ruleConfidence); err != nil {
			return nil, err
		}
		return score, nil
	}

	if len(flags) > 0 {
		score.Score = 0
		score.Reasons = []string{flags[0]}
		score.FinalState = domain.StateRejected
		score.RiskPenalty = 10
		riskLevel = domain.RiskHigh
		s.maybeConsultLLM(ctx, listing, flags, ruleConfidence, riskLevel, 0, 0)
		if err := s.persist(score, flags, riskLevel, ruleConfidence); err != nil {
			return nil, err
		}
		return score, nil
	}

	// Step 2: market-data gate.
	comp, err := s.comps.Analyze(listing)
	if err != nil {
		if !pipeline.Insufficient(err) {
			return nil, err
		}
		if s.cfg.RequireComparables {
			score.Score = 0
			score.Reasons = []string{"insufficient market data"}
			score.FinalState = domain.StateRejected
			s.maybeConsultLLM(ctx, listing, flags, ruleConfidence, riskLevel, 0, 0)
			if err := s.persist(score, flags, riskLevel, ruleConfidence); err != nil {
				return nil, err
			}
			return score, nil
		}
		comp = nil
	}

	// Steps 3-4: bracket selection and component scoring.
	bracket := classifyBracket(price)
	discountPct := 0.0
	sampleSize := 0
	if comp != nil {
		discountPct = comp.DiscountPct
		sampleSize = comp.SampleSize
	}

	priceComp := priceComponent(bracket, discountPct)
	ageComp := ageComponent(year)
	mileageComp := mileageComponent(bracket, year, listing.MileageKM)
	confidenceComp := confidenceComponent(sampleSize)
	qualityComp := qualityComponent(len(listing.Description), len(listing.ImageURLs), raw.FirstSeenAt)

	total := priceComp + ageComp + mileageComp + confidenceComp + qualityComp
	total = math.Max(0, math.Min(10, total))
	total = math.Round(total*100) / 100

	score.Score = total
	score.FreshnessBonus = qualityComp
	score.Liquidity = confidenceComp
	score.Reasons = buildReasons(bracket, discountPct, sampleSize, year, listing.MileageKM, qualityComp)

	// Step 5: decision.
	switch {
	case total < s.cfg.DraftFloor:
		score.FinalState = domain.StateRejected
	case total >= s.cfg.ApprovalThreshold && discountPct >= s.cfg.MinApprovalDiscount && sampleSize >= s.cfg.MinComparablesSample:
		score.FinalState = domain.StateApproved
	default:
		score.FinalState = domain.StateDraft
	}

	s.maybeConsultLLM(ctx, listing, flags, ruleConfidence, riskLevel, discountPct, price)

	if err := s.persist(score, flags, riskLevel, ruleConfidence); err != nil {
		return nil, err
	}
	return score, nil
}

// maybeConsultLLM invokes the optional LLM collaborator when rule-confidence
// falls below threshold or rules report medium risk (spec §6). The
// collaborator's response is discarded: neither the Score nor the Evaluation
// records it, since persist stores only the rule-based flags, risk level and
// confidence. A failed call is logged and scoring continues.
func (s *MarketAwareScorer) maybeConsultLLM(ctx context.Context, listing *domain.NormalizedListing, flags []string, ruleConfidence float64, riskLevel domain.RiskLevel, discountPct, price float64) {
	if s.llm == nil {
		return
	}
	if ruleConfidence >= ruleConfidenceLLMThreshold && riskLevel != domain.RiskMedium {
		return
	}
	req := llmeval.Request{
		Title:          listing.Title,
		Description:    listing.Description,
		Price:          price,
		PredictedPrice: price * (1 + discountPct/100),
		DiscountPct:    discountPct,
		RuleFlags:      flags,
	}
	if _, err := s.llm.Evaluate(ctx, listing.DescriptionHash, req); err != nil {
		s.log.Warn().Err(&pipeline.ExternalServiceError{Cause: err}).Str("listing_id", listing.ID).Msg("llm evaluation failed; continuing with rule-only risk level")
	}
}

func (s *MarketAwareScorer) persist(score *domain.Score, flags []string, riskLevel domain.RiskLevel, ruleConfidence float64) error {
	eval := &domain.Evaluation{
		ListingID:      score.ListingID,
		Flags:          flags,
		RiskLevel:      riskLevel,
		RuleConfidence: ruleConfidence,
		EvaluatedAt:    time.Now().UTC(),
	}
	if err := s.gw.Evaluations.Upsert(eval); err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("upsert evaluation: %w", err)}
	}
	if err := s.gw.Scores.Upsert(score); err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("upsert score: %w", err)}
	}
	s.log.Info().Str("listing_id", score.ListingID).Float64("score", score.Score).
		Str("state", string(score.FinalState)).Msg("scored listing")
	return nil
}

// ruleConfidenceFor is a simple proxy for how much the rule engine trusts
// its own read of the listing: full confidence when the fields the red-flag
// and bracket logic depend on are all present, degraded otherwise.
func ruleConfidenceFor(l *domain.NormalizedListing) float64 {
	confidence := 1.0
	if l.CanonicalBrand == nil || l.CanonicalModel == nil {
		confidence -= 0.2
	}
	if l.Year == nil {
		confidence -= 0.2
	}
	if l.MileageKM == nil {
		confidence -= 0.1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

func riskLevelFor(flags []string) domain.RiskLevel {
	switch {
	case len(flags) >= 2:
		return domain.RiskHigh
	case len(flags) == 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// priceComponent implements spec §4.7's piecewise price score (0-4).
func priceComponent(bracket Bracket, discountPct float64) float64 {
	t := thresholdsFor(bracket)
	switch {
	case discountPct >= t.Excellent:
		return 4.0
	case discountPct >= t.Good:
		return 3.5
	case discountPct >= t.Fair:
		return 2.5
	case discountPct >= 5:
		return 1.5
	case discountPct >= 0:
		return 0.5
	default:
		return 0.0
	}
}

// ageComponent implements spec §4.7's age score (0-2).
func ageComponent(year int) float64 {
	if year == 0 {
		return 0.8
	}
	age := time.Now().UTC().Year() - year
	switch {
	case age <= 2:
		return 2.0
	case age <= 4:
		return 1.8
	case age <= 6:
		return 1.5
	case age <= 8:
		return 1.2
	default:
		return 0.8
	}
}

// mileageComponent implements spec §4.7's mileage score (0-2), scaled by
// the bracket-specific weight.
func mileageComponent(bracket Bracket, year int, mileageKM *int) float64 {
	if mileageKM == nil {
		return 1.0
	}
	age := time.Now().UTC().Year() - year
	if age <= 0 {
		age = 1
	}
	expected := float64(age) * 15000
	ratio := float64(*mileageKM) / expected

	var base float64
	switch {
	case ratio < 0.5:
		base = 2.0
	case ratio < 0.8:
		base = 1.7
	case ratio < 1.2:
		base = 1.3
	case ratio < 1.5:
		base = 0.8
	default:
		base = 0.3
	}
	weighted := base * (mileageWeight(bracket) / 2.0)
	return math.Min(2.0, weighted)
}

// confidenceComponent implements spec §4.7's step function on comparables
// sample size (0-1).
func confidenceComponent(sampleSize int) float64 {
	switch {
	case sampleSize >= 30:
		return 1.0
	case sampleSize >= 20:
		return 0.8
	case sampleSize >= 10:
		return 0.6
	case sampleSize >= 5:
		return 0.4
	default:
		return 0.2
	}
}

// qualityComponent implements spec §4.7's description/image/freshness
// tiers (0-1, capped).
func qualityComponent(descLen, imageCount int, firstSeenAt time.Time) float64 {
	q := 0.0
	switch {
	case descLen > 500:
		q += 0.3
	case descLen > 200:
		q += 0.2
	case descLen > 50:
		q += 0.1
	}
	switch {
	case imageCount >= 10:
		q += 0.3
	case imageCount >= 5:
		q += 0.2
	case imageCount >= 2:
		q += 0.1
	}
	if !firstSeenAt.IsZero() {
		ageHours := time.Since(firstSeenAt).Hours()
		switch {
		case ageHours <= 6:
			q += 0.4
		case ageHours <= 24:
			q += 0.2
		}
	}
	return math.Min(1.0, q)
}

// buildReasons generates human-readable reasons from the component
// contributions (spec §4.7's "Reasons" note: always include the triggering
// discount figure when present).
func buildReasons(bracket Bracket, discountPct float64, sampleSize int, year int, mileageKM *int, qualityComp float64) []string {
	var reasons []string
	switch {
	case discountPct >= 25:
		reasons = append(reasons, fmt.Sprintf("excellent price: %.0f%% below market", discountPct))
	case discountPct >= 15:
		reasons = append(reasons, fmt.Sprintf("great price: %.0f%% below market", discountPct))
	case discountPct >= 10:
		reasons = append(reasons, fmt.Sprintf("good price: %.0f%% below market", discountPct))
	}

	if age := time.Now().UTC().Year() - year; year != 0 && age <= 4 {
		reasons = append(reasons, fmt.Sprintf("recent year: %d", year))
	}
	if mileageKM != nil {
		expected := float64(time.Now().UTC().Year()-year) * 15000
		if expected > 0 && float64(*mileageKM)/expected < 0.8 {
			reasons = append(reasons, "low mileage for age")
		}
	}
	if qualityComp >= 0.8 {
		reasons = append(reasons, "well-documented listing")
	}
	if bracket == BracketSweetSpot {
		reasons = append(reasons, "sweet spot price range")
	}
	if sampleSize > 0 && sampleSize < 10 {
		reasons = append(reasons, fmt.Sprintf("limited market data (%d comparables)", sampleSize))
	}
	return reasons
}
