// Package dedupe implements the Deduplicator (spec §4.5): four duplicate-
// detection methods applied in fixed, highest-confidence-first order.
package dedupe

import (
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
)

const (
	confidencePhone     = 0.95
	confidenceImage     = 0.90
	confidenceTitle     = 0.75
	confidenceEmbedding = 0.80

	titleSimilarityThreshold     = 0.8
	embeddingSimilarityThreshold = 0.85
	phonePriceToleranceFraction  = 0.10
)

// Deduplicator applies the four duplicate-detection tiers and maintains the
// canonical-pointer graph.
type Deduplicator struct {
	gw  *storage.Gateway
	log zerolog.Logger
}

func New(gw *storage.Gateway, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{gw: gw, log: log.With().Str("component", "dedupe").Logger()}
}

// Outcome reports whether the listing was marked a duplicate and, if so, of
// which canonical listing and by which method.
type Outcome struct {
	IsDuplicate bool
	CanonicalID string
	Method      domain.DedupeMethod
	Score       float64
}

// Dedupe runs the fixed-order tiers against listingID. The first method that
// returns a candidate decides the outcome; ties within a tier resolve to the
// oldest candidate by created_at (spec §4.5's tie-break rule).
func (d *Deduplicator) Dedupe(listingID string) (Outcome, error) {
	listing, err := d.gw.NormalizedListings.GetByID(listingID)
	if err != nil {
		return Outcome{}, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup listing: %w", err)}
	}
	if listing == nil {
		return Outcome{}, &pipeline.InvariantError{Cause: fmt.Errorf("listing %s not found", listingID)}
	}

	if err := d.writeSignature(listing); err != nil {
		return Outcome{}, err
	}

	raw, err := d.gw.RawListings.GetByID(listing.RawID)
	if err != nil {
		return Outcome{}, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup raw listing: %w", err)}
	}
	if raw == nil {
		return Outcome{}, &pipeline.InvariantError{Cause: fmt.Errorf("raw listing %s not found", listing.RawID)}
	}

	candidate, method, score, err := d.findDuplicate(listing, raw.SourceID)
	if err != nil {
		return Outcome{}, err
	}

	if candidate == nil {
		if err := d.gw.NormalizedListings.MarkCanonical(listingID); err != nil {
			return Outcome{}, &pipeline.TransientIOError{Cause: fmt.Errorf("mark canonical: %w", err)}
		}
		return Outcome{IsDuplicate: false}, nil
	}

	canonicalID, err := d.resolveCanonical(candidate.ID, listingID)
	if err != nil {
		return Outcome{}, err
	}

	if err := d.gw.NormalizedListings.MarkDuplicate(listingID, canonicalID); err != nil {
		return Outcome{}, &pipeline.TransientIOError{Cause: fmt.Errorf("mark duplicate: %w", err)}
	}
	if err := d.gw.DuplicateLog.Append(listingID, canonicalID, method, score); err != nil {
		return Outcome{}, &pipeline.TransientIOError{Cause: fmt.Errorf("append duplicate log: %w", err)}
	}

	d.log.Info().Str("listing_id", listingID).Str("canonical_of", canonicalID).
		Str("method", string(method)).Float64("score", score).Msg("marked duplicate")

	return Outcome{IsDuplicate: true, CanonicalID: canonicalID, Method: method, Score: score}, nil
}

func (d *Deduplicator) writeSignature(l *domain.NormalizedListing) error {
	sig := &domain.DedupeSignature{
		ListingID:       l.ID,
		TitleTrigram:    TitleSignature(l.Title),
		DescMinhash:     l.DescriptionHash,
		FirstImagePHash: l.FirstImagePHash,
	}
	if err := d.gw.DedupeSignatures.Upsert(sig); err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("upsert dedupe signature: %w", err)}
	}
	return nil
}

// findDuplicate walks the four tiers in order, returning the first match.
func (d *Deduplicator) findDuplicate(l *domain.NormalizedListing, sourceID string) (*domain.NormalizedListing, domain.DedupeMethod, float64, error) {
	if candidate, err := d.checkPhone(l); err != nil {
		return nil, "", 0, err
	} else if candidate != nil {
		return candidate, domain.DedupePhone, confidencePhone, nil
	}

	if candidate, err := d.checkImage(l); err != nil {
		return nil, "", 0, err
	} else if candidate != nil {
		return candidate, domain.DedupeImage, confidenceImage, nil
	}

	if candidate, err := d.checkTitle(l, sourceID); err != nil {
		return nil, "", 0, err
	} else if candidate != nil {
		return candidate, domain.DedupeTitle, confidenceTitle, nil
	}

	if candidate, err := d.checkEmbedding(l); err != nil {
		return nil, "", 0, err
	} else if candidate != nil {
		return candidate, domain.DedupeEmbedding, confidenceEmbedding, nil
	}

	return nil, "", 0, nil
}

// checkPhone implements tier 1: same seller phone hash, same canonical
// brand/model, price within +-10%.
func (d *Deduplicator) checkPhone(l *domain.NormalizedListing) (*domain.NormalizedListing, error) {
	if l.SellerID == nil || l.CanonicalBrand == nil || l.CanonicalModel == nil || l.PriceAmount == nil {
		return nil, nil
	}
	candidates, err := d.gw.NormalizedListings.BySeller(*l.SellerID, l.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("query seller listings: %w", err)}
	}

	var best *domain.NormalizedListing
	for i := range candidates {
		c := candidates[i]
		if c.IsDuplicate || c.CanonicalBrand == nil || c.CanonicalModel == nil || c.PriceAmount == nil {
			continue
		}
		if *c.CanonicalBrand != *l.CanonicalBrand || *c.CanonicalModel != *l.CanonicalModel {
			continue
		}
		lo := *l.PriceAmount * (1 - phonePriceToleranceFraction)
		hi := *l.PriceAmount * (1 + phonePriceToleranceFraction)
		if *c.PriceAmount < lo || *c.PriceAmount > hi {
			continue
		}
		if olderCandidate(c, best) {
			cc := c
			best = &cc
		}
	}
	return best, nil
}

// checkImage implements tier 2: first-image perceptual-hash equality with
// another listing in the same Source.
func (d *Deduplicator) checkImage(l *domain.NormalizedListing) (*domain.NormalizedListing, error) {
	if l.FirstImagePHash == nil {
		return nil, nil
	}
	sigs, err := d.gw.DedupeSignatures.CandidatesWithPHash(*l.FirstImagePHash, l.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("query phash candidates: %w", err)}
	}

	var best *domain.NormalizedListing
	for _, sig := range sigs {
		c, err := d.gw.NormalizedListings.GetByID(sig.ListingID)
		if err != nil || c == nil || c.IsDuplicate {
			continue
		}
		if !d.sameSource(c, l) {
			continue
		}
		if olderCandidate(*c, best) {
			cc := *c
			best = &cc
		}
	}
	return best, nil
}

// checkTitle implements tier 3: title trigram similarity >= 0.8 against
// non-duplicate listings in the same Source.
func (d *Deduplicator) checkTitle(l *domain.NormalizedListing, sourceID string) (*domain.NormalizedListing, error) {
	if l.Title == "" {
		return nil, nil
	}
	peers, err := d.gw.NormalizedListings.NonDuplicateInSource(sourceID, l.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("query source peers: %w", err)}
	}

	var best *domain.NormalizedListing
	for i := range peers {
		c := peers[i]
		sim := trigramSimilarity(l.Title, c.Title)
		if sim < titleSimilarityThreshold {
			continue
		}
		if olderCandidate(c, best) {
			cc := c
			best = &cc
		}
	}
	return best, nil
}

// checkEmbedding implements tier 4 (optional): text-embedding cosine
// similarity >= 0.85, enabled only when embeddings have been computed.
func (d *Deduplicator) checkEmbedding(l *domain.NormalizedListing) (*domain.NormalizedListing, error) {
	sig, err := d.gw.DedupeSignatures.GetByListingID(l.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup signature: %w", err)}
	}
	if sig == nil || len(sig.Embedding) == 0 {
		return nil, nil
	}

	others, err := d.gw.DedupeSignatures.AllExcept(l.ID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("query embeddings: %w", err)}
	}

	var best *domain.NormalizedListing
	for _, other := range others {
		if len(other.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(sig.Embedding, other.Embedding)
		if sim < embeddingSimilarityThreshold {
			continue
		}
		c, err := d.gw.NormalizedListings.GetByID(other.ListingID)
		if err != nil || c == nil || c.IsDuplicate {
			continue
		}
		if olderCandidate(*c, best) {
			cc := *c
			best = &cc
		}
	}
	return best, nil
}

func (d *Deduplicator) sameSource(c, l *domain.NormalizedListing) bool {
	cr, err1 := d.gw.RawListings.GetByID(c.RawID)
	lr, err2 := d.gw.RawListings.GetByID(l.RawID)
	if err1 != nil || err2 != nil || cr == nil || lr == nil {
		return false
	}
	return cr.SourceID == lr.SourceID
}

// resolveCanonical chases a candidate's canonical pointer to its root,
// applying path compression, and refuses the link if it would create a
// cycle (spec §4.5's acyclic-graph invariant).
func (d *Deduplicator) resolveCanonical(candidateID, listingID string) (string, error) {
	visited := map[string]bool{listingID: true}
	current := candidateID

	for {
		if visited[current] {
			return "", &pipeline.InvariantError{Cause: fmt.Errorf("duplicate pointer cycle detected at %s", current)}
		}
		visited[current] = true

		next, err := d.gw.NormalizedListings.GetByID(current)
		if err != nil {
			return "", &pipeline.TransientIOError{Cause: fmt.Errorf("chase canonical pointer: %w", err)}
		}
		if next == nil {
			return "", &pipeline.InvariantError{Cause: fmt.Errorf("canonical pointer target %s missing", current)}
		}
		if !next.IsDuplicate || next.CanonicalOf == nil {
			return current, nil
		}
		current = *next.CanonicalOf
	}
}

// olderCandidate reports whether c was created strictly earlier than the
// current best, so each tier keeps its oldest qualifying candidate. It
// compares candidates with each other only; no tier checks a candidate's
// created_at against the listing being deduplicated.
func olderCandidate(c domain.NormalizedListing, best *domain.NormalizedListing) bool {
	if best == nil {
		return true
	}
	return c.CreatedAt.Before(best.CreatedAt)
}
