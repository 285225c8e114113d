// Package normalize implements the Normalizer (spec §4.4): canonicalizing
// a RawListing's extracted FieldMap into a NormalizedListing, ready for
// deduplication.
package normalize

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/blobstore"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/extract"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
)

const fuzzyThreshold = 0.8

// Normalizer canonicalizes brand/model/fuel/gearbox/body, range-validates
// year/mileage, converts price to canonical currency, and upserts the
// owning NormalizedListing.
type Normalizer struct {
	gw       *storage.Gateway
	registry *extract.Registry
	blobs    *blobstore.Store // optional; resolves raw_html overflowed per spec §12
	log      zerolog.Logger
	locale   string
}

func New(gw *storage.Gateway, registry *extract.Registry, blobs *blobstore.Store, log zerolog.Logger, locale string) *Normalizer {
	return &Normalizer{gw: gw, registry: registry, blobs: blobs, log: log.With().Str("component", "normalize").Logger(), locale: locale}
}

// Result reports the outcome of Normalize, including whether this was the
// NormalizedListing's first creation -- the Orchestrator only hands off to
// the Deduplicator on first creation (spec §4.4 step 8).
type Result struct {
	NormalizedListingID string
	IsNew                bool
}

// Normalize fetches the RawListing's extracted FieldMap and upserts the
// NormalizedListing it owns. Returns nil, nil (not an error) when the
// extractor output is not yet available -- the stage defers rather than fails.
func (n *Normalizer) Normalize(rawID string) (*Result, error) {
	raw, err := n.gw.RawListings.GetByID(rawID)
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup raw listing: %w", err)}
	}
	if raw == nil {
		return nil, &pipeline.InvariantError{Cause: fmt.Errorf("raw listing %s not found", rawID)}
	}

	source, err := n.sourceName(raw.SourceID)
	if err != nil {
		return nil, err
	}

	if raw.RawHTML == "" && raw.RawHTMLKey != "" && n.blobs != nil {
		content, err := n.blobs.Get(context.Background(), raw.RawHTMLKey)
		if err != nil {
			return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("fetch overflowed raw_html: %w", err)}
		}
		raw.RawHTML = content
	}

	fields, err := n.registry.Run(source, raw)
	if err != nil {
		var extractErr *pipeline.ExtractError
		if errors.As(err, &extractErr) {
			_ = n.gw.RawListings.SetParseErrors(rawID, extractErr.Error())
			return nil, nil
		}
		return nil, err
	}

	canonicalBrand, canonicalModel := n.canonicalizeBrandModel(fields.Brand, fields.Model)
	fuel := NormalizeFuel(n.locale, fields.Fuel)
	gearbox := NormalizeGearbox(n.locale, fields.Gearbox)
	body := NormalizeBody(n.locale, fields.Body)

	year := validateYear(fields.Year)
	mileage := validateMileage(fields.MileageKM)

	var priceAmount *float64
	if fields.Price != nil {
		converted := ConvertPrice(*fields.Price, fields.Currency)
		priceAmount = &converted
	}
	currency := fields.Currency
	if currency == "" {
		currency = CanonicalCurrency
	}

	next := &domain.NormalizedListing{
		RawID:           rawID,
		Title:           fields.Title,
		Description:     fields.Description,
		DescriptionHash: DescriptionHash(fields.Description),
		Currency:        currency,
		Region:          fields.Region,
		Year:            year,
		MileageKM:       mileage,
		PriceAmount:     priceAmount,
		ImageURLs:       fields.ImageURLs,
		EnginePowerHP:   fields.EnginePowerHP,
		EngineVolumeCC:  fields.EngineVolumeCC,
	}
	if canonicalBrand != "" {
		next.CanonicalBrand = &canonicalBrand
	}
	if canonicalModel != "" {
		next.CanonicalModel = &canonicalModel
	}
	if fuel != "" {
		next.Fuel = &fuel
	}
	if gearbox != "" {
		next.Gearbox = &gearbox
	}
	if body != "" {
		next.Body = &body
	}

	if fields.Phone != "" {
		phoneHash := hashPhone(fields.Phone)
		seller, err := n.gw.Sellers.GetOrCreate(phoneHash)
		if err != nil {
			return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("get or create seller: %w", err)}
		}
		next.SellerID = &seller.ID
	}

	var isNew bool
	err = n.gw.WithStandardTx(func(tx *sql.Tx) error {
		var upsertErr error
		isNew, upsertErr = n.gw.NormalizedListings.Upsert(tx, next)
		return upsertErr
	})
	if err != nil {
		return nil, &pipeline.TransientIOError{Cause: fmt.Errorf("upsert normalized listing: %w", err)}
	}

	n.log.Info().Str("normalized_id", next.ID).Bool("new", isNew).
		Str("canonical_brand", canonicalBrand).Str("canonical_model", canonicalModel).
		Msg("normalized listing")

	return &Result{NormalizedListingID: next.ID, IsNew: isNew}, nil
}

func (n *Normalizer) sourceName(sourceID string) (string, error) {
	source, err := n.gw.Sources.GetByID(sourceID)
	if err != nil {
		return "", &pipeline.TransientIOError{Cause: fmt.Errorf("lookup source: %w", err)}
	}
	if source == nil {
		return "", &pipeline.InvariantError{Cause: fmt.Errorf("source %s not found", sourceID)}
	}
	return source.Name, nil
}

// canonicalizeBrandModel applies the two-tier lookup from spec §4.4 step 2:
// exact match, then alias match, then Jaccard-fuzzy >= 0.8 over space-split
// tokens. Unmatched pairs return ("", "") -- not an error.
func (n *Normalizer) canonicalizeBrandModel(brand, model string) (string, string) {
	if brand == "" && model == "" {
		return "", ""
	}
	brandClean := cleanText(brand)
	modelClean := cleanText(model)

	if exact, err := n.gw.BrandModels.ExactMatch(brandClean, modelClean, n.locale); err == nil && exact != nil {
		return exact.NormalizedBrand, exact.NormalizedModel
	}
	if alias, err := n.gw.BrandModels.AliasMatch(brandClean, modelClean, n.locale); err == nil && alias != nil {
		return alias.NormalizedBrand, alias.NormalizedModel
	}

	all, err := n.gw.BrandModels.AllForLocale(n.locale)
	if err != nil {
		return "", ""
	}
	for _, m := range all {
		if cleanText(m.BrandString) != brandClean {
			continue
		}
		if jaccardSimilar(modelClean, cleanText(m.ModelString), fuzzyThreshold) {
			return m.NormalizedBrand, m.NormalizedModel
		}
	}
	return "", ""
}

func validateYear(year *int) *int {
	if year == nil {
		return nil
	}
	currentYear := time.Now().UTC().Year()
	if *year < 1900 || *year > currentYear+1 {
		return nil
	}
	v := *year
	return &v
}

func validateMileage(km *int) *int {
	if km == nil {
		return nil
	}
	if *km < 0 || *km > 1_000_000 {
		return nil
	}
	v := *km
	return &v
}

func hashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
