// Package ingest implements the Raw Ingestor (spec §4.2): idempotent upsert
// of a scraped document keyed by (source, site_ad_id).
package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/blobstore"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
)

// Ingestor accepts scraped documents and upserts them by (source, site_ad_id).
type Ingestor struct {
	gw             *storage.Gateway
	blobs          *blobstore.Store // optional; nil disables raw_html overflow (spec §12)
	inlineMaxBytes int
	log            zerolog.Logger
}

// New constructs an Ingestor. blobs may be nil (no S3 bucket configured):
// raw_html is then always stored inline regardless of size.
func New(gw *storage.Gateway, blobs *blobstore.Store, inlineMaxBytes int, log zerolog.Logger) *Ingestor {
	return &Ingestor{gw: gw, blobs: blobs, inlineMaxBytes: inlineMaxBytes, log: log.With().Str("component", "ingest").Logger()}
}

// Input carries a single scraped document. RawHTML and ParsedMap are both
// optional but at least one should be present for the Extractor to succeed.
type Input struct {
	SourceName string
	SiteAdID   string
	URL        string
	RawHTML    string
	ParsedMap  map[string]any
	HTTPMeta   domain.HTTPMeta
	// ScrapedPrice, when known at ingest time, is compared against the
	// current NormalizedListing price to decide whether a PriceHistory row
	// is appended -- this is the signal the Monitor consumes.
	ScrapedPrice *float64
}

// Result reports the outcome of an Ingest call.
type Result struct {
	RawListingID string
	IsNew        bool
}

// Ingest upserts a RawListing by (source, site_ad_id). New listings are
// created with first_seen = last_seen = now, active = true. Existing
// listings have last_seen bumped, http_meta merged, and are re-activated.
// raw_html is only overwritten when the new content is non-trivially
// longer than what is stored (spec §4.2).
func (i *Ingestor) Ingest(in Input) (Result, error) {
	source, err := i.gw.Sources.GetByName(in.SourceName)
	if err != nil {
		return Result{}, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup source %q: %w", in.SourceName, err)}
	}
	if source == nil {
		return Result{}, &pipeline.InvariantError{Cause: fmt.Errorf("unknown source %q: sources must be registered before ingest", in.SourceName)}
	}

	existing, err := i.gw.RawListings.GetBySourceAndAdID(source.ID, in.SiteAdID)
	if err != nil {
		return Result{}, &pipeline.TransientIOError{Cause: fmt.Errorf("lookup raw listing: %w", err)}
	}

	if existing == nil {
		rawHTML, rawHTMLKey, err := i.maybeOverflow(in.RawHTML)
		if err != nil {
			return Result{}, err
		}
		rl := &domain.RawListing{
			SourceID:   source.ID,
			SiteAdID:   in.SiteAdID,
			URL:        in.URL,
			RawHTML:    rawHTML,
			RawHTMLKey: rawHTMLKey,
			ParsedMap:  in.ParsedMap,
			Active:     true,
		}
		err = i.gw.WithStandardTx(func(tx *sql.Tx) error {
			return i.gw.RawListings.Insert(tx, rl)
		})
		if err != nil {
			return Result{}, &pipeline.TransientIOError{Cause: fmt.Errorf("insert raw listing: %w", err)}
		}
		i.log.Info().Str("source", in.SourceName).Str("site_ad_id", in.SiteAdID).Str("raw_id", rl.ID).Msg("ingested new raw listing")
		return Result{RawListingID: rl.ID, IsNew: true}, nil
	}

	err = i.gw.WithStandardTx(func(tx *sql.Tx) error {
		return i.gw.RawListings.TouchSeen(tx, existing.ID, in.HTTPMeta, in.RawHTML, len(existing.RawHTML))
	})
	if err != nil {
		return Result{}, &pipeline.TransientIOError{Cause: fmt.Errorf("touch raw listing: %w", err)}
	}

	if in.ScrapedPrice != nil {
		if err := i.recordPriceChangeIfAny(existing.ID, *in.ScrapedPrice); err != nil {
			return Result{}, err
		}
	}

	i.log.Debug().Str("raw_id", existing.ID).Msg("re-ingested raw listing (idempotent touch)")
	return Result{RawListingID: existing.ID, IsNew: false}, nil
}

// maybeOverflow pushes rawHTML to blob storage when it exceeds the inline
// threshold, returning the (possibly empty) inline content and the object
// key to store instead (spec §12). With no blobstore configured, or content
// under the threshold, rawHTML passes through unchanged and the key is empty.
func (i *Ingestor) maybeOverflow(rawHTML string) (inline string, key string, err error) {
	if i.blobs == nil || len(rawHTML) <= i.inlineMaxBytes {
		return rawHTML, "", nil
	}
	key, err = i.blobs.Put(context.Background(), rawHTML)
	if err != nil {
		return "", "", &pipeline.TransientIOError{Cause: fmt.Errorf("overflow raw_html to blob storage: %w", err)}
	}
	return "", key, nil
}

// recordPriceChangeIfAny appends a PriceHistory row only when the scraped
// price differs from the current NormalizedListing's price, per spec §4.2.
func (i *Ingestor) recordPriceChangeIfAny(rawID string, scrapedPrice float64) error {
	normalized, err := i.gw.NormalizedListings.GetByRawID(rawID)
	if err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("lookup normalized listing: %w", err)}
	}
	if normalized == nil {
		return nil
	}
	if normalized.PriceAmount != nil && *normalized.PriceAmount == scrapedPrice {
		return nil
	}
	if err := i.gw.PriceHistory.Append(normalized.ID, scrapedPrice); err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("append price history: %w", err)}
	}
	i.log.Info().Str("listing_id", normalized.ID).Float64("price", scrapedPrice).Msg("price change observed")
	return nil
}
