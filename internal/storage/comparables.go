package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// ComparablesRepository handles the ephemeral, recomputable comparables
// cache (spec §4.6). Lives in the cache physical database — synchronous
// OFF, safe to lose on crash since it is always recomputable from
// NormalizedListings.
type ComparablesRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const comparablesColumns = `listing_id, sample_size, mean, std_dev, p10, p25, p50, p75, p90,
	discount_pct, confidence, model_version, computed_at, priced_at`

func (r *ComparablesRepository) scan(rows *sql.Rows) (*domain.Comparables, error) {
	var c domain.Comparables
	var computedAt string
	var pricedAt float64
	if err := rows.Scan(&c.ListingID, &c.SampleSize, &c.Mean, &c.StdDev, &c.P10, &c.P25, &c.P50,
		&c.P75, &c.P90, &c.DiscountPct, &c.Confidence, &c.ModelVersion, &computedAt, &pricedAt); err != nil {
		return nil, err
	}
	c.ComputedAt = parseTime(computedAt)
	return &c, nil
}

// Get returns the cached Comparables for a listing, or nil if never computed.
func (r *ComparablesRepository) Get(listingID string) (*domain.Comparables, error) {
	rows, err := r.db.Query("SELECT "+comparablesColumns+" FROM comparables_cache WHERE listing_id = ?", listingID)
	if err != nil {
		return nil, fmt.Errorf("query comparables: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// Upsert writes (or replaces) the cached Comparables for a listing, along
// with the subject price at computation time so staleness can be detected
// when the subject's own price later changes.
func (r *ComparablesRepository) Upsert(c *domain.Comparables, subjectPrice float64) error {
	now := nowStr()
	_, err := r.db.Exec(`INSERT INTO comparables_cache(
		listing_id, sample_size, mean, std_dev, p10, p25, p50, p75, p90, discount_pct,
		confidence, model_version, computed_at, priced_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(listing_id) DO UPDATE SET sample_size=excluded.sample_size, mean=excluded.mean,
		std_dev=excluded.std_dev, p10=excluded.p10, p25=excluded.p25, p50=excluded.p50,
		p75=excluded.p75, p90=excluded.p90, discount_pct=excluded.discount_pct,
		confidence=excluded.confidence, model_version=excluded.model_version,
		computed_at=excluded.computed_at, priced_at=excluded.priced_at`,
		c.ListingID, c.SampleSize, c.Mean, c.StdDev, c.P10, c.P25, c.P50, c.P75, c.P90,
		c.DiscountPct, c.Confidence, c.ModelVersion, now, subjectPrice)
	if err != nil {
		return fmt.Errorf("upsert comparables: %w", err)
	}
	return nil
}

// IsStale reports whether a cached entry should be recomputed: older than
// ttl, or the subject's current price has drifted from what was cached.
func (r *ComparablesRepository) IsStale(c *domain.Comparables, currentPrice float64, priced float64, ttl time.Duration) bool {
	if time.Since(c.ComputedAt) > ttl {
		return true
	}
	return priced != currentPrice
}

// PricedAt returns the subject price stored alongside a cached entry, used
// by IsStale's caller to detect subject-price drift without re-querying.
func (r *ComparablesRepository) PricedAt(listingID string) (float64, error) {
	var priced float64
	err := r.db.QueryRow("SELECT priced_at FROM comparables_cache WHERE listing_id = ?", listingID).Scan(&priced)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query priced_at: %w", err)
	}
	return priced, nil
}
