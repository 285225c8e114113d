package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NormalizedListingRepository handles NormalizedListing database operations.
type NormalizedListingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const normalizedColumns = `id, raw_id, canonical_brand, canonical_model, year, mileage_km, fuel, gearbox,
	body, price_amount, currency, region, title, description, description_hash, version,
	is_duplicate, canonical_of, seller_id, image_urls, first_image_phash, engine_power_hp,
	engine_volume_cc, created_at, updated_at`

func (r *NormalizedListingRepository) scan(rows *sql.Rows) (*domain.NormalizedListing, error) {
	var l domain.NormalizedListing
	var brand, model, fuel, gearbox, body, currency, region, title, description, descHash, canonicalOf, sellerID, imageURLs sql.NullString
	var year, mileage, phash, power, volume sql.NullInt64
	var price sql.NullFloat64
	var isDup int
	var createdAt, updatedAt string

	if err := rows.Scan(&l.ID, &l.RawID, &brand, &model, &year, &mileage, &fuel, &gearbox,
		&body, &price, &currency, &region, &title, &description, &descHash, &l.Version,
		&isDup, &canonicalOf, &sellerID, &imageURLs, &phash, &power, &volume,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	l.CanonicalBrand = strPtr(brand)
	l.CanonicalModel = strPtr(model)
	l.Year = intPtr(year)
	l.MileageKM = intPtr(mileage)
	l.Fuel = strPtr(fuel)
	l.Gearbox = strPtr(gearbox)
	l.Body = strPtr(body)
	l.PriceAmount = floatPtr(price)
	l.Currency = currency.String
	l.Region = region.String
	l.Title = title.String
	l.Description = description.String
	l.DescriptionHash = descHash.String
	l.IsDuplicate = isDup != 0
	l.CanonicalOf = strPtr(canonicalOf)
	l.SellerID = strPtr(sellerID)
	if phash.Valid {
		v := uint64(phash.Int64)
		l.FirstImagePHash = &v
	}
	l.EnginePowerHP = intPtr(power)
	l.EngineVolumeCC = intPtr(volume)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	if imageURLs.Valid && imageURLs.String != "" {
		_ = json.Unmarshal([]byte(imageURLs.String), &l.ImageURLs)
	}
	return &l, nil
}

// GetByRawID returns the NormalizedListing owned by a RawListing, or nil.
func (r *NormalizedListingRepository) GetByRawID(rawID string) (*domain.NormalizedListing, error) {
	rows, err := r.db.Query("SELECT "+normalizedColumns+" FROM normalized_listings WHERE raw_id = ?", rawID)
	if err != nil {
		return nil, fmt.Errorf("query normalized listing by raw_id: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// GetByID returns a NormalizedListing by id, or nil.
func (r *NormalizedListingRepository) GetByID(id string) (*domain.NormalizedListing, error) {
	rows, err := r.db.Query("SELECT "+normalizedColumns+" FROM normalized_listings WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("query normalized listing: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// fieldsEqual reports whether the mutable fields of two listings match,
// used to decide whether Upsert should bump the version counter.
func fieldsEqual(a, b *domain.NormalizedListing) bool {
	eq := func(x, y *string) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	eqI := func(x, y *int) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	eqF := func(x, y *float64) bool {
		if x == nil || y == nil {
			return x == y
		}
		return *x == *y
	}
	return eq(a.CanonicalBrand, b.CanonicalBrand) && eq(a.CanonicalModel, b.CanonicalModel) &&
		eqI(a.Year, b.Year) && eqI(a.MileageKM, b.MileageKM) && eq(a.Fuel, b.Fuel) &&
		eq(a.Gearbox, b.Gearbox) && eq(a.Body, b.Body) && eqF(a.PriceAmount, b.PriceAmount) &&
		a.Currency == b.Currency && a.Title == b.Title && a.Description == b.Description
}

// Upsert creates or updates the NormalizedListing owned by next.RawID. The
// version counter increments only when a mutable field actually changed
// (spec §4.4 step 7, testable property "version counter increments only
// when an input changed"). isNew reports whether this was a first creation,
// which callers use to decide whether to hand off to the Deduplicator.
func (r *NormalizedListingRepository) Upsert(tx *sql.Tx, next *domain.NormalizedListing) (isNew bool, err error) {
	existing, err := r.GetByRawID(next.RawID)
	if err != nil {
		return false, err
	}

	imageURLsJSON, err := json.Marshal(next.ImageURLs)
	if err != nil {
		return false, fmt.Errorf("marshal image_urls: %w", err)
	}

	now := nowStr()
	var phash sql.NullInt64
	if next.FirstImagePHash != nil {
		phash = sql.NullInt64{Int64: int64(*next.FirstImagePHash), Valid: true}
	}

	if existing == nil {
		next.ID = uuid.New().String()
		next.Version = 1
		next.CreatedAt = parseTime(now)
		next.UpdatedAt = parseTime(now)
		_, err = tx.Exec(`INSERT INTO normalized_listings(
			id, raw_id, canonical_brand, canonical_model, year, mileage_km, fuel, gearbox, body,
			price_amount, currency, region, title, description, description_hash, version,
			is_duplicate, canonical_of, seller_id, image_urls, first_image_phash, engine_power_hp,
			engine_volume_cc, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1,0,?,?,?,?,?,?,?,?)`,
			next.ID, next.RawID, nullableString(next.CanonicalBrand), nullableString(next.CanonicalModel),
			nullableInt(next.Year), nullableInt(next.MileageKM), nullableString(next.Fuel),
			nullableString(next.Gearbox), nullableString(next.Body), nullableFloat(next.PriceAmount),
			next.Currency, next.Region, next.Title, next.Description, next.DescriptionHash,
			nullableString(next.CanonicalOf), nullableString(next.SellerID), string(imageURLsJSON),
			phash, nullableInt(next.EnginePowerHP), nullableInt(next.EngineVolumeCC), now, now)
		if err != nil {
			return false, fmt.Errorf("insert normalized listing: %w", err)
		}
		return true, nil
	}

	next.ID = existing.ID
	next.IsDuplicate = existing.IsDuplicate
	next.CanonicalOf = existing.CanonicalOf
	next.Version = existing.Version
	if !fieldsEqual(existing, next) {
		next.Version = existing.Version + 1
	}

	_, err = tx.Exec(`UPDATE normalized_listings SET
		canonical_brand=?, canonical_model=?, year=?, mileage_km=?, fuel=?, gearbox=?, body=?,
		price_amount=?, currency=?, region=?, title=?, description=?, description_hash=?,
		version=?, seller_id=?, image_urls=?, first_image_phash=?, engine_power_hp=?,
		engine_volume_cc=?, updated_at=? WHERE id=?`,
		nullableString(next.CanonicalBrand), nullableString(next.CanonicalModel),
		nullableInt(next.Year), nullableInt(next.MileageKM), nullableString(next.Fuel),
		nullableString(next.Gearbox), nullableString(next.Body), nullableFloat(next.PriceAmount),
		next.Currency, next.Region, next.Title, next.Description, next.DescriptionHash,
		next.Version, nullableString(next.SellerID), string(imageURLsJSON), phash,
		nullableInt(next.EnginePowerHP), nullableInt(next.EngineVolumeCC), now, next.ID)
	if err != nil {
		return false, fmt.Errorf("update normalized listing: %w", err)
	}
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = parseTime(now)
	return false, nil
}

// MarkDuplicate sets is_duplicate and canonical_of. Per spec §4.5's
// invariant, canonicalOfID must reference a non-duplicate listing — callers
// (the Deduplicator) are responsible for having already path-compressed it.
func (r *NormalizedListingRepository) MarkDuplicate(id, canonicalOfID string) error {
	_, err := r.db.Exec("UPDATE normalized_listings SET is_duplicate = 1, canonical_of = ?, updated_at = ? WHERE id = ?",
		canonicalOfID, nowStr(), id)
	return err
}

// MarkCanonical marks a listing as the canonical (non-duplicate) root of its set.
func (r *NormalizedListingRepository) MarkCanonical(id string) error {
	_, err := r.db.Exec("UPDATE normalized_listings SET is_duplicate = 0, canonical_of = NULL, updated_at = ? WHERE id = ?", nowStr(), id)
	return err
}

// ComparablesCandidates selects peers per the Comparables Engine's filter
// (spec §4.6): same canonical brand/model, year ±2, non-duplicate, price >
// 500, created within the freshness horizon. Mileage/fuel/gearbox filters
// are applied in Go by the caller since they're conditionally dropped.
func (r *NormalizedListingRepository) ComparablesCandidates(brand, model string, yearMin, yearMax int, createdAfter string, excludeID string) ([]domain.NormalizedListing, error) {
	rows, err := r.db.Query(`SELECT `+normalizedColumns+` FROM normalized_listings
		WHERE canonical_brand = ? AND canonical_model = ? AND year BETWEEN ? AND ?
		AND is_duplicate = 0 AND price_amount > 500 AND created_at >= ? AND id != ?`,
		brand, model, yearMin, yearMax, createdAfter, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query comparables candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedListing
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// BySeller returns every listing (duplicate or not) owned by a seller,
// excluding excludeID, used by the Deduplicator's phone-hash tier.
func (r *NormalizedListingRepository) BySeller(sellerID, excludeID string) ([]domain.NormalizedListing, error) {
	rows, err := r.db.Query("SELECT "+normalizedColumns+" FROM normalized_listings WHERE seller_id = ? AND id != ?", sellerID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query listings by seller: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedListing
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// NonDuplicateInSource returns every non-duplicate listing in the same
// source for the Deduplicator's trigram pass. Filtering by actual
// similarity happens in Go; this query only narrows by source.
func (r *NormalizedListingRepository) NonDuplicateInSource(sourceID string, excludeID string) ([]domain.NormalizedListing, error) {
	rows, err := r.db.Query(`SELECT nl.`+withPrefix(normalizedColumns, "nl")+`
		FROM normalized_listings nl JOIN raw_listings rl ON rl.id = nl.raw_id
		WHERE rl.source_id = ? AND nl.is_duplicate = 0 AND nl.id != ?`, sourceID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query non-duplicate listings in source: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedListing
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// FreshlyActive returns non-duplicate listings whose raw listing was last
// seen at or after since and first seen at or after firstSeenHorizon, used
// by the Monitor's periodic pass.
func (r *NormalizedListingRepository) FreshlyActive(since string, firstSeenHorizon string) ([]domain.NormalizedListing, error) {
	rows, err := r.db.Query(`SELECT nl.`+withPrefix(normalizedColumns, "nl")+`
		FROM normalized_listings nl JOIN raw_listings rl ON rl.id = nl.raw_id
		WHERE nl.is_duplicate = 0 AND (rl.last_seen_at >= ?) AND rl.first_seen_at >= ?`,
		since, firstSeenHorizon)
	if err != nil {
		return nil, fmt.Errorf("query freshly active listings: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedListing
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// StaleApproved returns approved listings whose Score was computed more than
// staleAfter ago and whose NormalizedListing is younger than maxAge, for the
// orchestrator's hourly rescore-stale sweep.
func (r *NormalizedListingRepository) StaleApproved(scoredBefore string, createdAfter string) ([]domain.NormalizedListing, error) {
	rows, err := r.db.Query(`SELECT nl.`+withPrefix(normalizedColumns, "nl")+`
		FROM normalized_listings nl JOIN scores s ON s.listing_id = nl.id
		WHERE s.final_state = 'approved' AND s.scored_at < ? AND nl.created_at >= ?`,
		scoredBefore, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("query stale approved listings: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedListing
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func withPrefix(cols, prefix string) string {
	parts := []byte{}
	field := []byte{}
	flush := func() {
		if len(field) > 0 {
			if len(parts) > 0 {
				parts = append(parts, ',', ' ')
			}
			parts = append(parts, prefix...)
			parts = append(parts, '.')
			parts = append(parts, field...)
			field = field[:0]
		}
	}
	for _, c := range []byte(cols) {
		if c == ',' {
			flush()
			continue
		}
		if c == ' ' {
			continue
		}
		field = append(field, c)
	}
	flush()
	return string(parts)
}
