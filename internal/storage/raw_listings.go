package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RawListingRepository handles RawListing database operations.
type RawListingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const rawListingColumns = `id, source_id, site_ad_id, url, raw_html, raw_html_key, parsed_map,
	first_seen_at, last_seen_at, is_active, http_status, etag, last_modified, parse_errors,
	created_at, updated_at`

func (r *RawListingRepository) scanOne(rows *sql.Rows) (*domain.RawListing, error) {
	var rl domain.RawListing
	var rawHTML, rawHTMLKey, parsedMap, etag, lastModified, parseErrors sql.NullString
	var httpStatus sql.NullInt64
	var isActive int
	var firstSeen, lastSeen, createdAt, updatedAt string

	if err := rows.Scan(&rl.ID, &rl.SourceID, &rl.SiteAdID, &rl.URL, &rawHTML, &rawHTMLKey,
		&parsedMap, &firstSeen, &lastSeen, &isActive, &httpStatus, &etag, &lastModified,
		&parseErrors, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rl.RawHTML = rawHTML.String
	rl.RawHTMLKey = rawHTMLKey.String
	rl.Active = isActive != 0
	rl.HTTPStatus = int(httpStatus.Int64)
	rl.ETag = etag.String
	rl.LastModified = lastModified.String
	rl.ParseErrors = parseErrors.String
	rl.FirstSeenAt = parseTime(firstSeen)
	rl.LastSeenAt = parseTime(lastSeen)
	rl.CreatedAt = parseTime(createdAt)
	rl.UpdatedAt = parseTime(updatedAt)

	if parsedMap.Valid && parsedMap.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(parsedMap.String), &m); err == nil {
			rl.ParsedMap = m
		}
	}
	return &rl, nil
}

// GetBySourceAndAdID enforces the (source, site_ad_id) uniqueness invariant
// at read time: this is the lookup Upsert always performs first.
func (r *RawListingRepository) GetBySourceAndAdID(sourceID, siteAdID string) (*domain.RawListing, error) {
	rows, err := r.db.Query("SELECT "+rawListingColumns+" FROM raw_listings WHERE source_id = ? AND site_ad_id = ?", sourceID, siteAdID)
	if err != nil {
		return nil, fmt.Errorf("query raw listing: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scanOne(rows)
}

// GetByID returns a RawListing by id, or nil if not found.
func (r *RawListingRepository) GetByID(id string) (*domain.RawListing, error) {
	rows, err := r.db.Query("SELECT "+rawListingColumns+" FROM raw_listings WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("query raw listing by id: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scanOne(rows)
}

// Insert creates a brand-new RawListing row. Callers must have already
// checked GetBySourceAndAdID returned nil — the (source_id, site_ad_id)
// unique index is the last line of defense.
func (r *RawListingRepository) Insert(tx *sql.Tx, rl *domain.RawListing) error {
	rl.ID = uuid.New().String()
	now := nowStr()
	rl.CreatedAt = parseTime(now)
	rl.UpdatedAt = parseTime(now)

	var parsedMapJSON sql.NullString
	if rl.ParsedMap != nil {
		b, err := json.Marshal(rl.ParsedMap)
		if err != nil {
			return fmt.Errorf("marshal parsed_map: %w", err)
		}
		parsedMapJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := tx.Exec(`INSERT INTO raw_listings(
		id, source_id, site_ad_id, url, raw_html, raw_html_key, parsed_map,
		first_seen_at, last_seen_at, is_active, http_status, etag, last_modified, parse_errors,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
		rl.ID, rl.SourceID, rl.SiteAdID, rl.URL, nullIfEmpty(rl.RawHTML), nullIfEmpty(rl.RawHTMLKey),
		parsedMapJSON, nowStr(), nowStr(), rl.HTTPStatus, nullIfEmpty(rl.ETag), nullIfEmpty(rl.LastModified),
		nullIfEmpty(rl.ParseErrors), now, now)
	if err != nil {
		return fmt.Errorf("insert raw listing: %w", err)
	}
	return nil
}

// TouchSeen updates last_seen_at, re-activates, and merges new HTTP metadata.
// raw_html is only overwritten when the new content is non-trivially longer
// than what is already stored (spec §4.2).
func (r *RawListingRepository) TouchSeen(tx *sql.Tx, id string, meta domain.HTTPMeta, newRawHTML string, existingRawHTMLLen int) error {
	now := nowStr()
	if newRawHTML != "" && len(newRawHTML) > existingRawHTMLLen+64 {
		_, err := tx.Exec(`UPDATE raw_listings SET last_seen_at = ?, is_active = 1,
			http_status = ?, etag = ?, last_modified = ?, raw_html = ?, updated_at = ? WHERE id = ?`,
			now, meta.Status, nullIfEmpty(meta.ETag), nullIfEmpty(meta.LastModified), newRawHTML, now, id)
		return err
	}
	_, err := tx.Exec(`UPDATE raw_listings SET last_seen_at = ?, is_active = 1,
		http_status = ?, etag = ?, last_modified = ?, updated_at = ? WHERE id = ?`,
		now, meta.Status, nullIfEmpty(meta.ETag), nullIfEmpty(meta.LastModified), now, id)
	return err
}

// SetParseErrors records an ExtractError outcome without creating a
// NormalizedListing; the raw listing remains eligible for re-ingestion.
func (r *RawListingRepository) SetParseErrors(id, errText string) error {
	_, err := r.db.Exec("UPDATE raw_listings SET parse_errors = ?, updated_at = ? WHERE id = ?", errText, nowStr(), id)
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
