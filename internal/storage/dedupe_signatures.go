package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// DedupeSignatureRepository handles per-listing dedupe fingerprints, one row
// per NormalizedListing (spec §4.5).
type DedupeSignatureRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const dedupeSignatureColumns = `listing_id, title_trigram, title_minhash, desc_minhash, first_image_phash, embedding, created_at`

func (r *DedupeSignatureRepository) scan(rows *sql.Rows) (*domain.DedupeSignature, error) {
	var s domain.DedupeSignature
	var phash sql.NullInt64
	var embedding sql.NullString
	var createdAt string
	if err := rows.Scan(&s.ListingID, &s.TitleTrigram, &s.TitleMinhash, &s.DescMinhash, &phash, &embedding, &createdAt); err != nil {
		return nil, err
	}
	if phash.Valid {
		v := uint64(phash.Int64)
		s.FirstImagePHash = &v
	}
	if embedding.Valid && embedding.String != "" {
		_ = json.Unmarshal([]byte(embedding.String), &s.Embedding)
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

// Upsert writes the dedupe signature for a listing, replacing any existing one.
func (r *DedupeSignatureRepository) Upsert(sig *domain.DedupeSignature) error {
	var phash sql.NullInt64
	if sig.FirstImagePHash != nil {
		phash = sql.NullInt64{Int64: int64(*sig.FirstImagePHash), Valid: true}
	}
	embeddingJSON, err := json.Marshal(sig.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	now := nowStr()
	_, err = r.db.Exec(`INSERT INTO dedupe_signatures(listing_id, title_trigram, title_minhash, desc_minhash, first_image_phash, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET title_trigram=excluded.title_trigram, title_minhash=excluded.title_minhash,
		desc_minhash=excluded.desc_minhash, first_image_phash=excluded.first_image_phash, embedding=excluded.embedding`,
		sig.ListingID, sig.TitleTrigram, sig.TitleMinhash, sig.DescMinhash, phash, string(embeddingJSON), now)
	if err != nil {
		return fmt.Errorf("upsert dedupe signature: %w", err)
	}
	return nil
}

// GetByListingID returns the signature for a listing, or nil.
func (r *DedupeSignatureRepository) GetByListingID(listingID string) (*domain.DedupeSignature, error) {
	rows, err := r.db.Query("SELECT "+dedupeSignatureColumns+" FROM dedupe_signatures WHERE listing_id = ?", listingID)
	if err != nil {
		return nil, fmt.Errorf("query dedupe signature: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// CandidatesWithPHash returns signatures sharing the exact perceptual hash,
// the cheapest of the Deduplicator's four tiers.
func (r *DedupeSignatureRepository) CandidatesWithPHash(phash uint64, excludeListingID string) ([]domain.DedupeSignature, error) {
	rows, err := r.db.Query("SELECT "+dedupeSignatureColumns+" FROM dedupe_signatures WHERE first_image_phash = ? AND listing_id != ?",
		int64(phash), excludeListingID)
	if err != nil {
		return nil, fmt.Errorf("query phash candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.DedupeSignature
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// AllExcept returns every signature except the given listing's, used by the
// embedding-cosine fallback tier when nothing cheaper matched.
func (r *DedupeSignatureRepository) AllExcept(excludeListingID string) ([]domain.DedupeSignature, error) {
	rows, err := r.db.Query("SELECT "+dedupeSignatureColumns+" FROM dedupe_signatures WHERE listing_id != ?", excludeListingID)
	if err != nil {
		return nil, fmt.Errorf("query all dedupe signatures: %w", err)
	}
	defer rows.Close()

	var out []domain.DedupeSignature
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
