package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DuplicateLogRepository handles the append-only duplicates_log audit trail.
type DuplicateLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const duplicateLogColumns = `id, listing_id, duplicate_of, method, score, decided_at`

// Append records a dedupe decision. Never updated or deleted (spec §3).
func (r *DuplicateLogRepository) Append(listingID, duplicateOf string, method domain.DedupeMethod, score float64) error {
	_, err := r.db.Exec(`INSERT INTO duplicates_log(id, listing_id, duplicate_of, method, score, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)`, uuid.New().String(), listingID, duplicateOf, string(method), score, nowStr())
	if err != nil {
		return fmt.Errorf("append duplicate log: %w", err)
	}
	return nil
}

// ForListing returns the dedupe decision history for a listing, oldest first.
func (r *DuplicateLogRepository) ForListing(listingID string) ([]domain.DuplicateLog, error) {
	rows, err := r.db.Query("SELECT "+duplicateLogColumns+" FROM duplicates_log WHERE listing_id = ? ORDER BY decided_at ASC", listingID)
	if err != nil {
		return nil, fmt.Errorf("query duplicate log: %w", err)
	}
	defer rows.Close()

	var out []domain.DuplicateLog
	for rows.Next() {
		var d domain.DuplicateLog
		var method, decidedAt string
		if err := rows.Scan(&d.ID, &d.ListingID, &d.DuplicateOf, &method, &d.Score, &decidedAt); err != nil {
			return nil, err
		}
		d.Method = domain.DedupeMethod(method)
		d.DecidedAt = parseTime(decidedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
