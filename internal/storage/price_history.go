package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PriceHistoryRepository handles the append-only price_history ledger.
type PriceHistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const priceHistoryColumns = `id, listing_id, price_amount, observed_at`

// Append records a new observed price point. Callers only invoke this when
// the price actually changed from the last observation (spec §3).
func (r *PriceHistoryRepository) Append(listingID string, priceAmount float64) error {
	_, err := r.db.Exec(`INSERT INTO price_history(id, listing_id, price_amount, observed_at)
		VALUES (?, ?, ?, ?)`, uuid.New().String(), listingID, priceAmount, nowStr())
	if err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	return nil
}

// ForListing returns every observed price point for a listing, oldest first.
func (r *PriceHistoryRepository) ForListing(listingID string) ([]domain.PriceHistory, error) {
	rows, err := r.db.Query("SELECT "+priceHistoryColumns+" FROM price_history WHERE listing_id = ? ORDER BY observed_at ASC", listingID)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceHistory
	for rows.Next() {
		var p domain.PriceHistory
		var observedAt string
		if err := rows.Scan(&p.ID, &p.ListingID, &p.PriceAmount, &observedAt); err != nil {
			return nil, err
		}
		p.ObservedAt = parseTime(observedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Latest returns the most recently observed price for a listing, or nil.
func (r *PriceHistoryRepository) Latest(listingID string) (*domain.PriceHistory, error) {
	rows, err := r.db.Query("SELECT "+priceHistoryColumns+" FROM price_history WHERE listing_id = ? ORDER BY observed_at DESC LIMIT 1", listingID)
	if err != nil {
		return nil, fmt.Errorf("query latest price: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	var p domain.PriceHistory
	var observedAt string
	if err := rows.Scan(&p.ID, &p.ListingID, &p.PriceAmount, &observedAt); err != nil {
		return nil, err
	}
	p.ObservedAt = parseTime(observedAt)
	return &p, nil
}
