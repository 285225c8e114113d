package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SellerRepository handles Seller database operations.
type SellerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const sellerColumns = `id, phone_hash, name, contact_count, blacklist, created_at, updated_at`

func (r *SellerRepository) scan(rows *sql.Rows) (*domain.Seller, error) {
	var s domain.Seller
	var name sql.NullString
	var blacklist int
	var createdAt, updatedAt string
	if err := rows.Scan(&s.ID, &s.PhoneHash, &name, &s.ContactCount, &blacklist, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Name = name.String
	s.Blacklist = blacklist != 0
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// GetByPhoneHash returns the Seller for a hashed phone number, or nil.
func (r *SellerRepository) GetByPhoneHash(phoneHash string) (*domain.Seller, error) {
	rows, err := r.db.Query("SELECT "+sellerColumns+" FROM sellers WHERE phone_hash = ?", phoneHash)
	if err != nil {
		return nil, fmt.Errorf("query seller: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// GetOrCreate finds the Seller for phoneHash, creating one (contact_count=1)
// on first observation, else incrementing contact_count.
func (r *SellerRepository) GetOrCreate(phoneHash string) (*domain.Seller, error) {
	existing, err := r.GetByPhoneHash(phoneHash)
	if err != nil {
		return nil, err
	}
	now := nowStr()
	if existing != nil {
		if _, err := r.db.Exec("UPDATE sellers SET contact_count = contact_count + 1, updated_at = ? WHERE id = ?", now, existing.ID); err != nil {
			return nil, fmt.Errorf("bump seller contact count: %w", err)
		}
		existing.ContactCount++
		return existing, nil
	}

	id := uuid.New().String()
	if _, err := r.db.Exec(`INSERT INTO sellers(id, phone_hash, contact_count, blacklist, created_at, updated_at)
		VALUES (?, ?, 1, 0, ?, ?)`, id, phoneHash, now, now); err != nil {
		return nil, fmt.Errorf("insert seller: %w", err)
	}
	return &domain.Seller{ID: id, PhoneHash: phoneHash, ContactCount: 1, CreatedAt: parseTime(now), UpdatedAt: parseTime(now)}, nil
}
