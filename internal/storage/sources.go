package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SourceRepository handles Source database operations.
type SourceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const sourceColumns = `id, name, base_url, enabled, crawl_interval_s, created_at, updated_at`

func (r *SourceRepository) scan(row *sql.Rows) (*domain.Source, error) {
	var s domain.Source
	var enabled int
	var crawlS int
	var createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Name, &s.BaseURL, &enabled, &crawlS, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Enabled = enabled != 0
	s.CrawlInterval = time.Duration(crawlS) * time.Second
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// GetByName returns a Source by its stable name, or nil if not found.
func (r *SourceRepository) GetByName(name string) (*domain.Source, error) {
	rows, err := r.db.Query("SELECT "+sourceColumns+" FROM sources WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("query source by name: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// Upsert inserts or updates a Source by name, seeding sensible defaults.
func (r *SourceRepository) Upsert(tx *sql.Tx, name, baseURL string, crawlInterval time.Duration) (*domain.Source, error) {
	existing, err := r.GetByName(name)
	if err != nil {
		return nil, err
	}
	now := nowStr()
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.Exec(query, args...)
		}
		return r.db.Exec(query, args...)
	}
	if existing != nil {
		_, err := exec("UPDATE sources SET base_url = ?, updated_at = ? WHERE id = ?", baseURL, now, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("update source: %w", err)
		}
		existing.BaseURL = baseURL
		return existing, nil
	}

	id := uuid.New().String()
	_, err = exec(`INSERT INTO sources(id, name, base_url, enabled, crawl_interval_s, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)`, id, name, baseURL, int(crawlInterval.Seconds()), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	return &domain.Source{
		ID: id, Name: name, BaseURL: baseURL, Enabled: true,
		CrawlInterval: crawlInterval, CreatedAt: parseTime(now), UpdatedAt: parseTime(now),
	}, nil
}

// GetByID returns a Source by id, or nil if not found.
func (r *SourceRepository) GetByID(id string) (*domain.Source, error) {
	rows, err := r.db.Query("SELECT "+sourceColumns+" FROM sources WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("query source by id: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// List returns every enabled Source.
func (r *SourceRepository) ListEnabled() ([]domain.Source, error) {
	rows, err := r.db.Query("SELECT " + sourceColumns + " FROM sources WHERE enabled = 1")
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
