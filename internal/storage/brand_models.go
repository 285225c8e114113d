package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// BrandModelRepository reads the read-mostly CanonicalBrandModel table.
type BrandModelRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

func (r *BrandModelRepository) scan(rows *sql.Rows) (*domain.CanonicalBrandModel, error) {
	var m domain.CanonicalBrandModel
	var aliases sql.NullString
	var active int
	if err := rows.Scan(&m.ID, &m.BrandString, &m.ModelString, &m.Locale, &aliases,
		&m.NormalizedBrand, &m.NormalizedModel, &active); err != nil {
		return nil, err
	}
	m.Active = active != 0
	if aliases.Valid && aliases.String != "" {
		_ = json.Unmarshal([]byte(aliases.String), &m.Aliases)
	}
	return &m, nil
}

const brandModelColumns = `id, brand_string, model_string, locale, aliases, normalized_brand, normalized_model, active`

// ExactMatch looks up (brand, model, locale) verbatim (case-insensitive).
func (r *BrandModelRepository) ExactMatch(brand, model, locale string) (*domain.CanonicalBrandModel, error) {
	rows, err := r.db.Query(`SELECT `+brandModelColumns+` FROM canonical_brand_models
		WHERE lower(brand_string) = lower(?) AND lower(model_string) = lower(?) AND locale = ? AND active = 1`,
		brand, model, locale)
	if err != nil {
		return nil, fmt.Errorf("exact match brand/model: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// AllForLocale returns every active mapping for a locale, used by the
// Normalizer's alias and fuzzy-match passes (loaded once, matched in memory).
func (r *BrandModelRepository) AllForLocale(locale string) ([]domain.CanonicalBrandModel, error) {
	rows, err := r.db.Query("SELECT "+brandModelColumns+" FROM canonical_brand_models WHERE locale = ? AND active = 1", locale)
	if err != nil {
		return nil, fmt.Errorf("list brand models: %w", err)
	}
	defer rows.Close()

	var out []domain.CanonicalBrandModel
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AliasMatch returns the mapping whose alias list contains the given
// (brand, model) pair, joined with a space the way aliases are stored.
func (r *BrandModelRepository) AliasMatch(brand, model, locale string) (*domain.CanonicalBrandModel, error) {
	all, err := r.AllForLocale(locale)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(brand + " " + model))
	for i := range all {
		for _, alias := range all[i].Aliases {
			if strings.ToLower(strings.TrimSpace(alias)) == needle {
				return &all[i], nil
			}
		}
	}
	return nil, nil
}
