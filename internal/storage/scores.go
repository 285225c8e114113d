package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// ScoreRepository handles the final Score state per listing (spec §4.8):
// draft, approved, or rejected, with the reasons that produced it.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const scoreColumns = `listing_id, score, reasons, freshness_bonus, liquidity, risk_penalty, final_state, scored_at`

func (r *ScoreRepository) scan(rows *sql.Rows) (*domain.Score, error) {
	var s domain.Score
	var reasons sql.NullString
	var finalState string
	var scoredAt string
	if err := rows.Scan(&s.ListingID, &s.Score, &reasons, &s.FreshnessBonus, &s.Liquidity,
		&s.RiskPenalty, &finalState, &scoredAt); err != nil {
		return nil, err
	}
	s.FinalState = domain.FinalState(finalState)
	s.ScoredAt = parseTime(scoredAt)
	if reasons.Valid && reasons.String != "" {
		_ = json.Unmarshal([]byte(reasons.String), &s.Reasons)
	}
	return &s, nil
}

// Get returns the current Score for a listing, or nil.
func (r *ScoreRepository) Get(listingID string) (*domain.Score, error) {
	rows, err := r.db.Query("SELECT "+scoreColumns+" FROM scores WHERE listing_id = ?", listingID)
	if err != nil {
		return nil, fmt.Errorf("query score: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// Upsert writes (or replaces) the Score for a listing. The caller decides
// FinalState; this repository does not enforce the draft→approved/rejected
// transition rule itself (that invariant lives in the Scorer, spec §4.8).
func (r *ScoreRepository) Upsert(s *domain.Score) error {
	reasonsJSON, err := json.Marshal(s.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	now := nowStr()
	_, err = r.db.Exec(`INSERT INTO scores(listing_id, score, reasons, freshness_bonus, liquidity,
		risk_penalty, final_state, scored_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(listing_id) DO UPDATE SET score=excluded.score, reasons=excluded.reasons,
		freshness_bonus=excluded.freshness_bonus, liquidity=excluded.liquidity,
		risk_penalty=excluded.risk_penalty, final_state=excluded.final_state, scored_at=excluded.scored_at`,
		s.ListingID, s.Score, string(reasonsJSON), s.FreshnessBonus, s.Liquidity, s.RiskPenalty,
		string(s.FinalState), now)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

// Approved returns every listing currently in the approved state, newest first.
func (r *ScoreRepository) Approved(limit int) ([]domain.Score, error) {
	rows, err := r.db.Query("SELECT "+scoreColumns+" FROM scores WHERE final_state = 'approved' ORDER BY scored_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query approved scores: %w", err)
	}
	defer rows.Close()

	var out []domain.Score
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
