package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// EvaluationRepository handles the risk-classification result per listing
// (spec §4.7): rule-based red flags plus an optional LLM opinion.
type EvaluationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const evaluationColumns = `listing_id, flags, risk_level, llm_summary, rule_confidence, llm_confidence, model_versions, evaluated_at`

func (r *EvaluationRepository) scan(rows *sql.Rows) (*domain.Evaluation, error) {
	var e domain.Evaluation
	var flags, llmSummary, modelVersions sql.NullString
	var riskLevel string
	var evaluatedAt string
	if err := rows.Scan(&e.ListingID, &flags, &riskLevel, &llmSummary, &e.RuleConfidence,
		&e.LLMConfidence, &modelVersions, &evaluatedAt); err != nil {
		return nil, err
	}
	e.RiskLevel = domain.RiskLevel(riskLevel)
	e.LLMSummary = llmSummary.String
	e.EvaluatedAt = parseTime(evaluatedAt)
	if flags.Valid && flags.String != "" {
		_ = json.Unmarshal([]byte(flags.String), &e.Flags)
	}
	if modelVersions.Valid && modelVersions.String != "" {
		_ = json.Unmarshal([]byte(modelVersions.String), &e.ModelVersions)
	}
	return &e, nil
}

// Get returns the Evaluation for a listing, or nil.
func (r *EvaluationRepository) Get(listingID string) (*domain.Evaluation, error) {
	rows, err := r.db.Query("SELECT "+evaluationColumns+" FROM evaluations WHERE listing_id = ?", listingID)
	if err != nil {
		return nil, fmt.Errorf("query evaluation: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return r.scan(rows)
}

// Upsert writes (or replaces) the Evaluation for a listing.
func (r *EvaluationRepository) Upsert(e *domain.Evaluation) error {
	flagsJSON, err := json.Marshal(e.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	versionsJSON, err := json.Marshal(e.ModelVersions)
	if err != nil {
		return fmt.Errorf("marshal model_versions: %w", err)
	}
	now := nowStr()
	_, err = r.db.Exec(`INSERT INTO evaluations(listing_id, flags, risk_level, llm_summary,
		rule_confidence, llm_confidence, model_versions, evaluated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(listing_id) DO UPDATE SET flags=excluded.flags, risk_level=excluded.risk_level,
		llm_summary=excluded.llm_summary, rule_confidence=excluded.rule_confidence,
		llm_confidence=excluded.llm_confidence, model_versions=excluded.model_versions,
		evaluated_at=excluded.evaluated_at`,
		e.ListingID, string(flagsJSON), string(e.RiskLevel), nullIfEmpty(e.LLMSummary),
		e.RuleConfidence, e.LLMConfidence, string(versionsJSON), now)
	if err != nil {
		return fmt.Errorf("upsert evaluation: %w", err)
	}
	return nil
}
