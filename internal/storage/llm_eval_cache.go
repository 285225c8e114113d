package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// LLMEvalCacheEntry is the durable counterpart of llmeval.DescriptionHashCache's
// in-process cache (spec §12: "the Storage Gateway is the durable counterpart
// of this cache"), surviving process restarts.
type LLMEvalCacheEntry struct {
	DescriptionHash string
	RiskLevel       string
	Summary         string
	Reasons         []string
	BuyerNotes      string
	Confidence      float64
}

// LLMEvalCacheRepository persists LLM collaborator responses keyed by
// description-hash, in the cache physical database alongside the
// comparables cache -- recomputable (re-evaluated) if lost.
type LLMEvalCacheRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// Get returns the cached entry for hash, or nil if absent.
func (r *LLMEvalCacheRepository) Get(hash string) (*LLMEvalCacheEntry, error) {
	var e LLMEvalCacheEntry
	var reasonsJSON sql.NullString
	e.DescriptionHash = hash
	err := r.db.QueryRow(`SELECT risk_level, summary, reasons, buyer_notes, confidence
		FROM llm_eval_cache WHERE description_hash = ?`, hash).
		Scan(&e.RiskLevel, &e.Summary, &reasonsJSON, &e.BuyerNotes, &e.Confidence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query llm eval cache: %w", err)
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		_ = json.Unmarshal([]byte(reasonsJSON.String), &e.Reasons)
	}
	return &e, nil
}

// Put writes (or replaces) the cached entry for hash.
func (r *LLMEvalCacheRepository) Put(e LLMEvalCacheEntry) error {
	reasonsJSON, err := json.Marshal(e.Reasons)
	if err != nil {
		return fmt.Errorf("marshal llm eval reasons: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO llm_eval_cache(description_hash, risk_level, summary, reasons, buyer_notes, confidence, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(description_hash) DO UPDATE SET risk_level=excluded.risk_level, summary=excluded.summary,
		reasons=excluded.reasons, buyer_notes=excluded.buyer_notes, confidence=excluded.confidence, cached_at=excluded.cached_at`,
		e.DescriptionHash, e.RiskLevel, e.Summary, string(reasonsJSON), e.BuyerNotes, e.Confidence, nowStr())
	if err != nil {
		return fmt.Errorf("upsert llm eval cache: %w", err)
	}
	return nil
}
