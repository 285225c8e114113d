// Package storage is the Storage Gateway (spec §4.1): typed CRUD operations
// per entity, with transactional boundaries enforced at the gateway and the
// data-model invariants from spec §3 enforced at write time. Read operations
// outside transactions are permitted; writes are always transactional.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel/internal/database"
	"github.com/rs/zerolog"
)

// Gateway aggregates the per-entity repositories over the three physical
// SQLite databases (standard, ledger, cache — spec §10.3).
type Gateway struct {
	Standard *database.DB
	Ledger   *database.DB
	Cache    *database.DB
	log      zerolog.Logger

	Sources             *SourceRepository
	RawListings          *RawListingRepository
	BrandModels          *BrandModelRepository
	Sellers              *SellerRepository
	NormalizedListings   *NormalizedListingRepository
	PriceHistory         *PriceHistoryRepository
	DuplicateLog         *DuplicateLogRepository
	DedupeSignatures     *DedupeSignatureRepository
	Comparables          *ComparablesRepository
	Evaluations          *EvaluationRepository
	Scores               *ScoreRepository
	StageQueue           *StageQueueRepository
	NotificationLog      *NotificationLogRepository
	LLMEvalCache         *LLMEvalCacheRepository
}

// New wires every repository against its owning physical database.
func New(standard, ledger, cache *database.DB, log zerolog.Logger) *Gateway {
	log = log.With().Str("component", "storage").Logger()
	return &Gateway{
		Standard: standard,
		Ledger:   ledger,
		Cache:    cache,
		log:      log,

		Sources:           &SourceRepository{db: standard.Conn(), log: log},
		RawListings:       &RawListingRepository{db: standard.Conn(), log: log},
		BrandModels:       &BrandModelRepository{db: standard.Conn(), log: log},
		Sellers:           &SellerRepository{db: standard.Conn(), log: log},
		NormalizedListings: &NormalizedListingRepository{db: standard.Conn(), log: log},
		PriceHistory:      &PriceHistoryRepository{db: ledger.Conn(), log: log},
		DuplicateLog:      &DuplicateLogRepository{db: ledger.Conn(), log: log},
		DedupeSignatures:  &DedupeSignatureRepository{db: standard.Conn(), log: log},
		Comparables:       &ComparablesRepository{db: cache.Conn(), log: log},
		Evaluations:       &EvaluationRepository{db: standard.Conn(), log: log},
		Scores:            &ScoreRepository{db: standard.Conn(), log: log},
		StageQueue:        &StageQueueRepository{db: cache.Conn(), log: log},
		NotificationLog:   &NotificationLogRepository{db: cache.Conn(), log: log},
		LLMEvalCache:      &LLMEvalCacheRepository{db: cache.Conn(), log: log},
	}
}

// Migrate applies every physical database's schema.
func (g *Gateway) Migrate() error {
	if err := g.Standard.Migrate(); err != nil {
		return fmt.Errorf("migrate standard db: %w", err)
	}
	if err := g.Ledger.Migrate(); err != nil {
		return fmt.Errorf("migrate ledger db: %w", err)
	}
	if err := g.Cache.Migrate(); err != nil {
		return fmt.Errorf("migrate cache db: %w", err)
	}
	return nil
}

// WithStandardTx runs fn within a transaction against the standard database,
// handling begin/commit/rollback the way database.WithTransaction does.
func (g *Gateway) WithStandardTx(fn func(*sql.Tx) error) error {
	return database.WithTransaction(g.Standard.Conn(), fn)
}

// InvariantError indicates a write would violate a data-model invariant
// declared in spec §3. Non-retryable — the caller classifies it as such.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Msg }

func nowStr() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func strPtr(n sql.NullString) *string {
	if !n.Valid || n.String == "" {
		return nil
	}
	v := n.String
	return &v
}
