// Package domain defines the core entities of the listing evaluation pipeline:
// sources, raw and normalized listings, sellers, dedupe signatures, comparables,
// risk evaluations and final scores. Types here are pure data — no storage or
// business logic lives in this package.
package domain

import "time"

// FinalState is the terminal decision a Score carries.
type FinalState string

const (
	StateDraft    FinalState = "draft"
	StateApproved FinalState = "approved"
	StateRejected FinalState = "rejected"
)

// RiskLevel classifies an Evaluation's overall risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DedupeMethod identifies which duplicate-detection method decided an outcome.
type DedupeMethod string

const (
	DedupePhone     DedupeMethod = "phone"
	DedupeImage     DedupeMethod = "image"
	DedupeTitle     DedupeMethod = "title"
	DedupeEmbedding DedupeMethod = "embedding"
)

// Source is a marketplace listings are scraped from.
type Source struct {
	ID            string
	Name          string
	BaseURL       string
	Enabled       bool
	CrawlInterval time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HTTPMeta captures the conditional-request metadata recorded per fetch.
type HTTPMeta struct {
	Status       int
	ETag         string
	LastModified string
}

// RawListing is a captured scraped document, keyed uniquely by (Source, SiteAdID).
type RawListing struct {
	ID           string
	SourceID     string
	SiteAdID     string
	URL          string
	RawHTML      string // inline storage; empty when overflowed to blob storage
	RawHTMLKey   string // object key when raw_html exceeded the inline threshold
	ParsedMap    map[string]any
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	Active       bool
	HTTPStatus   int
	ETag         string
	LastModified string
	ParseErrors  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizedListing is the canonical, field-validated record derived from a RawListing.
type NormalizedListing struct {
	ID                string
	RawID             string
	CanonicalBrand    *string
	CanonicalModel    *string
	Year              *int
	MileageKM         *int
	Fuel              *string
	Gearbox           *string
	Body              *string
	PriceAmount       *float64 // canonical currency
	Currency          string   // original currency, preserved
	Region            string
	Title             string
	Description       string
	DescriptionHash   string
	Version           int
	IsDuplicate       bool
	CanonicalOf       *string // points to a non-duplicate NormalizedListing
	SellerID          *string
	ImageURLs         []string
	FirstImagePHash   *uint64
	EnginePowerHP      *int
	EngineVolumeCC     *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Seller aggregates listings by hashed phone number.
type Seller struct {
	ID           string
	PhoneHash    string
	Name         string
	ContactCount int
	Blacklist    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PriceHistory is an append-only record of observed prices for a listing.
type PriceHistory struct {
	ID         string
	ListingID  string
	PriceAmount float64
	ObservedAt time.Time
}

// DedupeSignature holds the precomputed fingerprints used by the Deduplicator.
type DedupeSignature struct {
	ListingID       string
	TitleTrigram    string
	TitleMinhash    string
	DescMinhash     string
	FirstImagePHash *uint64
	Embedding       []float64
	CreatedAt       time.Time
}

// DuplicateLog is an append-only audit trail of duplicate decisions.
type DuplicateLog struct {
	ID          string
	ListingID   string
	DuplicateOf string
	Method      DedupeMethod
	Score       float64
	DecidedAt   time.Time
}

// Comparables is the cached pricing analysis for a NormalizedListing.
type Comparables struct {
	ListingID    string
	SampleSize   int
	Mean         float64
	StdDev       float64
	P10          float64
	P25          float64
	P50          float64
	P75          float64
	P90          float64
	DiscountPct  float64
	Confidence   float64
	ModelVersion string
	ComputedAt   time.Time
}

// Evaluation is the risk classification attached to a NormalizedListing.
type Evaluation struct {
	ListingID      string
	Flags          []string
	RiskLevel      RiskLevel
	LLMSummary     string
	RuleConfidence float64
	LLMConfidence  float64
	ModelVersions  map[string]string
	EvaluatedAt    time.Time
}

// Score is the final rating and decision for a NormalizedListing.
type Score struct {
	ListingID      string
	Score          float64
	Reasons        []string
	FreshnessBonus float64
	Liquidity      float64
	RiskPenalty    float64
	FinalState     FinalState
	ScoredAt       time.Time
}

// CanonicalBrandModel maps a free-form (brand, model, locale) string triple to
// its canonical pair, with an alias list for fuzzy fallback matching.
type CanonicalBrandModel struct {
	ID                string
	BrandString       string
	ModelString       string
	Locale            string
	Aliases           []string
	NormalizedBrand   string
	NormalizedModel   string
	Active            bool
}
