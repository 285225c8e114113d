// Package config provides configuration management for the evaluation
// pipeline. A single Config is built once via Load() and passed explicitly
// into every component constructor — there is no ambient/global settings
// object read at runtime (spec §9 design note).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in spec §6 plus the ambient scaffolding
// (data directory, log level, health-check port) every component needs.
type Config struct {
	DataDir  string // base directory for the standard/ledger/cache SQLite files
	LogLevel string
	Port     int // internal health/readiness HTTP port

	ApprovalScoreThreshold   float64
	DraftFloor               float64
	MinComparablesSample     int // inclusion floor
	FullConfidenceSample     int // sample size for full confidence (30)
	ComparablesFreshnessDays int
	ComparablesCacheTTLHours int

	RetryMaxAttempts       int
	RetryBaseBackoffSeconds int

	MonitorWindowMinutes  int
	MonitorMaxPostsPerRun int

	DedupeTextSimilarityThreshold float64
	DedupeEmbeddingThreshold      float64

	RescoreStaleAfterHours int

	// Raw HTML overflow storage: documents whose raw_html exceeds this many
	// bytes are pushed to S3-compatible object storage instead of stored
	// inline (see internal/blobstore).
	RawHTMLInlineThresholdBytes int
	S3Bucket                    string
	S3Region                    string
	S3Endpoint                  string
}

// Load reads configuration from environment variables, defaulting every
// value named in spec §6 to the documented default.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := ""
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("CARSCOUT_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("HEALTH_PORT", 8090),

		ApprovalScoreThreshold:   getEnvAsFloat("APPROVAL_SCORE_THRESHOLD", 7.5),
		DraftFloor:               getEnvAsFloat("DRAFT_FLOOR", 6.0),
		MinComparablesSample:     getEnvAsInt("MIN_COMPARABLES_SAMPLE", 5),
		FullConfidenceSample:     getEnvAsInt("FULL_CONFIDENCE_SAMPLE", 30),
		ComparablesFreshnessDays: getEnvAsInt("COMPARABLES_FRESHNESS_DAYS", 180),
		ComparablesCacheTTLHours: getEnvAsInt("COMPARABLES_CACHE_TTL_HOURS", 24),

		RetryMaxAttempts:        getEnvAsInt("RETRY_MAX_ATTEMPTS", 6),
		RetryBaseBackoffSeconds: getEnvAsInt("RETRY_BASE_BACKOFF_SECONDS", 60),

		MonitorWindowMinutes:  getEnvAsInt("MONITOR_WINDOW_MINUTES", 5),
		MonitorMaxPostsPerRun: getEnvAsInt("MONITOR_MAX_POSTS_PER_RUN", 3),

		DedupeTextSimilarityThreshold: getEnvAsFloat("DEDUPE_TEXT_SIMILARITY_THRESHOLD", 0.8),
		DedupeEmbeddingThreshold:      getEnvAsFloat("DEDUPE_EMBEDDING_THRESHOLD", 0.85),

		RescoreStaleAfterHours: getEnvAsInt("RESCORE_STALE_AFTER_HOURS", 24),

		RawHTMLInlineThresholdBytes: getEnvAsInt("RAW_HTML_INLINE_THRESHOLD_BYTES", 64*1024),
		S3Bucket:                    getEnv("S3_BUCKET", ""),
		S3Region:                    getEnv("S3_REGION", "eu-central-1"),
		S3Endpoint:                  getEnv("S3_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structurally required fields; threshold values are
// range-checked defensively but fall back to their documented default when
// out of range rather than failing construction.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.ApprovalScoreThreshold <= 0 || c.ApprovalScoreThreshold > 10 {
		c.ApprovalScoreThreshold = 7.5
	}
	if c.DraftFloor <= 0 || c.DraftFloor > 10 {
		c.DraftFloor = 6.0
	}
	if c.MinComparablesSample <= 0 {
		c.MinComparablesSample = 5
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 6
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
