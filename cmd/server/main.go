// Command server wires and runs the CarScout evaluation pipeline: ingest,
// extract, normalize, dedupe, comparables, score, and the orchestrator that
// drives the DAG, plus the periodic rescore-stale and monitor sweeps and the
// internal HTTP surface.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/blobstore"
	"github.com/aristath/sentinel/internal/comparables"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/dedupe"
	"github.com/aristath/sentinel/internal/extract"
	"github.com/aristath/sentinel/internal/ingest"
	"github.com/aristath/sentinel/internal/monitor"
	"github.com/aristath/sentinel/internal/normalize"
	"github.com/aristath/sentinel/internal/orchestrator"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/scheduler"
	"github.com/aristath/sentinel/internal/scoring"
	"github.com/aristath/sentinel/internal/server"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/aristath/sentinel/pkg/logger"
)

const listingLocale = "bg"

// seedSource is a source registered at startup if not already present (spec
// §3: "sources are seeded at setup, rarely mutated"). mobile.bg is the only
// extractor shipped with this module (internal/extract/mobilebg.go); new
// sources are added here alongside their extractor.
type seedSource struct {
	name          string
	baseURL       string
	crawlInterval time.Duration
}

var seedSources = []seedSource{
	{name: "mobile.bg", baseURL: "https://www.mobile.bg", crawlInterval: 15 * time.Minute},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: os.Getenv("LOG_PRETTY") == "true"})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting carscout")

	standardDB, ledgerDB, cacheDB := mustOpenDatabases(cfg, log)
	defer standardDB.Close()
	defer ledgerDB.Close()
	defer cacheDB.Close()

	gw := storage.New(standardDB, ledgerDB, cacheDB, log)
	if err := gw.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate databases")
	}

	if err := seedTheSources(gw); err != nil {
		log.Fatal().Err(err).Msg("failed to seed sources")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("raw_html blob storage disabled; oversized documents will be stored inline")
		blobs = nil
	}

	registry := extract.NewRegistry()
	registry.Register("mobile.bg", extract.MobileBG{})

	normalizer := normalize.New(gw, registry, blobs, log, listingLocale)
	deduplicator := dedupe.New(gw, log)
	comps := comparables.New(gw, comparables.Config{
		MinComparablesSample:     cfg.MinComparablesSample,
		FullConfidenceSample:     cfg.FullConfidenceSample,
		ComparablesFreshnessDays: cfg.ComparablesFreshnessDays,
		CacheTTLHours:            cfg.ComparablesCacheTTLHours,
	}, log)

	// No concrete LLM risk-evaluation collaborator ships with this module
	// (spec §4.7 / §12: out of scope); the scorer runs its rule-based
	// evaluation alone when llm is nil.
	scorer := scoring.New(gw, comps, nil, scoring.Config{
		ApprovalThreshold:    cfg.ApprovalScoreThreshold,
		DraftFloor:           cfg.DraftFloor,
		MinComparablesSample: cfg.MinComparablesSample,
		RequireComparables:   true,
		MinApprovalDiscount:  10.0,
	}, log)

	bus := pipeline.NewBus()
	orch := orchestrator.New(gw, normalizer, deduplicator, scorer, bus, orchestrator.Config{
		Workers:                 4,
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryBaseBackoffSeconds: cfg.RetryBaseBackoffSeconds,
		StageSoftTimeout:        4*time.Minute + 30*time.Second,
		StageHardTimeout:        5 * time.Minute,
	}, log)
	orch.Start(ctx)
	defer orch.Stop()

	ingestor := ingest.New(gw, blobs, cfg.RawHTMLInlineThresholdBytes, log)

	sched := scheduler.New(log)
	rescoreJob := orchestrator.NewRescoreStaleJob(orch, gw.NormalizedListings,
		time.Duration(cfg.RescoreStaleAfterHours)*time.Hour, 7*24*time.Hour, log)
	monitorJob := monitor.New(gw.NormalizedListings, orch, monitor.Config{
		WindowMinutes:        cfg.MonitorWindowMinutes,
		MaxPostsPerRun:       cfg.MonitorMaxPostsPerRun,
		FirstSeenHorizonDays: 7,
		MaxMileageKM:         400_000,
	}, log)

	if err := sched.AddJob("0 0 * * * *", rescoreJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register rescore-stale job")
	}
	if err := sched.AddJob("0 */5 * * * *", monitorJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register monitor job")
	}
	sched.Start()
	defer sched.Stop()
	// Run both sweeps once at startup so approved-but-stale listings and
	// freshly active ones don't wait a full period for their first pass.
	_ = sched.RunNow(rescoreJob)
	_ = sched.RunNow(monitorJob)

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Gateway:   gw,
		Ingest:    ingestor,
		Orch:      orch,
		Bus:       bus,
		DevMode:   os.Getenv("DEV_MODE") == "true",
		StartedAt: time.Now().UTC(),
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("internal HTTP server stopped unexpectedly")
		}
	}()

	waitForShutdown(log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down HTTP server")
	}
}

func mustOpenDatabases(cfg *config.Config, log zerolog.Logger) (standard, ledger, cache *database.DB) {
	standard, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "standard.db"),
		Profile: database.ProfileStandard,
		Name:    "standard",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open standard database")
	}

	ledger, err = database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}

	cache, err = database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache database")
	}

	return standard, ledger, cache
}

func seedTheSources(gw *storage.Gateway) error {
	return gw.WithStandardTx(func(tx *sql.Tx) error {
		for _, s := range seedSources {
			if _, err := gw.Sources.Upsert(tx, s.name, s.baseURL, s.crawlInterval); err != nil {
				return err
			}
		}
		return nil
	})
}

func waitForShutdown(log zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
}
