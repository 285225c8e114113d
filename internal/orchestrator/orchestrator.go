// Package orchestrator implements the Pipeline Orchestrator (spec §4.8):
// the durable, stage-queue-driven DAG raw -> extract -> normalize -> dedupe
// -> (comparables+score) -> notify, plus the periodic rescore-stale and
// monitor-pass jobs (internal/monitor specializes the latter).
//
// It lives in its own package rather than internal/pipeline because it
// depends on internal/scoring, internal/dedupe and internal/normalize,
// each of which already depends on internal/pipeline for the shared error
// taxonomy -- folding the orchestrator into internal/pipeline would create
// an import cycle.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/sentinel/internal/dedupe"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/normalize"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/scoring"
	"github.com/aristath/sentinel/internal/storage"
	"github.com/rs/zerolog"
)

// Stage names the durable queue a work unit sits on (spec §4.8: "a single
// logical queue per stage"). The extract stage is folded into normalize
// (internal/normalize.Normalizer.Normalize runs the registered Extractor
// itself before canonicalizing), so only four stages are queued here.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageDedupe    Stage = "dedupe"
	StageScore     Stage = "score"
	StageNotify    Stage = "notify"
)

var allStages = []string{string(StageNormalize), string(StageDedupe), string(StageScore), string(StageNotify)}

// periodicTriggerInterval is the failsafe interval the worker loop wakes up
// on even without an explicit Trigger, mirroring the teacher's
// PeriodicTriggerInterval fallback in internal/work/processor.go.
const periodicTriggerInterval = 1 * time.Minute

// Config holds the orchestrator's retry/timeout tunables (spec §4.8, §6).
type Config struct {
	Workers                 int
	RetryMaxAttempts        int
	RetryBaseBackoffSeconds int
	StageSoftTimeout        time.Duration
	StageHardTimeout        time.Duration
}

// DefaultConfig returns the spec-documented defaults (§6: retry.max_attempts
// = 6, retry.base_backoff_seconds = 60; §4.8: soft 4.5min, hard 5min).
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		RetryMaxAttempts:        6,
		RetryBaseBackoffSeconds: 60,
		StageSoftTimeout:        4*time.Minute + 30*time.Second,
		StageHardTimeout:        5 * time.Minute,
	}
}

// Orchestrator drives the stage queue. Construct with New, call Start to
// begin processing, Stop to shut down the dispatch loop.
type Orchestrator struct {
	gw         *storage.Gateway
	normalizer *normalize.Normalizer
	dedup      *dedupe.Deduplicator
	scorer     *scoring.MarketAwareScorer
	bus        *pipeline.Bus
	cfg        Config
	log        zerolog.Logger

	trigger chan struct{}
	done    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	inFlight int
}

func New(gw *storage.Gateway, normalizer *normalize.Normalizer, dedup *dedupe.Deduplicator,
	scorer *scoring.MarketAwareScorer, bus *pipeline.Bus, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		gw:         gw,
		normalizer: normalizer,
		dedup:      dedup,
		scorer:     scorer,
		bus:        bus,
		cfg:        cfg,
		log:        log.With().Str("component", "orchestrator").Logger(),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}, cfg.Workers+1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// EnqueueRaw enqueues the normalize stage for a freshly-ingested RawListing.
// This is the pipeline's single entry point: every raw listing that needs
// processing enters here.
func (o *Orchestrator) EnqueueRaw(rawListingID string) error {
	return o.enqueue(StageNormalize, rawListingID, time.Time{})
}

// EnqueueScore re-enters the graph at the Scorer for an already-deduplicated
// NormalizedListing (spec §4.8: "The Monitor re-enters the graph at the
// Scorer for existing listings whose pricing context has changed"). Used by
// the rescore-stale sweep and the Monitor pass.
func (o *Orchestrator) EnqueueScore(listingID string) error {
	return o.enqueue(StageScore, listingID, time.Time{})
}

func (o *Orchestrator) enqueue(stage Stage, listingID string, notBefore time.Time) error {
	nb := ""
	if !notBefore.IsZero() {
		nb = notBefore.UTC().Format(time.RFC3339Nano)
	}
	if _, err := o.gw.StageQueue.Enqueue(nil, string(stage), listingID, nb); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", stage, listingID, err)
	}
	o.Trigger()
	return nil
}

// Trigger wakes the worker loop to check for eligible queue items. Safe to
// call from any goroutine; non-blocking.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop, which runs each claimed item in its own
// goroutine with at most cfg.Workers in flight. It returns immediately; call
// Stop to shut down.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.stopped)
	ticker := time.NewTicker(periodicTriggerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		case <-o.trigger:
			o.drainOnce(ctx)
		case <-o.done:
			o.drainOnce(ctx)
		case <-ticker.C:
			o.drainOnce(ctx)
		}
	}
}

// drainOnce claims and processes eligible items up to the configured worker
// concurrency, mirroring the teacher processor's inFlight-bounded dispatch.
func (o *Orchestrator) drainOnce(ctx context.Context) {
	for {
		o.mu.Lock()
		if o.inFlight >= o.cfg.Workers {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		item, err := o.gw.StageQueue.ClaimNext(allStages)
		if err != nil {
			o.log.Error().Err(err).Msg("claim next stage item")
			return
		}
		if item == nil {
			return
		}

		o.mu.Lock()
		o.inFlight++
		o.mu.Unlock()

		go func(item *storage.QueueItem) {
			defer func() {
				o.mu.Lock()
				o.inFlight--
				o.mu.Unlock()
				select {
				case o.done <- struct{}{}:
				default:
				}
			}()
			o.processItem(ctx, item)
		}(item)
	}
}

// Stop signals the dispatch loop to exit and waits for it to return. Items
// already running in their own goroutines are not waited for.
func (o *Orchestrator) Stop() {
	close(o.stop)
	<-o.stopped
}

// processItem executes one stage-queue item under the soft timeout, then
// classifies the outcome: success marks the item done (and fans out),
// transient/external failures retry with backoff up to the configured
// attempt budget, everything else is recorded and dropped (spec §4.8, §7).
func (o *Orchestrator) processItem(ctx context.Context, item *storage.QueueItem) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageSoftTimeout)
	defer cancel()

	start := time.Now()
	err := o.runStage(stageCtx, Stage(item.Stage), item.ListingID)
	elapsed := time.Since(start)
	if elapsed > o.cfg.StageHardTimeout {
		o.log.Error().Str("stage", item.Stage).Str("listing_id", item.ListingID).
			Dur("elapsed", elapsed).Msg("stage exceeded hard timeout")
	}

	if err == nil {
		if err := o.gw.StageQueue.MarkDone(item.ID); err != nil {
			o.log.Error().Err(err).Str("stage", item.Stage).Msg("mark stage item done")
		}
		return
	}

	o.bus.Publish(pipeline.Event{Type: pipeline.EventStageError, ListingID: item.ListingID, Stage: item.Stage, Detail: err.Error(), At: time.Now().UTC()})

	if pipeline.Retryable(err) {
		attempts := item.Attempts + 1
		if attempts >= o.cfg.RetryMaxAttempts {
			o.log.Error().Err(err).Str("stage", item.Stage).Str("listing_id", item.ListingID).
				Int("attempts", attempts).Msg("stage retry budget exhausted")
			_ = o.gw.StageQueue.MarkRetry(item.ID, attempts, nowStr(), err.Error(), true)
			return
		}
		backoff := computeBackoff(o.cfg.RetryBaseBackoffSeconds, attempts)
		retryAt := time.Now().UTC().Add(backoff).Format(time.RFC3339Nano)
		o.log.Warn().Err(err).Str("stage", item.Stage).Str("listing_id", item.ListingID).
			Int("attempts", attempts).Dur("backoff", backoff).Msg("stage failed, scheduled for retry")
		_ = o.gw.StageQueue.MarkRetry(item.ID, attempts, retryAt, err.Error(), false)
		return
	}

	o.log.Error().Err(err).Str("stage", item.Stage).Str("listing_id", item.ListingID).Msg("stage failed permanently")
	_ = o.gw.StageQueue.MarkRetry(item.ID, item.Attempts+1, nowStr(), err.Error(), true)
}

// computeBackoff implements spec §4.8's retry policy: exponential starting
// at base, doubling per attempt.
func computeBackoff(baseSeconds, attempt int) time.Duration {
	d := time.Duration(baseSeconds) * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// runStage dispatches to the stage's handler and performs its fan-out.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, listingID string) error {
	switch stage {
	case StageNormalize:
		return o.runNormalize(listingID)
	case StageDedupe:
		return o.runDedupe(listingID)
	case StageScore:
		return o.runScore(ctx, listingID)
	case StageNotify:
		return o.runNotify(listingID)
	default:
		return &pipeline.InvariantError{Cause: fmt.Errorf("unknown stage %q", stage)}
	}
}

// runNormalize runs the Normalizer against a RawListing id. Per spec §4.4
// step 8 / §4.8's fan-out note, the Deduplicator only runs on first
// creation; re-normalizations (idempotent touches) skip straight to Score,
// since the listing was already de-duplicated the first time through.
func (o *Orchestrator) runNormalize(rawListingID string) error {
	result, err := o.normalizer.Normalize(rawListingID)
	if err != nil {
		return err
	}
	if result == nil {
		// Extractor output not yet available / deterministic parse failure
		// already recorded by the Normalizer -- nothing further to fan out.
		return nil
	}
	o.bus.Publish(pipeline.Event{Type: pipeline.EventNormalized, ListingID: result.NormalizedListingID, Stage: string(StageNormalize), At: time.Now().UTC()})
	if result.IsNew {
		return o.enqueue(StageDedupe, result.NormalizedListingID, time.Time{})
	}
	return o.enqueue(StageScore, result.NormalizedListingID, time.Time{})
}

func (o *Orchestrator) runDedupe(listingID string) error {
	outcome, err := o.dedup.Dedupe(listingID)
	if err != nil {
		return err
	}
	o.bus.Publish(pipeline.Event{Type: pipeline.EventDeduped, ListingID: listingID, Stage: string(StageDedupe), Detail: string(outcome.Method), At: time.Now().UTC()})
	if outcome.IsDuplicate {
		// Duplicates are never scored (scoring.MarketAwareScorer rejects
		// them outright) -- the chain stops here for this listing.
		return nil
	}
	return o.enqueue(StageScore, listingID, time.Time{})
}

func (o *Orchestrator) runScore(ctx context.Context, listingID string) error {
	score, err := o.scorer.Score(ctx, listingID)
	if err != nil {
		// A duplicate or missing listing reaching the score stage is a
		// data-model contract violation (InvariantError, non-retryable per
		// spec §7) rather than a transient failure; processItem's
		// pipeline.Retryable classification handles both cases from here.
		return err
	}
	o.bus.Publish(pipeline.Event{Type: pipeline.EventScored, ListingID: listingID, Stage: string(StageScore), Detail: string(score.FinalState), At: time.Now().UTC()})
	if score.FinalState == domain.StateApproved {
		return o.enqueue(StageNotify, listingID, time.Time{})
	}
	return nil
}

// runNotify fans out an approved score to the (out-of-scope) notification
// collaborator by publishing the typed event every such collaborator
// subscribes to, guarded by the idempotency key spec §6 defines:
// hash(listing_id, score_value, scored_at). The core's responsibility ends
// at "guarantee this fires at most once per score revision" -- delivery,
// rendering and end-user rate-limiting belong to the collaborator.
func (o *Orchestrator) runNotify(listingID string) error {
	score, err := o.gw.Scores.Get(listingID)
	if err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("lookup score: %w", err)}
	}
	if score == nil || score.FinalState != domain.StateApproved {
		return nil
	}

	key := idempotencyKey(listingID, score.Score, score.ScoredAt)
	sent, err := o.gw.NotificationLog.AlreadySent(key)
	if err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("check notification log: %w", err)}
	}
	if sent {
		return nil
	}

	if err := o.gw.NotificationLog.Record(key, listingID, score.Score); err != nil {
		return &pipeline.TransientIOError{Cause: fmt.Errorf("record notification: %w", err)}
	}
	o.bus.Publish(pipeline.Event{Type: pipeline.EventApproved, ListingID: listingID, Stage: string(StageNotify), Detail: key, At: time.Now().UTC()})
	o.log.Info().Str("listing_id", listingID).Float64("score", score.Score).Str("idempotency_key", key).Msg("approved listing ready for notification collaborator")
	return nil
}

func idempotencyKey(listingID string, scoreValue float64, scoredAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%f:%s", listingID, scoreValue, scoredAt.UTC().Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])
}
