// Package monitor implements the Monitor (spec §4.9): a specialization of
// the Pipeline Orchestrator's periodic monitor pass that does not scrape --
// it reads the database for newly-landed or price-changed NormalizedListings
// and re-enters the graph at the Scorer, rate-limiting outbound
// notifications per run (spec §4.8's "Monitor pass" cron job).
//
// Grounded on the teacher's database-polling monitors: the shape of
// "query recent activity, prefilter, re-score, rate-limit fan-out" mirrors
// trader-go/internal/scheduler's periodic sync jobs and the root
// StatusMonitor's periodic state-hash scan.
package monitor

import (
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// ActivityLookup is satisfied by *storage.NormalizedListingRepository.
type ActivityLookup interface {
	FreshlyActive(since, firstSeenHorizon string) ([]domain.NormalizedListing, error)
}

// Scorer re-enters the graph at the Scorer stage for listingID, fanning out
// to notify on approval exactly as the main pipeline would. Implemented by
// *orchestrator.Orchestrator's EnqueueScore.
type Scorer interface {
	EnqueueScore(listingID string) error
}

// RunStats tallies one pass's outcome, logged as the per-run histogram spec
// §4.9 calls for ("Logs a per-run histogram of score distribution").
// Populated from the prefilter outcome, not the post-score result, since
// scoring itself happens asynchronously on the stage queue.
type RunStats struct {
	Candidates  int
	Prefiltered int
	Enqueued    int
	RateLimited int
}

// Config mirrors spec §6's monitor.window_minutes / monitor.max_posts_per_run,
// plus the 7-day first-seen ceiling named in §4.8's "Monitor pass" job.
type Config struct {
	WindowMinutes      int
	MaxPostsPerRun      int
	FirstSeenHorizonDays int

	// MaxMileageKM gates the coarse prefilter (spec §4.9: "mileage present
	// and <= threshold, price and year present"). Zero disables the
	// mileage ceiling; mileage must still be present.
	MaxMileageKM int
}

// Monitor specializes the orchestrator's periodic pass for the fresh-activity
// sweep. Implements scheduler.Job so it can be registered on the same cron
// scheduler as the rescore-stale job.
type Monitor struct {
	activity ActivityLookup
	scorer   Scorer
	cfg      Config
	log      zerolog.Logger
}

func New(activity ActivityLookup, scorer Scorer, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{activity: activity, scorer: scorer, cfg: cfg, log: log.With().Str("component", "monitor").Logger()}
}

func (m *Monitor) Name() string { return "monitor-pass" }

// Run executes one monitor pass: select listings whose last_seen or last
// price change falls within the configured window and whose first_seen is
// within the horizon, apply the coarse prefilter, then re-enqueue each
// surviving candidate at the Scorer -- capped at MaxPostsPerRun candidates
// forwarded per pass, per spec §4.8's anti-clustering rate limit. The cap
// bounds how many candidates this pass forwards to scoring, not how many
// actually approve, since approval is only known after the Scorer runs
// asynchronously on the stage queue.
func (m *Monitor) Run() error {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(m.cfg.WindowMinutes) * time.Minute).Format(time.RFC3339Nano)
	firstSeenHorizon := now.AddDate(0, 0, -m.cfg.FirstSeenHorizonDays).Format(time.RFC3339Nano)

	candidates, err := m.activity.FreshlyActive(since, firstSeenHorizon)
	if err != nil {
		return err
	}

	stats := RunStats{Candidates: len(candidates)}
	budget := m.cfg.MaxPostsPerRun

	for _, listing := range candidates {
		if !m.passesPrefilter(listing) {
			continue
		}
		stats.Prefiltered++

		if budget <= 0 {
			stats.RateLimited++
			continue
		}

		if err := m.scorer.EnqueueScore(listing.ID); err != nil {
			m.log.Error().Err(err).Str("listing_id", listing.ID).Msg("failed to enqueue listing for re-scoring")
			continue
		}
		stats.Enqueued++
		budget--
	}

	m.log.Info().
		Int("candidates", stats.Candidates).
		Int("prefiltered", stats.Prefiltered).
		Int("enqueued", stats.Enqueued).
		Int("rate_limited", stats.RateLimited).
		Msg("monitor pass complete")
	return nil
}

// passesPrefilter applies spec §4.9's coarse gate before invoking the
// Scorer: mileage present and <= threshold (when configured), price and
// year present. Incomparable listings (no canonical brand/model) still pass
// -- that judgment belongs to the Comparables Engine, not this prefilter.
func (m *Monitor) passesPrefilter(l domain.NormalizedListing) bool {
	if l.PriceAmount == nil || *l.PriceAmount <= 0 {
		return false
	}
	if l.Year == nil {
		return false
	}
	if l.MileageKM == nil {
		return false
	}
	if m.cfg.MaxMileageKM > 0 && *l.MileageKM > m.cfg.MaxMileageKM {
		return false
	}
	return true
}
