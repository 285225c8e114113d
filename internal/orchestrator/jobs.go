package orchestrator

import (
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// RescoreStaleJob implements scheduler.Job for the hourly rescore-stale
// sweep (spec §4.8): approved listings whose Score is older than
// staleAfter and whose NormalizedListing is younger than maxAge are
// re-enqueued at the Scorer stage.
type RescoreStaleJob struct {
	o          *Orchestrator
	lookup     staleApprovedLookup
	staleAfter time.Duration
	maxAge     time.Duration
	log        zerolog.Logger
}

// staleApprovedLookup is satisfied by *storage.NormalizedListingRepository.
type staleApprovedLookup interface {
	StaleApproved(scoredBefore, createdAfter string) ([]domain.NormalizedListing, error)
}

// NewRescoreStaleJob constructs the job. staleAfter and maxAge mirror spec
// §6's rescore_stale_after_hours (default 24h) and the 7-day NormalizedListing
// age ceiling named in §4.8.
func NewRescoreStaleJob(o *Orchestrator, lookup staleApprovedLookup, staleAfter, maxAge time.Duration, log zerolog.Logger) *RescoreStaleJob {
	return &RescoreStaleJob{o: o, lookup: lookup, staleAfter: staleAfter, maxAge: maxAge, log: log.With().Str("job", "rescore_stale").Logger()}
}

func (j *RescoreStaleJob) Name() string { return "rescore-stale" }

func (j *RescoreStaleJob) Run() error {
	scoredBefore := time.Now().UTC().Add(-j.staleAfter).Format(time.RFC3339Nano)
	createdAfter := time.Now().UTC().Add(-j.maxAge).Format(time.RFC3339Nano)

	listings, err := j.lookup.StaleApproved(scoredBefore, createdAfter)
	if err != nil {
		return err
	}

	for _, l := range listings {
		if err := j.o.EnqueueScore(l.ID); err != nil {
			j.log.Error().Err(err).Str("listing_id", l.ID).Msg("failed to re-enqueue stale listing for scoring")
		}
	}
	j.log.Info().Int("count", len(listings)).Msg("rescore-stale sweep complete")
	return nil
}
