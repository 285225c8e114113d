package orchestrator

import (
	"testing"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStaleLookup struct {
	listings []domain.NormalizedListing
}

func (f *fakeStaleLookup) StaleApproved(scoredBefore, createdAfter string) ([]domain.NormalizedListing, error) {
	return f.listings, nil
}

func TestRescoreStaleJob_EnqueuesEachListing(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	o := New(gw, nil, nil, nil, nil, DefaultConfig(), zerolog.Nop())

	lookup := &fakeStaleLookup{listings: []domain.NormalizedListing{{ID: "a"}, {ID: "b"}}}
	job := NewRescoreStaleJob(o, lookup, 24*time.Hour, 7*24*time.Hour, zerolog.Nop())

	assert.Equal(t, "rescore-stale", job.Name())
	require.NoError(t, job.Run())

	pending, err := gw.StageQueue.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}
