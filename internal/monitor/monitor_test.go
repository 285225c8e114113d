package monitor

import (
	"testing"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActivity struct {
	listings []domain.NormalizedListing
}

func (f *fakeActivity) FreshlyActive(since, firstSeenHorizon string) ([]domain.NormalizedListing, error) {
	return f.listings, nil
}

type fakeScorer struct {
	enqueued []string
}

func (f *fakeScorer) EnqueueScore(listingID string) error {
	f.enqueued = append(f.enqueued, listingID)
	return nil
}

func listing(id string, price float64, year, km int) domain.NormalizedListing {
	p := price
	y := year
	k := km
	return domain.NormalizedListing{ID: id, PriceAmount: &p, Year: &y, MileageKM: &k}
}

func TestMonitor_PrefiltersIncompleteListings(t *testing.T) {
	activity := &fakeActivity{listings: []domain.NormalizedListing{
		listing("complete", 15000, 2018, 80000),
		{ID: "no-price"},
		{ID: "no-year", PriceAmount: floatPtr(9000)},
	}}
	scorer := &fakeScorer{}

	m := New(activity, scorer, Config{WindowMinutes: 5, MaxPostsPerRun: 10, FirstSeenHorizonDays: 7}, zerolog.Nop())
	require.NoError(t, m.Run())

	assert.Equal(t, []string{"complete"}, scorer.enqueued)
}

func TestMonitor_MileageGate(t *testing.T) {
	activity := &fakeActivity{listings: []domain.NormalizedListing{
		listing("within", 15000, 2018, 50000),
		listing("over", 15000, 2018, 500000),
	}}
	scorer := &fakeScorer{}

	m := New(activity, scorer, Config{WindowMinutes: 5, MaxPostsPerRun: 10, FirstSeenHorizonDays: 7, MaxMileageKM: 300000}, zerolog.Nop())
	require.NoError(t, m.Run())

	assert.Equal(t, []string{"within"}, scorer.enqueued)
}

func TestMonitor_RateLimitsPerRun(t *testing.T) {
	activity := &fakeActivity{listings: []domain.NormalizedListing{
		listing("a", 10000, 2018, 1000),
		listing("b", 10000, 2018, 1000),
		listing("c", 10000, 2018, 1000),
	}}
	scorer := &fakeScorer{}

	m := New(activity, scorer, Config{WindowMinutes: 5, MaxPostsPerRun: 2, FirstSeenHorizonDays: 7}, zerolog.Nop())
	require.NoError(t, m.Run())

	assert.Len(t, scorer.enqueued, 2)
}

func floatPtr(f float64) *float64 { return &f }
