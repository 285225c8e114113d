package dedupe

import (
	"database/sql"
	"testing"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigramSimilarity(t *testing.T) {
	assert.Greater(t, trigramSimilarity("Audi A6 3.0 TDI quattro", "Audi A6 3.0 TDI quattro s-line"), 0.5)
	assert.Less(t, trigramSimilarity("Audi A6", "BMW X5 diesel"), 0.3)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0, 0}, []float64{1, 0, 0}), 0.0001)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 0.0001)
}

func TestDedupe_TitleTierMarksDuplicate(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	raw1 := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-1", URL: "https://x"}
	raw2 := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-2", URL: "https://y"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw1) }))
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw2) }))

	nl1 := &domain.NormalizedListing{RawID: raw1.ID, Title: "Audi A6 3.0 TDI quattro S-line", Currency: "local"}
	nl2 := &domain.NormalizedListing{RawID: raw2.ID, Title: "Audi A6 3.0 TDI quattro S line", Currency: "local"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, nl1)
		return err
	}))
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, nl2)
		return err
	}))
	require.NoError(t, gw.NormalizedListings.MarkCanonical(nl1.ID))

	d := New(gw, zerolog.Nop())
	outcome, err := d.Dedupe(nl2.ID)
	require.NoError(t, err)
	assert.True(t, outcome.IsDuplicate)
	assert.Equal(t, nl1.ID, outcome.CanonicalID)
	assert.Equal(t, domain.DedupeTitle, outcome.Method)
}

func TestDedupe_CanonicalChaseCompressesThroughExistingDuplicate(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	raws := make([]*domain.RawListing, 3)
	for i := range raws {
		raws[i] = &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-" + string(rune('a'+i)), URL: "https://x"}
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raws[i]) }))
	}

	root := &domain.NormalizedListing{RawID: raws[0].ID, Title: "Audi A6 3.0 TDI quattro S-line", Currency: "local"}
	mid := &domain.NormalizedListing{RawID: raws[1].ID, Title: "Audi A6 3.0 TDI quattro S line", Currency: "local"}
	leaf := &domain.NormalizedListing{RawID: raws[2].ID, Title: "Audi A6 3.0 TDI quattro S-Line", Currency: "local"}
	for _, nl := range []*domain.NormalizedListing{root, mid, leaf} {
		nl := nl
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
			_, err := gw.NormalizedListings.Upsert(tx, nl)
			return err
		}))
	}
	require.NoError(t, gw.NormalizedListings.MarkCanonical(root.ID))
	require.NoError(t, gw.NormalizedListings.MarkDuplicate(mid.ID, root.ID))

	d := New(gw, zerolog.Nop())

	// The dedupe tiers only ever match non-duplicate peers, so exercise the
	// pointer-chase/compression logic directly against the mid->root chain.
	resolved, err := d.resolveCanonical(mid.ID, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, resolved, "pointer should compress through mid to the true root")

	outcome, err := d.Dedupe(leaf.ID)
	require.NoError(t, err)
	assert.True(t, outcome.IsDuplicate)
	assert.Equal(t, root.ID, outcome.CanonicalID)
}

func TestDedupe_ResolveCanonicalRefusesCycle(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	rawA := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-a", URL: "https://x"}
	rawB := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-b", URL: "https://y"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, rawA) }))
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, rawB) }))

	a := &domain.NormalizedListing{RawID: rawA.ID, Title: "A", Currency: "local"}
	b := &domain.NormalizedListing{RawID: rawB.ID, Title: "B", Currency: "local"}
	for _, nl := range []*domain.NormalizedListing{a, b} {
		nl := nl
		require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
			_, err := gw.NormalizedListings.Upsert(tx, nl)
			return err
		}))
	}
	// Force b -> a so that resolving a -> b would close a cycle.
	require.NoError(t, gw.NormalizedListings.MarkDuplicate(b.ID, a.ID))

	d := New(gw, zerolog.Nop())
	_, err = d.resolveCanonical(b.ID, a.ID)
	require.Error(t, err, "a listing must never be pointed at something that transitively points back to it")
}

func TestDedupe_NoCandidateMarksCanonical(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	raw := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-1", URL: "https://x"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, raw) }))

	nl := &domain.NormalizedListing{RawID: raw.ID, Title: "Totally unique listing title", Currency: "local"}
	require.NoError(t, gw.WithStandardTx(func(tx *sql.Tx) error {
		_, err := gw.NormalizedListings.Upsert(tx, nl)
		return err
	}))

	d := New(gw, zerolog.Nop())
	outcome, err := d.Dedupe(nl.ID)
	require.NoError(t, err)
	assert.False(t, outcome.IsDuplicate)

	got, err := gw.NormalizedListings.GetByID(nl.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDuplicate)
}
