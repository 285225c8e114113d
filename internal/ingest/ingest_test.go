package ingest

import (
	"database/sql"
	"testing"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_NewListing(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	ing := New(gw, nil, 64*1024, zerolog.Nop())
	result, err := ing.Ingest(Input{
		SourceName: "mobile.bg",
		SiteAdID:   "ad-123",
		URL:        "https://mobile.bg/ad-123",
		RawHTML:    "<html>...</html>",
	})
	require.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.NotEmpty(t, result.RawListingID)

	raw, err := gw.RawListings.GetByID(result.RawListingID)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.True(t, raw.Active)
	assert.Equal(t, "ad-123", raw.SiteAdID)
}

func TestIngest_UnknownSource(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	ing := New(gw, nil, 64*1024, zerolog.Nop())
	_, err := ing.Ingest(Input{SourceName: "nonexistent", SiteAdID: "ad-1", URL: "https://x"})
	require.Error(t, err)
}

func TestIngest_RepeatedCallIsIdempotentTouch(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	ing := New(gw, nil, 64*1024, zerolog.Nop())
	first, err := ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x"})
	require.NoError(t, err)

	second, err := ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x"})
	require.NoError(t, err)

	assert.Equal(t, first.RawListingID, second.RawListingID)
	assert.False(t, second.IsNew)
}

func TestIngest_DoesNotOverwriteRawHTMLOnMarginalIncrease(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	ing := New(gw, nil, 64*1024, zerolog.Nop())
	first, err := ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x", RawHTML: "0123456789012345678901234567890123456789012345678901234567890123456789"})
	require.NoError(t, err)

	_, err = ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x", RawHTML: "01234567890123456789012345678901234567890123456789012345678901234567891"})
	require.NoError(t, err)

	raw, err := gw.RawListings.GetByID(first.RawListingID)
	require.NoError(t, err)
	assert.Len(t, raw.RawHTML, 70, "marginal +1 byte increase should not overwrite stored raw_html")
}

func TestIngest_RecordsPriceHistoryOnScrapedPriceChange(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	ing := New(gw, nil, 64*1024, zerolog.Nop())
	first, err := ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x"})
	require.NoError(t, err)

	price := 18000.0
	normalized := &domain.NormalizedListing{RawID: first.RawListingID, Currency: "local", Title: "test", PriceAmount: &price}
	err = gw.WithStandardTx(func(tx *sql.Tx) error {
		_, upsertErr := gw.NormalizedListings.Upsert(tx, normalized)
		return upsertErr
	})
	require.NoError(t, err)

	newPrice := 17000.0
	_, err = ing.Ingest(Input{SourceName: "mobile.bg", SiteAdID: "ad-1", URL: "https://x", ScrapedPrice: &newPrice})
	require.NoError(t, err)

	history, err := gw.PriceHistory.ForListing(normalized.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, newPrice, history[0].PriceAmount)
}
