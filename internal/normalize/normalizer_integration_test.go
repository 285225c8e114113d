package normalize

import (
	"database/sql"
	"testing"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/extract"
	"github.com/aristath/sentinel/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	field domain.FieldMap
	err   error
}

func (f fakeExtractor) Extract(rawHTML, url string) (domain.FieldMap, error) { return f.field, f.err }

func TestNormalizer_CanonicalizesViaExactMatch(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	_, err := gw.Standard.Conn().Exec(`INSERT INTO canonical_brand_models(id, brand_string, model_string, locale, aliases, normalized_brand, normalized_model, active)
		VALUES ('bm-1', 'audi', 'a6', 'bg', '[]', 'audi', 'a6', 1)`)
	require.NoError(t, err)

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	price := 22000.0
	rl := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-1", URL: "https://x", RawHTML: "<html></html>"}
	err = gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, rl) })
	require.NoError(t, err)

	registry := extract.NewRegistry()
	registry.Register("mobile.bg", fakeExtractor{field: domain.FieldMap{
		Title: "Audi A6", Brand: "Audi", Model: "A6", Price: &price, Currency: "local",
		Description: "Great car",
	}})

	n := New(gw, registry, nil, zerolog.Nop(), "bg")
	result, err := n.Normalize(rl.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsNew)

	nl, err := gw.NormalizedListings.GetByID(result.NormalizedListingID)
	require.NoError(t, err)
	require.NotNil(t, nl.CanonicalBrand)
	assert.Equal(t, "audi", *nl.CanonicalBrand)
	require.NotNil(t, nl.CanonicalModel)
	assert.Equal(t, "a6", *nl.CanonicalModel)
}

func TestNormalizer_DefersOnExtractError(t *testing.T) {
	gw, cleanup := testutil.NewTestGateway(t)
	defer cleanup()

	source, err := gw.Sources.Upsert(nil, "mobile.bg", "https://mobile.bg", 0)
	require.NoError(t, err)

	rl := &domain.RawListing{SourceID: source.ID, SiteAdID: "ad-1", URL: "https://x"}
	err = gw.WithStandardTx(func(tx *sql.Tx) error { return gw.RawListings.Insert(tx, rl) })
	require.NoError(t, err)

	registry := extract.NewRegistry()
	registry.Register("mobile.bg", fakeExtractor{field: domain.FieldMap{}})

	n := New(gw, registry, nil, zerolog.Nop(), "bg")
	result, err := n.Normalize(rl.ID)
	require.NoError(t, err)
	assert.Nil(t, result, "missing viable fields should defer, not error")
}
