package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// gbFixture is a Google Books volumes payload complete enough (ISBN, cover,
// description >= 100 chars, publisher, year, page count) to clear the
// short-circuit bar in enrichOneUncoalesced (§4.5 step 3).
const gbFixture = `{"items":[{"id":"abc123","volumeInfo":{` +
	`"title":"Dune","authors":["Frank Herbert"],"publishedDate":"1965",` +
	`"description":"A stunning blend of adventure and mysticism, environmentalism and politics, that describes the desert planet Arrakis in exacting detail.",` +
	`"pageCount":412,"categories":["Science Fiction"],"language":"en","publisher":"Ace",` +
	`"industryIdentifiers":[{"type":"ISBN_13","identifier":"9780441013593"}],` +
	`"imageLinks":{"thumbnail":"https://example.com/dune.jpg"}}}]}`

// TestEnrichOneShortCircuitsOnHighCompletenessProvider exercises the
// §4.5 step-3 fan-out/short-circuit path against gomock doubles of the
// Provider interface, rather than the concrete HTTP clients, matching the
// teacher's own gomock.NewController + EXPECT() test idiom (see
// controller_test.go's getter mock). Google Books returns a complete
// volume and wins outright; OpenLibrary's call still happens (both
// providers are always dispatched) but errors, so it never contributes.
func TestEnrichOneShortCircuitsOnHighCompletenessProvider(t *testing.T) {
	ctrl := gomock.NewController(t)

	google := NewMockProvider(ctrl)
	google.EXPECT().Name().Return("googlebooks").AnyTimes()
	google.EXPECT().SearchByISBN(gomock.Any(), "9780441013593").
		Return(providerResult{ok: true, rawJSON: []byte(gbFixture), status: providerOK})

	openLibrary := NewMockProvider(ctrl)
	openLibrary.EXPECT().Name().Return("openlibrary").AnyTimes()
	openLibrary.EXPECT().SearchByISBN(gomock.Any(), "9780441013593").
		Return(providerResult{status: providerNotFound})

	en := NewEnricher(google, openLibrary)
	work, err := en.enrichOneUncoalesced(context.Background(), Identifier{ISBN: "9780441013593"})

	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, "Dune", work.Title)
	assert.Equal(t, "googlebooks", work.PrimaryProvider)
	assert.GreaterOrEqual(t, completeness(*work), highCompleteness)
}

// TestEnrichOneReturnsNilWhenEveryProviderFails covers the all-providers-miss
// branch of the same fan-out, using the mock's default Times(1) expectation
// to assert each provider is actually called exactly once.
func TestEnrichOneReturnsNilWhenEveryProviderFails(t *testing.T) {
	ctrl := gomock.NewController(t)

	google := NewMockProvider(ctrl)
	google.EXPECT().Name().Return("googlebooks").AnyTimes()
	google.EXPECT().SearchByTitle(gomock.Any(), "Nonesuch", 5).
		Return(providerResult{status: providerNotFound})

	openLibrary := NewMockProvider(ctrl)
	openLibrary.EXPECT().Name().Return("openlibrary").AnyTimes()
	openLibrary.EXPECT().SearchByTitle(gomock.Any(), "Nonesuch", 5).
		Return(providerResult{status: providerTransient})

	en := NewEnricher(google, openLibrary)
	work, err := en.enrichOneUncoalesced(context.Background(), Identifier{Title: "Nonesuch"})

	require.NoError(t, err)
	assert.Nil(t, work)
}
