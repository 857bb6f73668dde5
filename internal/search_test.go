package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// olSingleFixture is the shape OpenLibrary's `/isbn/{isbn}.json` endpoint
// actually returns: a bare book object, never the `{"docs":[...]}` envelope
// its search endpoint uses. SearchByISBN must tell fanOut to normalize it
// that way, or the collection normalizer finds no "docs" key and silently
// drops the result (§4.4).
const olSingleFixture = `{"title":"Dune","key":"/books/OL893415M",` +
	`"authors":[{"key":"/authors/OL234664A"}],"publish_date":"1990",` +
	`"subjects":["Science fiction","Fiction"],` +
	`"isbn_13":["9780441013593"],"covers":[258027]}`

// TestSearchByISBNNormalizesSingleBookShape pins the fanOut/normalize fix:
// SearchByISBN must request the single-resource normalizer, not the
// collection one SearchByTitle uses.
func TestSearchByISBNNormalizesSingleBookShape(t *testing.T) {
	ctrl := gomock.NewController(t)

	openLibrary := NewMockProvider(ctrl)
	openLibrary.EXPECT().Name().Return("openlibrary").AnyTimes()
	openLibrary.EXPECT().SearchByISBN(gomock.Any(), "9780441013593").
		Return(providerResult{ok: true, rawJSON: []byte(olSingleFixture), status: providerOK})

	svc := NewSearchService(nil, nil, nil, openLibrary)
	result, err := svc.SearchByISBN(context.Background(), "9780441013593")

	require.NoError(t, err)
	require.Len(t, result.Result.Works, 1)
	work := result.Result.Works[0]
	assert.Equal(t, "Dune", work.Title)
	assert.Equal(t, "openlibrary", work.PrimaryProvider)
	require.Len(t, work.Editions, 1)
	assert.Equal(t, "9780441013593", work.Editions[0].ISBN)
}

// TestSearchByTitleNormalizesCollectionShape exercises the same fanOut path
// with single=false, confirming the fix didn't flip the default the other
// way: SearchByTitle still expects OpenLibrary's `{"docs":[...]}` shape.
func TestSearchByTitleNormalizesCollectionShape(t *testing.T) {
	ctrl := gomock.NewController(t)

	openLibrary := NewMockProvider(ctrl)
	openLibrary.EXPECT().Name().Return("openlibrary").AnyTimes()
	openLibrary.EXPECT().SearchByTitle(gomock.Any(), "Dune", 10).
		Return(providerResult{ok: true, rawJSON: []byte(`{"docs":[{"title":"Dune","author_name":["Frank Herbert"],"first_publish_year":1965,"isbn":["9780441013593"],"key":"/works/OL893415W"}]}`), status: providerOK})

	svc := NewSearchService(nil, nil, nil, openLibrary)
	result, err := svc.SearchByTitle(context.Background(), "Dune", 10)

	require.NoError(t, err)
	require.Len(t, result.Result.Works, 1)
	assert.Equal(t, "Dune", result.Result.Works[0].Title)
	assert.Equal(t, 1965, result.Result.Works[0].FirstPublicationYear)
}
