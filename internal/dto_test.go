package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkQuality(t *testing.T) {
	bare := Work{}
	assert.Equal(t, 0.0, workQuality(bare))

	full := Work{
		CoverURL:    "https://example.com/cover.jpg",
		Description: strings.Repeat("x", 100),
		Editions:    []Edition{{ISBN: "9780345391800"}},
	}
	assert.InDelta(t, 1.0, workQuality(full), 0.0001)

	coverOnly := Work{CoverURL: "https://example.com/cover.jpg"}
	assert.InDelta(t, 0.4, workQuality(coverOnly), 0.0001)
}

func TestAverageQuality(t *testing.T) {
	assert.Equal(t, 0.0, averageQuality(nil))

	works := []Work{
		{CoverURL: "c"},
		{Editions: []Edition{{ISBN: "9780345391800"}}},
	}
	assert.InDelta(t, 0.4, averageQuality(works), 0.0001)
}

func TestCompletenessPrefersFirstEdition(t *testing.T) {
	w := Work{
		FirstPublicationYear: 1965,
		Editions: []Edition{
			{ISBN: "9780345391800", CoverURL: "c", Publisher: "Ace", PageCount: 412},
		},
	}
	assert.InDelta(t, 0.90, completeness(w), 0.0001)
}

func TestCompletenessFallsBackToWorkCover(t *testing.T) {
	w := Work{CoverURL: "c"}
	assert.InDelta(t, 0.25, completeness(w), 0.0001)
}

func TestEditionPriorityOrdersByFormatThenQualityThenDate(t *testing.T) {
	editions := []Edition{
		{Format: FormatPaperback, ISBNdbQuality: 0.9, PublicationDate: "2001"},
		{Format: FormatHardcover, ISBNdbQuality: 0.1, PublicationDate: "1965"},
		{Format: FormatHardcover, ISBNdbQuality: 0.9, PublicationDate: "1999"},
	}
	editionPriority(editions)

	assert.Equal(t, FormatHardcover, editions[0].Format)
	assert.Equal(t, 0.9, editions[0].ISBNdbQuality)
	assert.Equal(t, FormatHardcover, editions[1].Format)
	assert.Equal(t, 0.1, editions[1].ISBNdbQuality)
	assert.Equal(t, FormatPaperback, editions[2].Format)
}

func TestExtractYear(t *testing.T) {
	assert.Equal(t, 1965, extractYear("1965-06-01"))
	assert.Equal(t, 1965, extractYear("1965"))
	assert.Equal(t, 0, extractYear("not a date"))
	assert.Equal(t, 0, extractYear(""))
	assert.Equal(t, 0, extractYear("99"))
}

func TestTitleMatches(t *testing.T) {
	w := Work{Title: "Dune"}
	assert.True(t, titleMatches(w, Edition{Title: "  Dune  "}))
	assert.False(t, titleMatches(w, Edition{Title: "Dune Messiah"}))

	synthetic := Work{Synthetic: true}
	assert.True(t, titleMatches(synthetic, Edition{Title: "Anything"}))
}

func TestExternalIDsUnion(t *testing.T) {
	a := ExternalIDs{Goodreads: []string{"1"}, OpenLibraryID: "OL1"}
	b := ExternalIDs{Goodreads: []string{"1", "2"}, ISBNdbID: "ISBN1"}
	a.union(b)

	assert.Equal(t, []string{"1", "2"}, a.Goodreads)
	assert.Equal(t, "OL1", a.OpenLibraryID) // existing value wins
	assert.Equal(t, "ISBN1", a.ISBNdbID)    // adopted from b
}
