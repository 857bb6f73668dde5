package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"The Hobbit":       "hobbit",
		"  A Game of Thrones ": "game of thrones",
		"An Echo in Time":  "echo in time",
		"Dune: Part One!!": "dune part one",
		"already lower":    "already lower",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeTitle(in), "input %q", in)
	}
}

func TestNormalizeAuthor(t *testing.T) {
	assert.Equal(t, "ursula k le guin", normalizeAuthor("Le Guin, Ursula K."))
	assert.Equal(t, "neil gaiman", normalizeAuthor("  Neil Gaiman  "))
	assert.Equal(t, "", normalizeAuthor(""))
}

func TestNormalizeISBN(t *testing.T) {
	i, ok := normalizeISBN("0-345-39180-2")
	assert.True(t, ok)
	assert.Equal(t, "0345391802", i)

	i, ok = normalizeISBN("978-0-345-39180-0")
	assert.True(t, ok)
	assert.Equal(t, "9780345391800", i)

	_, ok = normalizeISBN("not an isbn")
	assert.False(t, ok)

	i, ok = normalizeISBN("043942089x")
	assert.True(t, ok)
	assert.Equal(t, "043942089X", i)
}

func TestToISBN13IsIdempotent(t *testing.T) {
	i10, ok := toISBN13("0345391802")
	assert.True(t, ok)
	assert.Len(t, i10, 13)

	i13again, ok := toISBN13(i10)
	assert.True(t, ok)
	assert.Equal(t, i10, i13again)

	// A 13-digit ISBN passes through unchanged (its check digit is not
	// recomputed).
	passthrough, ok := toISBN13("9780345391800")
	assert.True(t, ok)
	assert.Equal(t, "9780345391800", passthrough)
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a := cacheKey("ns", map[string]string{"b": "2", "a": "1"})
	b := cacheKey("ns", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, "ns:a=1&b=2", a)
}

func TestAdvancedSearchKeyMatchesPrivateWrapper(t *testing.T) {
	assert.Equal(t, AdvancedSearchKey("Dune", "Frank Herbert"), advancedSearchKey("Dune", "Frank Herbert"))
}

func TestNormalizeGenre(t *testing.T) {
	assert.Equal(t, "science-fiction", normalizeGenre("Fiction / Sci-Fi"))
	assert.Equal(t, "childrens", normalizeGenre("Juvenile Fiction"))
	assert.Equal(t, "some new category", normalizeGenre("Some New Category!"))
}

func TestNormalizeGenresDedupesAndSorts(t *testing.T) {
	got := normalizeGenres([]string{"Fiction / Fantasy", "fiction / fantasy", "History"})
	assert.Equal(t, []string{"fantasy", "history"}, got)
}
