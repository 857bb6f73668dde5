package internal

import (
	"sort"
	"strings"
	"time"
)

// ReviewStatus is attached to Work/Edition/Author records produced from an
// AI-detected source.
type ReviewStatus string

const (
	ReviewVerified   ReviewStatus = "verified"
	ReviewNeedsCheck ReviewStatus = "needsReview"
	ReviewUserEdited ReviewStatus = "userEdited"
)

// Format is an Edition's physical/digital manifestation, ordered by the
// priority used when deduplicating editions (§4.5).
type Format string

const (
	FormatHardcover  Format = "Hardcover"
	FormatPaperback  Format = "Paperback"
	FormatEbook      Format = "E-book"
	FormatAudiobook  Format = "Audiobook"
	FormatMassMarket Format = "Mass Market"
	FormatOther      Format = "Other"
)

var formatPriority = map[Format]int{
	FormatHardcover:  0,
	FormatPaperback:  1,
	FormatEbook:      2,
	FormatAudiobook:  3,
	FormatMassMarket: 4,
	FormatOther:      5,
}

// ExternalIDs collects the cross-provider identifiers a DTO may carry.
type ExternalIDs struct {
	Goodreads       []string `json:"goodreads,omitempty"`
	AmazonASIN      []string `json:"amazonAsin,omitempty"`
	LibraryThing    []string `json:"libraryThing,omitempty"`
	GoogleBooksID   []string `json:"googleBooksId,omitempty"`
	OpenLibraryID   string   `json:"openLibraryId,omitempty"`
	ISBNdbID        string   `json:"isbndbId,omitempty"`
}

func (e *ExternalIDs) union(o ExternalIDs) {
	e.Goodreads = unionStrings(e.Goodreads, o.Goodreads)
	e.AmazonASIN = unionStrings(e.AmazonASIN, o.AmazonASIN)
	e.LibraryThing = unionStrings(e.LibraryThing, o.LibraryThing)
	e.GoogleBooksID = unionStrings(e.GoogleBooksID, o.GoogleBooksID)
	if e.OpenLibraryID == "" {
		e.OpenLibraryID = o.OpenLibraryID
	}
	if e.ISBNdbID == "" {
		e.ISBNdbID = o.ISBNdbID
	}
}

func unionStrings(a, b []string) []string {
	s := newSet(a...)
	for _, v := range b {
		s[v] = struct{}{}
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Provenance is embedded in every canonical DTO.
type Provenance struct {
	Synthetic       bool     `json:"synthetic"`
	PrimaryProvider string   `json:"primaryProvider"`
	Contributors    []string `json:"contributors"`
}

func (p *Provenance) addContributor(name string) {
	s := newSet(p.Contributors...)
	s[name] = struct{}{}
	if p.PrimaryProvider != "" {
		s[p.PrimaryProvider] = struct{}{}
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	p.Contributors = out
}

// Work is the abstract creative work DTO (§3).
type Work struct {
	Title               string      `json:"title"`
	SubjectTags         []string    `json:"subjectTags"`
	OriginalLanguage    string      `json:"originalLanguage,omitempty"`
	FirstPublicationYear int        `json:"firstPublicationYear,omitempty"`
	Description         string      `json:"description,omitempty"`
	CoverURL            string      `json:"coverUrl,omitempty"`
	Provenance
	ExternalIDs    ExternalIDs  `json:"externalIds"`
	ISBNdbQuality  float64      `json:"isbndbQuality"`
	LastISBNDBSync time.Time    `json:"lastIsbndbSync,omitempty"`
	ReviewStatus   ReviewStatus `json:"reviewStatus,omitempty"`
	BoundingBox    *BoundingBox `json:"boundingBox,omitempty"`

	Editions []Edition `json:"editions,omitempty"`
	Authors  []Author  `json:"authors,omitempty"`
}

// BoundingBox is attached to Work records detected from a bookshelf photo.
// Coordinates are normalized to [0,1].
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b *BoundingBox) clamp() {
	if b == nil {
		return
	}
	b.X = clamp01(b.X)
	b.Y = clamp01(b.Y)
	b.W = clamp01(b.W)
	b.H = clamp01(b.H)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Edition is a physical/digital manifestation of a Work (§3).
type Edition struct {
	ISBN            string   `json:"isbn,omitempty"`
	ISBNs           []string `json:"isbns,omitempty"`
	Title           string   `json:"title"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationDate string   `json:"publicationDate,omitempty"` // YYYY or YYYY-MM-DD
	PageCount       int      `json:"pageCount,omitempty"`
	Format          Format   `json:"format,omitempty"`
	CoverURL        string   `json:"coverUrl,omitempty"`
	Language        string   `json:"language,omitempty"`
	Provenance
	ExternalIDs    ExternalIDs  `json:"externalIds"`
	ISBNdbQuality  float64      `json:"isbndbQuality"`
	LastISBNDBSync time.Time    `json:"lastIsbndbSync,omitempty"`
	ReviewStatus   ReviewStatus `json:"reviewStatus,omitempty"`
}

// normalizeISBNs ensures Edition.ISBNs always contains Edition.ISBN (§3 invariant).
func (e *Edition) normalizeISBNs() {
	if e.ISBN == "" {
		return
	}
	for _, i := range e.ISBNs {
		if i == e.ISBN {
			return
		}
	}
	e.ISBNs = append(e.ISBNs, e.ISBN)
}

// Gender is an Author's reported gender, one of a bounded vocabulary.
type Gender string

const (
	GenderFemale    Gender = "Female"
	GenderMale      Gender = "Male"
	GenderNonBinary Gender = "Non-binary"
	GenderOther     Gender = "Other"
	GenderUnknown   Gender = "Unknown"
)

// Author is the canonical author DTO (§3).
type Author struct {
	Name           string `json:"name"`
	Gender         Gender `json:"gender,omitempty"`
	CulturalRegion string `json:"culturalRegion,omitempty"`
	Nationality    string `json:"nationality,omitempty"`
	BirthYear      int    `json:"birthYear,omitempty"`
	DeathYear      int    `json:"deathYear,omitempty"`
	ExternalIDs    ExternalIDs `json:"externalIds"`
	BookCount      int         `json:"bookCount,omitempty"`

	Works []Work `json:"works,omitempty"`
}

// workQuality computes the quality score used to adjust cache TTL (§4.1):
// 0.4*hasISBN + 0.4*hasCover + 0.2*(descriptionLen>=100).
func workQuality(w Work) float64 {
	hasISBN := 0.0
	for _, e := range w.Editions {
		if e.ISBN != "" {
			hasISBN = 1
			break
		}
	}
	hasCover := 0.0
	if w.CoverURL != "" {
		hasCover = 1
	}
	hasDesc := 0.0
	if len(w.Description) >= 100 {
		hasDesc = 1
	}
	return 0.4*hasISBN + 0.4*hasCover + 0.2*hasDesc
}

// averageQuality is workQuality averaged across a batch of Works, used when a
// cache namespace holds more than one item (§4.1).
func averageQuality(works []Work) float64 {
	if len(works) == 0 {
		return 0
	}
	sum := 0.0
	for _, w := range works {
		sum += workQuality(w)
	}
	return sum / float64(len(works))
}

// completeness scores a single candidate result during enrichment (§4.5):
// 0.25*hasISBN + 0.25*hasCover + 0.15*hasPublisher + 0.15*hasYear +
// 0.10*hasPageCount + 0.10*hasDescription>=100.
func completeness(w Work) float64 {
	var isbn, cover, publisher, year, pages, desc float64
	if len(w.Editions) > 0 {
		e := w.Editions[0]
		if e.ISBN != "" {
			isbn = 1
		}
		if e.CoverURL != "" || w.CoverURL != "" {
			cover = 1
		}
		if e.Publisher != "" {
			publisher = 1
		}
		if e.PageCount > 0 {
			pages = 1
		}
	} else if w.CoverURL != "" {
		cover = 1
	}
	if w.FirstPublicationYear > 0 {
		year = 1
	}
	if len(w.Description) >= 100 {
		desc = 1
	}
	return 0.25*isbn + 0.25*cover + 0.15*publisher + 0.15*year + 0.10*pages + 0.10*desc
}

// editionPriority orders editions for dedup: format priority ascending, then
// isbndbQuality descending, then publication date descending (§4.5).
func editionPriority(editions []Edition) {
	sort.SliceStable(editions, func(i, j int) bool {
		fi, fj := formatPriority[editions[i].Format], formatPriority[editions[j].Format]
		if fi != fj {
			return fi < fj
		}
		if editions[i].ISBNdbQuality != editions[j].ISBNdbQuality {
			return editions[i].ISBNdbQuality > editions[j].ISBNdbQuality
		}
		return editions[i].PublicationDate > editions[j].PublicationDate
	})
}

// titleMatches reports whether an Edition belongs to a Work under the §8
// invariant: the edition's normalized title matches the work's, or the work
// is synthetic.
func titleMatches(w Work, e Edition) bool {
	if w.Synthetic {
		return true
	}
	return normalizeTitle(w.Title) == normalizeTitle(e.Title)
}

func extractYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	digits := s[:4]
	year := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0
		}
		year = year*10 + int(c-'0')
	}
	if year < 1000 || year > 3000 {
		return 0
	}
	return year
}
