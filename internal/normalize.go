package internal

import (
	"fmt"
	"strings"
)

// normalizer maps one provider's raw JSON into zero or more canonical Works,
// tagged with primaryProvider=<that provider> (§4.4). One normalizer exists
// per provider per resource shape below.

// --- Google Books --------------------------------------------------------

type gbVolumes struct {
	Items []gbVolume `json:"items"`
}

type gbVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Authors             []string `json:"authors"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		PageCount           int      `json:"pageCount"`
		Categories          []string `json:"categories"`
		Language            string   `json:"language"`
		Publisher           string   `json:"publisher"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// normalizeGoogleBooks maps a Google Books volumes response into Works. Google
// Books has no durable Work identity of its own, but a volume carries enough
// detail (title, categories, description, publication year, cover) to
// populate a usable Work directly, unlike ISBNdb/OpenLibrary editions, which
// rely on synthesizeWorkIfNeeded.
func normalizeGoogleBooks(raw []byte) ([]Work, error) {
	payload, err := decodeRaw[gbVolumes](raw)
	if err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(payload.Items))
	for _, item := range payload.Items {
		vi := item.VolumeInfo
		edition := Edition{
			Title:           vi.Title,
			Publisher:       vi.Publisher,
			PublicationDate: vi.PublishedDate,
			PageCount:       vi.PageCount,
			Language:        vi.Language,
			CoverURL:        vi.ImageLinks.Thumbnail,
			Format:          FormatOther,
		}
		edition.Provenance = Provenance{PrimaryProvider: "googlebooks"}
		edition.ExternalIDs.GoogleBooksID = []string{item.ID}
		for _, ii := range vi.IndustryIdentifiers {
			if ii.Type == "ISBN_13" {
				edition.ISBN = ii.Identifier
			} else if ii.Type == "ISBN_10" && edition.ISBN == "" {
				if i13, ok := toISBN13(ii.Identifier); ok {
					edition.ISBN = i13
				}
			}
		}
		edition.normalizeISBNs()

		authors := make([]Author, 0, len(vi.Authors))
		for _, name := range vi.Authors {
			authors = append(authors, Author{Name: name})
		}

		works = append(works, Work{
			Title:                vi.Title,
			SubjectTags:          normalizeGenres(vi.Categories),
			Description:          vi.Description,
			FirstPublicationYear: extractYear(vi.PublishedDate),
			CoverURL:             vi.ImageLinks.Thumbnail,
			Provenance:           Provenance{PrimaryProvider: "googlebooks"},
			Editions:             []Edition{edition},
			Authors:              authors,
		})
	}
	return works, nil
}

// --- OpenLibrary ----------------------------------------------------------

type olSearchResponse struct {
	Docs []olDoc `json:"docs"`
}

type olDoc struct {
	Title          string   `json:"title"`
	AuthorName     []string `json:"author_name"`
	FirstPublishYr int      `json:"first_publish_year"`
	ISBN           []string `json:"isbn"`
	Subject        []string `json:"subject"`
	Key            string   `json:"key"`
	CoverI         int      `json:"cover_i"`
}

// olBook is the shape OpenLibrary's `/isbn/{isbn}.json` single-book endpoint
// returns -- a bare book object, not the `{"docs":[...]}` search-collection
// envelope normalizeOpenLibrary expects (§4.4: "one normalizer per provider
// per resource type").
type olBook struct {
	Title       string     `json:"title"`
	Authors     []olKeyRef `json:"authors"`
	PublishDate string     `json:"publish_date"`
	Subjects    []string   `json:"subjects"`
	Key         string     `json:"key"`
	ISBN10      []string   `json:"isbn_10"`
	ISBN13      []string   `json:"isbn_13"`
	Covers      []int      `json:"covers"`
}

type olKeyRef struct {
	Key string `json:"key"`
}

// normalizeOpenLibrarySingle parses the single-book response SearchByISBN
// gets back, distinct from normalizeOpenLibrary's search-collection shape.
func normalizeOpenLibrarySingle(raw []byte) ([]Work, error) {
	b, err := decodeRaw[olBook](raw)
	if err != nil {
		return nil, err
	}
	if b.Title == "" {
		return nil, nil
	}

	var editions []Edition
	isbns := append(append([]string{}, b.ISBN13...), b.ISBN10...)
	for _, isbn := range isbns {
		e := Edition{Title: b.Title, ISBN: isbn, Format: FormatOther}
		e.Provenance = Provenance{PrimaryProvider: "openlibrary"}
		e.normalizeISBNs()
		editions = append(editions, e)
	}

	authors := make([]Author, 0, len(b.Authors))
	for _, a := range b.Authors {
		if a.Key != "" {
			authors = append(authors, Author{Name: a.Key})
		}
	}

	cover := ""
	if len(b.Covers) > 0 && b.Covers[0] > 0 {
		cover = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", b.Covers[0])
	}

	return []Work{{
		Title:                b.Title,
		SubjectTags:          normalizeGenres(b.Subjects),
		FirstPublicationYear: extractYear(b.PublishDate),
		CoverURL:             cover,
		Provenance:           Provenance{PrimaryProvider: "openlibrary"},
		ExternalIDs:          ExternalIDs{OpenLibraryID: b.Key},
		Editions:             editions,
		Authors:              authors,
	}}, nil
}

func normalizeOpenLibrary(raw []byte) ([]Work, error) {
	payload, err := decodeRaw[olSearchResponse](raw)
	if err != nil {
		return nil, err
	}

	works := make([]Work, 0, len(payload.Docs))
	for _, d := range payload.Docs {
		var editions []Edition
		for _, isbn := range d.ISBN {
			e := Edition{Title: d.Title, ISBN: isbn, Format: FormatOther}
			e.Provenance = Provenance{PrimaryProvider: "openlibrary"}
			e.normalizeISBNs()
			editions = append(editions, e)
		}

		authors := make([]Author, 0, len(d.AuthorName))
		for _, name := range d.AuthorName {
			authors = append(authors, Author{Name: name})
		}

		cover := ""
		if d.CoverI > 0 {
			cover = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-L.jpg", d.CoverI)
		}

		works = append(works, Work{
			Title:                d.Title,
			SubjectTags:          normalizeGenres(d.Subject),
			FirstPublicationYear: d.FirstPublishYr,
			CoverURL:             cover,
			Provenance:           Provenance{PrimaryProvider: "openlibrary"},
			ExternalIDs:          ExternalIDs{OpenLibraryID: d.Key},
			Editions:             editions,
			Authors:              authors,
		})
	}
	return works, nil
}

// --- ISBNdb -----------------------------------------------------------------

type isbndbBook struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Publisher  string   `json:"publisher"`
	Date       string   `json:"date_published"`
	Pages      int      `json:"pages"`
	Language   string   `json:"language"`
	Binding    string   `json:"binding"`
	Image      string   `json:"image"`
	ISBN13     string   `json:"isbn13"`
	ISBN       string   `json:"isbn"`
	Synopsis   string   `json:"synopsis"`
	Subjects   []string `json:"subjects"`
}

type isbndbBookResponse struct {
	Book isbndbBook `json:"book"`
}

type isbndbSearchResponse struct {
	Books []isbndbBook `json:"books"`
	Total int          `json:"total"`
}

func isbndbFormat(binding string) Format {
	switch strings.ToLower(binding) {
	case "hardcover":
		return FormatHardcover
	case "paperback", "trade paper":
		return FormatPaperback
	case "mass market paperback":
		return FormatMassMarket
	case "ebook", "kindle edition":
		return FormatEbook
	case "audio cd", "audible audiobook", "audiobook":
		return FormatAudiobook
	default:
		return FormatOther
	}
}

func normalizeISBNdbBook(b isbndbBook) Work {
	isbn := b.ISBN13
	if isbn == "" {
		isbn = b.ISBN
	}
	edition := Edition{
		ISBN:            isbn,
		Title:           b.Title,
		Publisher:       b.Publisher,
		PublicationDate: b.Date,
		PageCount:       b.Pages,
		Format:          isbndbFormat(b.Binding),
		CoverURL:        b.Image,
		Language:        b.Language,
	}
	edition.Provenance = Provenance{PrimaryProvider: "isbndb"}
	edition.normalizeISBNs()

	authors := make([]Author, 0, len(b.Authors))
	for _, name := range b.Authors {
		authors = append(authors, Author{Name: name})
	}

	return Work{
		Title:                b.Title,
		SubjectTags:          normalizeGenres(b.Subjects),
		Description:          b.Synopsis,
		FirstPublicationYear: extractYear(b.Date),
		CoverURL:             b.Image,
		Provenance:           Provenance{PrimaryProvider: "isbndb"},
		Editions:             []Edition{edition},
		Authors:              authors,
	}
}

func normalizeISBNdbSingle(raw []byte) (Work, error) {
	payload, err := decodeRaw[isbndbBookResponse](raw)
	if err != nil {
		return Work{}, err
	}
	return normalizeISBNdbBook(payload.Book), nil
}

func normalizeISBNdbSearch(raw []byte) ([]Work, error) {
	payload, err := decodeRaw[isbndbSearchResponse](raw)
	if err != nil {
		return nil, err
	}
	works := make([]Work, 0, len(payload.Books))
	for _, b := range payload.Books {
		works = append(works, normalizeISBNdbBook(b))
	}
	return works, nil
}

// normalize dispatches a providerResult to the right normalizer for that
// provider/shape combination, used by enrichOne/enrichMany.
func normalize(providerName string, isSingle bool, raw []byte) ([]Work, error) {
	switch providerName {
	case "googlebooks":
		return normalizeGoogleBooks(raw)
	case "openlibrary":
		if isSingle {
			return normalizeOpenLibrarySingle(raw)
		}
		return normalizeOpenLibrary(raw)
	case "isbndb":
		if isSingle {
			w, err := normalizeISBNdbSingle(raw)
			if err != nil {
				return nil, err
			}
			return []Work{w}, nil
		}
		return normalizeISBNdbSearch(raw)
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}
