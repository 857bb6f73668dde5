//go:generate go run go.uber.org/mock/mockgen -typed -source providers.go -package internal -destination mock_provider.go . Provider

package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
)

// providerResult is the contract every provider client returns (§4.3):
// {ok, rawJson} plus an HTTP-style error categorization.
type providerResult struct {
	ok         bool
	rawJSON    []byte
	status     providerStatus
	retryAfter int // seconds, only meaningful when status == providerRateLimited
}

// Provider is the contract §4.3 specifies. Each concrete client implements
// it against a specific upstream API; the enrichment pipeline only ever
// talks to this interface.
type Provider interface {
	Name() string
	SearchByTitle(ctx context.Context, query string, maxResults int) providerResult
	SearchByISBN(ctx context.Context, isbn string) providerResult
	ListAuthorWorks(ctx context.Context, name string, limit, offset int) providerResult
	ListEditionsForWork(ctx context.Context, title, author string) providerResult
}

// doGet issues a GET and converts transport-layer failures (including the
// errorProxyTransport's statusErr) into a providerResult, never a panic or
// an unwrapped error escaping to the enrichment pipeline.
func doGet(ctx context.Context, client *http.Client, path string, query url.Values) providerResult {
	u := path
	if len(query) > 0 {
		u = path + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return providerResult{status: providerInvalid}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return providerResult{status: providerTimeout}
		}
		var s statusErr
		if asStatusErr(err, &s) {
			return statusResult(int(s), resp)
		}
		return providerResult{status: providerTransient}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerResult{status: providerTransient}
	}
	return providerResult{ok: true, rawJSON: body, status: providerOK}
}

func statusResult(code int, resp *http.Response) providerResult {
	status := classifyHTTPStatus(code)
	r := providerResult{status: status}
	if status == providerRateLimited && resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			fmt.Sscanf(ra, "%d", &r.retryAfter)
		}
		if r.retryAfter == 0 {
			r.retryAfter = 60
		}
	}
	return r
}

func asStatusErr(err error, target *statusErr) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if s, ok := err.(statusErr); ok {
			*target = s
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// --- Google Books -----------------------------------------------------

type googleBooksProvider struct {
	client *http.Client
}

func NewGoogleBooksProvider(apiKey Secret) Provider {
	return &googleBooksProvider{
		client: newProviderClient("www.googleapis.com", 10, "key", apiKey),
	}
}

func (p *googleBooksProvider) Name() string { return "googlebooks" }

func (p *googleBooksProvider) SearchByTitle(ctx context.Context, query string, maxResults int) providerResult {
	return doGet(ctx, p.client, "/books/v1/volumes", url.Values{
		"q":          {"intitle:" + query},
		"maxResults": {fmt.Sprint(maxResults)},
	})
}

func (p *googleBooksProvider) SearchByISBN(ctx context.Context, isbn string) providerResult {
	return doGet(ctx, p.client, "/books/v1/volumes", url.Values{"q": {"isbn:" + isbn}})
}

func (p *googleBooksProvider) ListAuthorWorks(ctx context.Context, name string, limit, offset int) providerResult {
	return doGet(ctx, p.client, "/books/v1/volumes", url.Values{
		"q":          {"inauthor:" + name},
		"maxResults": {fmt.Sprint(limit)},
		"startIndex": {fmt.Sprint(offset)},
	})
}

func (p *googleBooksProvider) ListEditionsForWork(ctx context.Context, title, author string) providerResult {
	return doGet(ctx, p.client, "/books/v1/volumes", url.Values{
		"q": {"intitle:" + title + "+inauthor:" + author},
	})
}

// --- OpenLibrary --------------------------------------------------------

type openLibraryProvider struct {
	client *http.Client
}

func NewOpenLibraryProvider() Provider {
	return &openLibraryProvider{
		client: newProviderClient("openlibrary.org", 1, "", ""),
	}
}

func (p *openLibraryProvider) Name() string { return "openlibrary" }

func (p *openLibraryProvider) SearchByTitle(ctx context.Context, query string, maxResults int) providerResult {
	return doGet(ctx, p.client, "/search.json", url.Values{
		"title": {query},
		"limit": {fmt.Sprint(maxResults)},
	})
}

func (p *openLibraryProvider) SearchByISBN(ctx context.Context, isbn string) providerResult {
	return doGet(ctx, p.client, fmt.Sprintf("/isbn/%s.json", isbn), nil)
}

func (p *openLibraryProvider) ListAuthorWorks(ctx context.Context, name string, limit, offset int) providerResult {
	return doGet(ctx, p.client, "/search.json", url.Values{
		"author": {name},
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	})
}

func (p *openLibraryProvider) ListEditionsForWork(ctx context.Context, title, author string) providerResult {
	return doGet(ctx, p.client, "/search.json", url.Values{
		"title":  {title},
		"author": {author},
		"fields": {"editions"},
	})
}

// --- ISBNdb --------------------------------------------------------------

type isbndbProvider struct {
	client *http.Client
}

func NewISBNdbProvider(apiKey Secret) Provider {
	return &isbndbProvider{
		client: newProviderClient("api2.isbndb.com", 3, "Authorization", apiKey),
	}
}

func (p *isbndbProvider) Name() string { return "isbndb" }

func (p *isbndbProvider) SearchByTitle(ctx context.Context, query string, maxResults int) providerResult {
	return doGet(ctx, p.client, "/books/"+url.PathEscape(query), url.Values{
		"pageSize": {fmt.Sprint(maxResults)},
	})
}

func (p *isbndbProvider) SearchByISBN(ctx context.Context, isbn string) providerResult {
	return doGet(ctx, p.client, "/book/"+isbn, nil)
}

func (p *isbndbProvider) ListAuthorWorks(ctx context.Context, name string, limit, offset int) providerResult {
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}
	return doGet(ctx, p.client, "/author/"+url.PathEscape(name), url.Values{
		"page":     {fmt.Sprint(page)},
		"pageSize": {fmt.Sprint(limit)},
	})
}

func (p *isbndbProvider) ListEditionsForWork(ctx context.Context, title, author string) providerResult {
	return doGet(ctx, p.client, "/books/"+url.PathEscape(title), url.Values{
		"author": {author},
	})
}

// decodeRaw is a small helper normalizers use to unmarshal a provider's
// rawJSON into a provider-specific shape.
func decodeRaw[T any](raw []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(raw, &v)
	return v, err
}
