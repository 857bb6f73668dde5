package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var leadingArticles = []string{"the ", "a ", "an "}

// normalizeTitle lowercases, trims, strips a leading article, strips
// punctuation, and collapses whitespace (§4.2).
func normalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	for _, a := range leadingArticles {
		if strings.HasPrefix(t, a) {
			t = strings.TrimPrefix(t, a)
			break
		}
	}
	t = stripPunctuation(t)
	return collapseWhitespace(t)
}

// normalizeAuthor lowercases, trims, flips "Last, First" to "First Last",
// and strips punctuation (§4.2).
func normalizeAuthor(author string) string {
	a := strings.ToLower(strings.TrimSpace(author))
	if idx := strings.Index(a, ","); idx >= 0 {
		last := strings.TrimSpace(a[:idx])
		first := strings.TrimSpace(a[idx+1:])
		if last != "" && first != "" {
			a = first + " " + last
		}
	}
	a = stripPunctuation(a)
	return collapseWhitespace(a)
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// normalizeISBN strips hyphens/spaces and validates the result is a 10 or
// 13-digit ISBN (the 10-digit form's final character may be 'X').
func normalizeISBN(isbn string) (string, bool) {
	s := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(isbn))
	switch len(s) {
	case 10:
		for i, c := range s {
			if c >= '0' && c <= '9' {
				continue
			}
			if i == 9 && c == 'X' {
				continue
			}
			return "", false
		}
		return s, true
	case 13:
		for _, c := range s {
			if c < '0' || c > '9' {
				return "", false
			}
		}
		return s, true
	default:
		return "", false
	}
}

// toISBN13 canonicalizes an ISBN-10 to ISBN-13 for dedup keys. ISBN-13 input
// passes through unchanged. toISBN13(toISBN13(x)) == toISBN13(x).
func toISBN13(isbn string) (string, bool) {
	s, ok := normalizeISBN(isbn)
	if !ok {
		return "", false
	}
	if len(s) == 13 {
		return s, true
	}
	core := "978" + s[:9]
	sum := 0
	for i, c := range core {
		d := int(c - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	check := (10 - sum%10) % 10
	return core + strconv.Itoa(check), true
}

// cacheKey builds `<namespace>:<k1>=<v1>&<k2>=<v2>...` with keys sorted
// lexicographically, so parameter order never affects the key (§4.2).
func cacheKey(namespace string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func titleSearchKey(title string, maxResults int) string {
	return cacheKey("search:title", map[string]string{
		"title":      normalizeTitle(title),
		"maxResults": fmt.Sprint(maxResults),
	})
}

func isbnSearchKey(isbn string) string {
	i13, _ := toISBN13(isbn)
	return cacheKey("search:isbn", map[string]string{"isbn": i13})
}

func advancedSearchKey(title, author string) string {
	return AdvancedSearchKey(title, author)
}

// AdvancedSearchKey is the public form of the `v1:advanced` cache key,
// exposed so operational commands (e.g. the `bust` CLI subcommand) can
// invalidate the exact key `SearchAdvanced` populates.
func AdvancedSearchKey(title, author string) string {
	return cacheKey("v1:advanced", map[string]string{
		"title":  normalizeTitle(title),
		"author": normalizeAuthor(author),
	})
}

func editionsSearchKey(workTitle, author string) string {
	return cacheKey("v1:editions", map[string]string{
		"title":  normalizeTitle(workTitle),
		"author": normalizeAuthor(author),
	})
}

// csvParseKey namespaces the vision model's parsed-rows cache so a prompt
// version bump invalidates every previously-parsed CSV without needing to
// touch anything already stored under csv-results (§4.9 step 2: "parser
// version is part of the cache key so prompt changes invalidate").
func csvParseKey(body []byte, promptVersion string) string {
	sum := sha256.Sum256(body)
	return cacheKey("csv-parse", map[string]string{
		"version": promptVersion,
		"body":    hex.EncodeToString(sum[:]),
	})
}

func csvResultsKey(jobID string) string        { return "csv-results:" + jobID }
func scanResultsKey(jobID string) string       { return "scan-results:" + jobID }
func enrichmentResultsKey(jobID string) string { return "enrichment-results:" + jobID }
func rateLimitKey(ip string) string            { return "rate-limit:" + ip }

// genreTable maps provider-specific category strings to a fixed
// normalization vocabulary (§4.4). Unknown tags pass through lowercased.
var genreTable = map[string]string{
	"juvenile fiction":     "childrens",
	"young adult fiction":  "young-adult",
	"fiction / fantasy":    "fantasy",
	"fiction / sci-fi":     "science-fiction",
	"fiction / science fiction": "science-fiction",
	"fiction / mystery & detective": "mystery",
	"fiction / romance":    "romance",
	"fiction / thrillers":  "thriller",
	"biography & autobiography": "biography",
	"history":              "history",
	"poetry":               "poetry",
	"comics & graphic novels": "graphic-novel",
	"self-help":            "self-help",
	"business & economics": "business",
	"cooking":              "cooking",
	"religion":             "religion",
	"science":              "science",
	"literary collections": "literary-fiction",
	"fiction":              "fiction",
}

func normalizeGenre(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := genreTable[key]; ok {
		return v
	}
	return collapseWhitespace(stripPunctuation(key))
}

func normalizeGenres(raw []string) []string {
	seen := newSet[string]()
	out := []string{}
	for _, r := range raw {
		g := normalizeGenre(r)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
