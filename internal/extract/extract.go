// Package extract turns rendered book detail pages into fixed-schema
// records. Selectors target the retailer's product page layout; a missing
// optional element yields the field's default, never an error.
package extract

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mholgersen/bookgraph/internal/textnorm"
	"github.com/mholgersen/bookgraph/internal/types"
)

// detailKeys maps the labels of the details list to record fields.
var detailKeys = map[string]string{
	"Sidetal":        "page_count",
	"Udgivelsesdato": "published_date",
	"Udgiver":        "publisher",
	"Forlag":         "publisher",
	"Format":         "format",
	"ISBN13":         "isbn",
	"ISBN":           "isbn",
}

// Extractor parses detail pages.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With("component", "extract")}
}

// Extract parses a rendered detail page into a BookRecord. Title and authors
// are normalized for matching; every optional field falls back to its
// default when the element is absent or malformed.
func (e *Extractor) Extract(body []byte, pageURL string) (*types.BookRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Err: err}
	}

	rec := &types.BookRecord{
		URL:          pageURL,
		Description:  types.NoDescription,
		Rating:       0,
		NumOfRatings: 0,
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return nil, &types.ParseError{URL: pageURL, Selector: "h1", Err: types.ErrMissingTitle}
	}
	rec.TitleOriginal = title
	rec.TitleNormalized = textnorm.Loose(title)
	rec.Title = rec.TitleNormalized

	rec.Authors = extractAuthors(doc)
	rec.AuthorsOriginal = strings.Join(rec.Authors, ", ")
	rec.AuthorsNormalized = rec.AuthorsOriginal

	e.extractDetails(doc, rec, pageURL)

	if desc := strings.TrimSpace(doc.Find("p.mb-0").First().Text()); desc != "" {
		rec.Description = desc
	}

	rec.Rating, rec.NumOfRatings = extractRating(doc)
	rec.Recommendations = Recommendations(doc)

	return rec, nil
}

// extractAuthors collects the linked author names, normalized for storage.
// The separator ampersand between names is rendered as its own link text and
// is skipped.
func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	doc.Find("div.product-autor a.link--black").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Text())
		if name == "" || name == "&" {
			return
		}
		authors = append(authors, textnorm.Strict(name))
	})
	return authors
}

// extractDetails walks the details list. Each entry is a "<key> <value>" line
// whose key lives in a bold span.
func (e *Extractor) extractDetails(doc *goquery.Document, rec *types.BookRecord, pageURL string) {
	doc.Find("ul.description-dot-list li").Each(func(_ int, s *goquery.Selection) {
		key := strings.TrimSpace(s.Find("span.text-700").First().Text())
		field, ok := detailKeys[key]
		if !ok {
			return
		}
		value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.Text()), key))

		switch field {
		case "page_count":
			n, err := strconv.Atoi(value)
			if err != nil {
				e.logger.Debug("unparseable page count", "url", pageURL, "value", value)
				n = 0
			}
			rec.PageCount = n
		case "published_date":
			rec.PublishedDate = value
		case "publisher":
			rec.Publisher = value
		case "format":
			rec.Format = value
		case "isbn":
			rec.ISBN = value
		}
	})
}

// extractRating reads the aggregate rating and review count. The rating uses
// a decimal comma; the count is the first token of a "(N anmeldelser)" label.
func extractRating(doc *goquery.Document) (float64, int) {
	var rating float64
	var count int

	block := doc.Find("div.product-rating").First()
	if block.Length() == 0 {
		return 0, 0
	}

	if raw := strings.TrimSpace(block.Find("span.text-l.text-800").First().Text()); raw != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil {
			rating = v
		}
	}

	if raw := strings.TrimSpace(block.Find("span.text-s").First().Text()); raw != "" {
		first := strings.Fields(raw)[0]
		first = strings.Trim(first, "()")
		if v, err := strconv.Atoi(first); err == nil {
			count = v
		}
	}

	return rating, count
}

// Recommendations collects the identifiers of the books in the
// recommendation slider, in page order without duplicates.
func Recommendations(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var ids []string
	doc.Find("#product-page-banner-container div[class^=new-teaser] a.cover-container").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("data-product-identifier")
		if !ok || id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	})
	return ids
}

// EditionVariantURL inspects the edition variant strip. It returns the
// resolved URL of the paper-edition link when the page shows a different
// edition, or "" when this page already is the paper edition or no variant
// strip exists.
func EditionVariantURL(body []byte, base string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", &types.ParseError{URL: base, Err: err}
	}

	strip := doc.Find("div.product-variant").First()
	if strip.Length() == 0 {
		return "", nil
	}

	// An active book icon means the current page is the paper edition.
	if strip.Find("a.active.icon-book").Length() > 0 {
		return "", nil
	}

	href, ok := strip.Find("a.icon-book").First().Attr("href")
	if !ok || href == "" {
		return "", nil
	}
	return resolveRef(base, href)
}

// RatingAndRecommendations harvests the refresh-pass fields from a rendered
// page: the rating, the review count, and those recommended identifiers that
// appear in the known set.
func (e *Extractor) RatingAndRecommendations(body []byte, pageURL string, known map[string]struct{}) (*types.RatingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &types.ParseError{URL: pageURL, Err: err}
	}

	rec := &types.RatingRecord{}
	rec.Rating, rec.NumOfRatings = extractRating(doc)

	for _, id := range Recommendations(doc) {
		if _, ok := known[id]; ok {
			rec.Recommendations = append(rec.Recommendations, id)
		}
	}
	return rec, nil
}

func resolveRef(base, href string) (string, error) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", &types.ParseError{URL: base, Err: err}
	}
	hu, err := url.Parse(href)
	if err != nil {
		return "", &types.ParseError{URL: base, Err: err}
	}
	return bu.ResolveReference(hu).String(), nil
}
