package types

import "strconv"

// LoadStatus classifies the terminal outcome of loading a book detail page.
type LoadStatus int

const (
	// LoadNew means the page loaded and no persisted book carries its URL.
	LoadNew LoadStatus = iota

	// LoadExisting means the page loaded but a book with its URL is already
	// persisted. The markup is still returned so recommendations can be
	// harvested without re-creating the core record.
	LoadExisting

	// LoadFailed means the page never reached a usable state.
	LoadFailed
)

func (s LoadStatus) String() string {
	switch s {
	case LoadNew:
		return "new"
	case LoadExisting:
		return "existing"
	case LoadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sentinel field values used by placeholder records.
const (
	NotAvailable   = "N/A"
	NoDescription  = "Description Not Available"
	RatingUnknown  = -1
	ReviewsUnknown = -1
)

// BookRecord is the fixed-schema record produced by the extractor and
// consumed by the ingestion engine. Optional fields carry explicit defaults
// rather than being absent.
type BookRecord struct {
	// ISBN is the identity key. It may be a synthetic value (the input rank,
	// or a failed lookup key) when the real identifier is unavailable.
	ISBN string

	Title             string
	TitleOriginal     string
	TitleNormalized   string
	AuthorsOriginal   string
	AuthorsNormalized string

	// Authors holds the normalized author names to be linked as rows.
	Authors []string

	PageCount     int
	PublishedDate string
	Publisher     string
	Format        string
	NumOfRatings  int
	Rating        float64
	Description   string

	// Recommendations holds the identity keys of the books this page
	// recommends.
	Recommendations []string

	URL string

	// Top10k is the input-list rank. Zero means the book is not a top-level
	// entry and its recommendations are not scraped.
	Top10k int
}

// NotAvailableRecord returns a sentinel-filled record for a book whose data
// could not be obtained.
func NotAvailableRecord() *BookRecord {
	return &BookRecord{
		ISBN:          "x",
		Title:         NotAvailable,
		PublishedDate: NotAvailable,
		Publisher:     NotAvailable,
		Format:        NotAvailable,
		Description:   NotAvailable,
		URL:           NotAvailable,
		Rating:        RatingUnknown,
		NumOfRatings:  ReviewsUnknown,
	}
}

// PlaceholderWithTitleAuthor builds a placeholder record for a top-level
// input row that could not be resolved. The rank doubles as the synthetic
// identity key so that every input row still yields exactly one book row.
func PlaceholderWithTitleAuthor(title, author string, rank int) *BookRecord {
	rec := NotAvailableRecord()
	rec.ISBN = strconv.Itoa(rank)
	rec.Title = title
	if author != "" {
		rec.Authors = []string{author}
	}
	rec.Top10k = rank
	return rec
}

// PlaceholderWithISBN builds a placeholder record for a recommended book
// whose lookup failed. The failed lookup key becomes the identity so the
// recommendation edge can still be recorded.
func PlaceholderWithISBN(isbn string) *BookRecord {
	rec := NotAvailableRecord()
	rec.ISBN = isbn
	return rec
}

// Candidate is one search-result teaser entry, decoded from the retailer's
// data-val JSON payload.
type Candidate struct {
	ID      string   `json:"Id"`
	Name    string   `json:"Name"`
	Authors []string `json:"Authors"`
	Work    string   `json:"Work"`
	URL     string   `json:"Url"`
}

// RatingRecord carries the rating fields and recommendation identifiers
// harvested during a recommendations-only refresh pass.
type RatingRecord struct {
	Rating          float64
	NumOfRatings    int
	Recommendations []string
}
